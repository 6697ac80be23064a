package gatewayclient

// Fixed report-definition templates for the small metadata calls that do
// not go through ReportBuilder/TableSpec — ported from tally_service.py's
// test_connection/get_open_companies/get_company_info/get_last_alter_ids.

const listCompaniesTemplate = `<?xml version="1.0" encoding="utf-8"?><ENVELOPE><HEADER><VERSION>1</VERSION><TALLYREQUEST>Export</TALLYREQUEST><TYPE>Data</TYPE><ID>List of Companies</ID></HEADER><BODY><DESC><STATICVARIABLES><SVEXPORTFORMAT>$$SysName:XML</SVEXPORTFORMAT></STATICVARIABLES><TDL><TDLMESSAGE><REPORT NAME="List of Companies"><FORMS>MyCompanyList</FORMS></REPORT><FORM NAME="MyCompanyList"><PARTS>MyCompanyList</PARTS></FORM><PART NAME="MyCompanyList"><LINES>MyCompanyList</LINES><REPEAT>MyCompanyList : Company</REPEAT><SCROLLED>Vertical</SCROLLED></PART><LINE NAME="MyCompanyList"><FIELDS>FldCompanyName,FldCompanyNumber,FldBooksFrom,FldBooksTo</FIELDS></LINE><FIELD NAME="FldCompanyName"><SET>$Name</SET><XMLTAG>FLDCOMPANYNAME</XMLTAG></FIELD><FIELD NAME="FldCompanyNumber"><SET>$CompanyNumber</SET><XMLTAG>FLDCOMPANYNUMBER</XMLTAG></FIELD><FIELD NAME="FldBooksFrom"><SET>$$PyrlYYYYMMDD:$BooksFrom</SET><XMLTAG>FLDBOOKSFROM</XMLTAG></FIELD><FIELD NAME="FldBooksTo"><SET>$$PyrlYYYYMMDD:$BooksTo</SET><XMLTAG>FLDBOOKSTO</XMLTAG></FIELD></TDLMESSAGE></TDL></DESC></BODY></ENVELOPE>`

const currentCompanyTemplate = `<?xml version="1.0" encoding="UTF-16"?><ENVELOPE><HEADER><VERSION>1</VERSION><TALLYREQUEST>Export</TALLYREQUEST><TYPE>Data</TYPE><ID>MyCompany</ID></HEADER><BODY><DESC><STATICVARIABLES><SVEXPORTFORMAT>$$SysName:XML</SVEXPORTFORMAT></STATICVARIABLES><TDL><TDLMESSAGE><REPORT NAME="MyCompany"><FORMS>MyCompany</FORMS></REPORT><FORM NAME="MyCompany"><PARTS>MyCompany</PARTS></FORM><PART NAME="MyCompany"><LINES>MyCompany</LINES><REPEAT>MyCompany : Company</REPEAT><SCROLLED>Vertical</SCROLLED></PART><LINE NAME="MyCompany"><FIELDS>FldName,FldBooksFrom,FldLastVchDate,FldGuid,FldAlterID</FIELDS></LINE><FIELD NAME="FldName"><SET>$Name</SET><XMLTAG>FLDNAME</XMLTAG></FIELD><FIELD NAME="FldBooksFrom"><SET>$$PyrlYYYYMMDD:$BooksFrom</SET><XMLTAG>FLDBOOKSFROM</XMLTAG></FIELD><FIELD NAME="FldLastVchDate"><SET>$$PyrlYYYYMMDD:$LastVoucherDate</SET><XMLTAG>FLDLASTVOUCHERDATE</XMLTAG></FIELD><FIELD NAME="FldGuid"><SET>$Guid</SET><XMLTAG>FLDGUID</XMLTAG></FIELD><FIELD NAME="FldAlterID"><SET>$AlterID</SET><XMLTAG>FLDALTERID</XMLTAG></FIELD></TDLMESSAGE></TDL></DESC></BODY></ENVELOPE>`

const lastAlterIDsTemplate = `<?xml version="1.0" encoding="utf-8"?><ENVELOPE><HEADER><VERSION>1</VERSION><TALLYREQUEST>Export</TALLYREQUEST><TYPE>Data</TYPE><ID>LastAlterIDs</ID></HEADER><BODY><DESC><STATICVARIABLES><SVEXPORTFORMAT>ASCII (Comma Delimited)</SVEXPORTFORMAT></STATICVARIABLES><TDL><TDLMESSAGE><REPORT NAME="LastAlterIDs"><FORMS>MyAlterIDs</FORMS></REPORT><FORM NAME="MyAlterIDs"><PARTS>MyAlterIDs</PARTS></FORM><PART NAME="MyAlterIDs"><LINES>MyAlterIDs</LINES><REPEAT>MyAlterIDs : Company</REPEAT><SCROLLED>Vertical</SCROLLED></PART><LINE NAME="MyAlterIDs"><FIELDS>FldMasterAlterID,FldTransactionAlterID</FIELDS></LINE><FIELD NAME="FldMasterAlterID"><SET>$AltMstId</SET></FIELD><FIELD NAME="FldTransactionAlterID"><SET>$AltVchId</SET></FIELD></TDLMESSAGE></TDL><TDL><TDLMESSAGE><COLLECTION NAME="Company"><FILTER>CurrentCompanyFilter</FILTER></COLLECTION><SYSTEM TYPE="Formulae" NAME="CurrentCompanyFilter">$$IsEqual:##SVCurrentCompany:$Name</SYSTEM></TDLMESSAGE></TDL></DESC></BODY></ENVELOPE>`
