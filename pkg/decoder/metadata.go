package decoder

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ledgersync/replicator/internal/syncerr"
)

// CompanyInfo is one entry from the "list of companies" report, ported
// from tally_service.py's _parse_company_list.
type CompanyInfo struct {
	Name      string
	Number    string
	BooksFrom string
	BooksTo   string
}

var companyNameRe = regexp.MustCompile(`<FLDCOMPANYNAME>`)
var companyFieldRes = map[string]*regexp.Regexp{
	"name":   regexp.MustCompile(`<FLDCOMPANYNAME>(.*?)</FLDCOMPANYNAME>`),
	"number": regexp.MustCompile(`<FLDCOMPANYNUMBER>(.*?)</FLDCOMPANYNUMBER>`),
	"from":   regexp.MustCompile(`<FLDBOOKSFROM>(.*?)</FLDBOOKSFROM>`),
	"to":     regexp.MustCompile(`<FLDBOOKSTO>(.*?)</FLDBOOKSTO>`),
}

// DecodeCompanyList parses the flat FLDCOMPANYNAME/FLDCOMPANYNUMBER/
// FLDBOOKSFROM/FLDBOOKSTO response from list_companies. Each occurrence of
// FLDCOMPANYNAME marks the start of a new record, the same boundary rule
// ResponseDecoder applies to <F01>.
func (Decoder) DecodeCompanyList(response string) ([]CompanyInfo, error) {
	response = stripBOM(response)
	starts := companyNameRe.FindAllStringIndex(response, -1)
	if len(starts) == 0 {
		return []CompanyInfo{}, nil
	}

	out := make([]CompanyInfo, 0, len(starts))
	for i, s := range starts {
		end := len(response)
		if i+1 < len(starts) {
			end = starts[i+1][0]
		}
		slice := response[s[0]:end]
		out = append(out, CompanyInfo{
			Name:      extractTag(companyFieldRes["name"], slice),
			Number:    extractTag(companyFieldRes["number"], slice),
			BooksFrom: extractTag(companyFieldRes["from"], slice),
			BooksTo:   extractTag(companyFieldRes["to"], slice),
		})
	}
	return out, nil
}

// CurrentCompany is the single-row response from current_company_info,
// ported from tally_service.py's _parse_company_info.
type CurrentCompany struct {
	Name            string
	BooksFrom       string
	LastVoucherDate string
	GUID            string
	AlterID         int64
}

var currentCompanyRes = map[string]*regexp.Regexp{
	"name":    regexp.MustCompile(`<FLDNAME>(.*?)</FLDNAME>`),
	"from":    regexp.MustCompile(`<FLDBOOKSFROM>(.*?)</FLDBOOKSFROM>`),
	"lastvch": regexp.MustCompile(`<FLDLASTVOUCHERDATE>(.*?)</FLDLASTVOUCHERDATE>`),
	"guid":    regexp.MustCompile(`<FLDGUID>(.*?)</FLDGUID>`),
	"alterid": regexp.MustCompile(`<FLDALTERID>(.*?)</FLDALTERID>`),
}

// DecodeCurrentCompany parses the single-row "current company" report.
func (Decoder) DecodeCurrentCompany(response string) (CurrentCompany, error) {
	response = stripBOM(response)
	alterIDRaw := extractTag(currentCompanyRes["alterid"], response)
	alterID, _ := strconv.ParseInt(strings.TrimSpace(alterIDRaw), 10, 64)
	return CurrentCompany{
		Name:            extractTag(currentCompanyRes["name"], response),
		BooksFrom:       extractTag(currentCompanyRes["from"], response),
		LastVoucherDate: extractTag(currentCompanyRes["lastvch"], response),
		GUID:            extractTag(currentCompanyRes["guid"], response),
		AlterID:         alterID,
	}, nil
}

// DecodeAlterIDs parses the comma-delimited "master,transaction" response
// used by last_alter_ids, stripping surrounding quotes the ASCII export
// format wraps each field in.
func (Decoder) DecodeAlterIDs(response string) (master, transaction int64, err error) {
	response = stripBOM(response)
	line := strings.TrimRight(strings.SplitN(response, "\r\n", 2)[0], "\r\n")
	parts := strings.SplitN(line, ",", 2)
	if len(parts) != 2 {
		return 0, 0, syncerr.New(syncerr.KindDecode, component, "malformed alter-id response %q", response)
	}
	master, err1 := strconv.ParseInt(unquote(parts[0]), 10, 64)
	transaction, err2 := strconv.ParseInt(unquote(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, syncerr.New(syncerr.KindDecode, component, "non-numeric alter-id response %q", response)
	}
	return master, transaction, nil
}

// DecodeTabular is the fallback decoder for metadata reports exported in
// the tab-separated ASCII format rather than XML, ported from
// sync_service.py's parse_tabular_response. Same null-sentinel handling.
func (Decoder) DecodeTabular(response string, columns []string) [][]string {
	response = stripBOM(response)
	lines := strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n")
	out := make([][]string, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := strings.Split(line, "\t")
		row := make([]string, len(columns))
		for i := range columns {
			if i < len(cells) {
				v := unquote(cells[i])
				if v == nullSentinel {
					v = ""
				}
				row[i] = v
			}
		}
		out = append(out, row)
	}
	return out
}

func extractTag(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	return s
}
