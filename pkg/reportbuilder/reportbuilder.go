// Package reportbuilder turns a tablespec.TableSpec into the Gateway's
// report-definition payload. It is a direct port of xml_builder.py's
// generateXMLfromYAML logic: a collection path split into nested report
// parts, one field per FieldSpec with a position-indexed name/tag pair, and
// a kind-specific expression template for bare attribute references.
package reportbuilder

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/ledgersync/replicator/pkg/tablespec"
)

// Builder emits Gateway report-definition payloads. It carries no state —
// every call is a pure function of its arguments — but is a struct (rather
// than a package-level function) so it can be swapped in tests and so its
// zero value is a valid, ready-to-use collaborator.
type Builder struct{}

// New returns a ready-to-use Builder.
func New() Builder {
	return Builder{}
}

// Request builds the payload for one TableSpec, scoped to the given
// from/to dates (YYYY-MM-DD) and target company. An empty company omits
// the SVCURRENTCOMPANY static variable, matching the source's behaviour of
// using the Gateway's currently open company when none is named.
func (Builder) Request(spec tablespec.TableSpec, fromDate, toDate, company string) string {
	var b strings.Builder

	svFrom := strings.ReplaceAll(fromDate, "-", "")
	svTo := strings.ReplaceAll(toDate, "-", "")

	b.WriteString(`<?xml version="1.0" encoding="utf-8"?><ENVELOPE><HEADER><VERSION>1</VERSION><TALLYREQUEST>Export</TALLYREQUEST><TYPE>Data</TYPE><ID>GatewayReplicatorReport</ID></HEADER><BODY><DESC><STATICVARIABLES><SVEXPORTFORMAT>XML (Data Interchange)</SVEXPORTFORMAT>`)
	fmt.Fprintf(&b, `<SVFROMDATE>%s</SVFROMDATE><SVTODATE>%s</SVTODATE>`, svFrom, svTo)
	if company != "" {
		fmt.Fprintf(&b, `<SVCURRENTCOMPANY>%s</SVCURRENTCOMPANY>`, html.EscapeString(company))
	}
	b.WriteString(`</STATICVARIABLES><TDL><TDLMESSAGE><REPORT NAME="GatewayReplicatorReport"><FORMS>MyForm</FORMS></REPORT><FORM NAME="MyForm"><PARTS>MyPart01</PARTS></FORM>`)

	routes := splitCollection(spec.Collection)
	rootType := routes[0]
	levels := append([]string{"MyCollection"}, routes[1:]...)

	for i, route := range levels {
		part := positional("MyPart", i+1)
		line := positional("MyLine", i+1)
		fmt.Fprintf(&b, `<PART NAME="%s"><LINES>%s</LINES><REPEAT>%s : %s</REPEAT><SCROLLED>Vertical</SCROLLED></PART>`, part, line, line, route)
	}

	for i := 0; i < len(levels)-1; i++ {
		line := positional("MyLine", i+1)
		nextPart := positional("MyPart", i+2)
		fmt.Fprintf(&b, `<LINE NAME="%s"><FIELDS>FldBlank</FIELDS><EXPLODE>%s</EXPLODE></LINE>`, line, nextPart)
	}

	terminalLine := positional("MyLine", len(levels))
	fmt.Fprintf(&b, `<LINE NAME="%s"><FIELDS>`, terminalLine)
	names := make([]string, len(spec.Fields))
	for i := range spec.Fields {
		names[i] = positional("Fld", i+1)
	}
	b.WriteString(strings.Join(names, ","))
	b.WriteString(`</FIELDS></LINE>`)

	for i, f := range spec.Fields {
		fieldName := positional("Fld", i+1)
		tag := positional("F", i+1)
		fmt.Fprintf(&b, `<FIELD NAME="%s"><SET>%s</SET><XMLTAG>%s</XMLTAG></FIELD>`, fieldName, expressionFor(f), tag)
	}
	b.WriteString(`<FIELD NAME="FldBlank"><SET>""</SET></FIELD>`)

	fmt.Fprintf(&b, `<COLLECTION NAME="MyCollection"><TYPE>%s</TYPE>`, rootType)
	if len(spec.Fetch) > 0 {
		fmt.Fprintf(&b, `<FETCH>%s</FETCH>`, strings.Join(spec.Fetch, ","))
	}
	if len(spec.Filters) > 0 {
		filterNames := make([]string, len(spec.Filters))
		for j := range spec.Filters {
			filterNames[j] = positional("Fltr", j+1)
		}
		fmt.Fprintf(&b, `<FILTER>%s</FILTER>`, strings.Join(filterNames, ","))
	}
	b.WriteString(`</COLLECTION>`)

	for j, filter := range spec.Filters {
		fmt.Fprintf(&b, `<SYSTEM TYPE="Formulae" NAME="%s">%s</SYSTEM>`, positional("Fltr", j+1), filter)
	}

	b.WriteString(`</TDLMESSAGE></TDL></DESC></BODY></ENVELOPE>`)
	return b.String()
}

// IncrementalRequest is Request with an extra "$AlterID > sinceAlterID"
// filter appended — used by the Synchronizer's incremental import phase.
func (b Builder) IncrementalRequest(spec tablespec.TableSpec, fromDate, toDate, company string, sinceAlterID int64) string {
	augmented := spec
	augmented.Filters = append(append([]string{}, spec.Filters...), fmt.Sprintf("$AlterID > %d", sinceAlterID))
	return b.Request(augmented, fromDate, toDate, company)
}

// DiffRequest builds a synthetic TableSpec requesting only (guid, alter_id)
// against the same collection and filters as spec — used by the
// Synchronizer's diff phase to populate the _diff staging table without
// pulling every column.
func (b Builder) DiffRequest(spec tablespec.TableSpec, fromDate, toDate, company string) string {
	synthetic := tablespec.TableSpec{
		Name:       spec.Name + "__diff",
		Collection: spec.Collection,
		Nature:     spec.Nature,
		Fetch:      spec.Fetch,
		Filters:    spec.Filters,
		Fields: []tablespec.FieldSpec{
			{Name: "guid", Expr: "Guid", Kind: tablespec.KindText},
			{Name: "alter_id", Expr: "AlterID", Kind: tablespec.KindNumber},
		},
	}
	return b.Request(synthetic, fromDate, toDate, company)
}

func expressionFor(f tablespec.FieldSpec) string {
	if !tablespec.IsSimpleExpr(f.Expr) {
		return f.Expr
	}
	switch f.Kind {
	case tablespec.KindLogical:
		return fmt.Sprintf("if $%s then 1 else 0", f.Expr)
	case tablespec.KindDate:
		return fmt.Sprintf(`if $$IsEmpty:$%s then $$StrByCharCode:241 else $$PyrlYYYYMMDDFormat:$%s:"-"`, f.Expr, f.Expr)
	case tablespec.KindNumber:
		return fmt.Sprintf(`if $$IsEmpty:$%s then "0" else $$String:$%s`, f.Expr, f.Expr)
	case tablespec.KindAmount:
		return fmt.Sprintf(`$$StringFindAndReplace:(if $$IsDebit:$%s then -$$NumValue:$%s else $$NumValue:$%s):"(-)":"-"`, f.Expr, f.Expr, f.Expr)
	case tablespec.KindQuantity:
		return fmt.Sprintf(`$$StringFindAndReplace:(if $$IsInwards:$%s then $$Number:$$String:$%s:"TailUnits" else -$$Number:$$String:$%s:"TailUnits"):"(-)":"-"`, f.Expr, f.Expr, f.Expr)
	case tablespec.KindRate:
		return fmt.Sprintf("if $$IsEmpty:$%s then 0 else $$Number:$%s", f.Expr, f.Expr)
	case tablespec.KindText:
		fallthrough
	default:
		return "$" + f.Expr
	}
}

// splitCollection breaks a dotted collection path like "Voucher.AllLedgerEntries"
// into its levels, always returning at least one element.
func splitCollection(collection string) []string {
	if collection == "" {
		return []string{""}
	}
	return strings.Split(collection, ".")
}

// positional renders a name like "MyPart00" with n zero-padded into the
// trailing zero run, e.g. positional("MyPart", 1) == "MyPart01".
func positional(prefix string, n int) string {
	width := 2
	return prefix + pad(strconv.Itoa(n), width)
}

func pad(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
