package reportbuilder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/tablespec"
)

func ledgerSpec() tablespec.TableSpec {
	return tablespec.TableSpec{
		Name:       "mst_ledger",
		Collection: "Ledger",
		Nature:     tablespec.Primary,
		Fields: []tablespec.FieldSpec{
			{Name: "guid", Expr: "Guid", Kind: tablespec.KindText},
			{Name: "name", Expr: "Name", Kind: tablespec.KindText},
			{Name: "closing_balance", Expr: "ClosingBalance", Kind: tablespec.KindAmount},
		},
		Fetch:   []string{"Alias"},
		Filters: []string{"$$IsEqual:##SVCurrentCompany:$Name"},
	}
}

func TestRequestEmitsPositionalFieldsAndTags(t *testing.T) {
	payload := New().Request(ledgerSpec(), "2024-04-01", "2025-03-31", "ACME")

	assert.Contains(t, payload, `<SVFROMDATE>20240401</SVFROMDATE>`)
	assert.Contains(t, payload, `<SVTODATE>20250331</SVTODATE>`)
	assert.Contains(t, payload, `<SVCURRENTCOMPANY>ACME</SVCURRENTCOMPANY>`)
	assert.Contains(t, payload, `<FIELD NAME="Fld01">`)
	assert.Contains(t, payload, `<XMLTAG>F01</XMLTAG>`)
	assert.Contains(t, payload, `<XMLTAG>F03</XMLTAG>`)
	assert.Contains(t, payload, `<TYPE>Ledger</TYPE>`)
	assert.Contains(t, payload, `<FETCH>Alias</FETCH>`)
	assert.Contains(t, payload, `<FILTER>Fltr01</FILTER>`)
	assert.Contains(t, payload, `<SYSTEM TYPE="Formulae" NAME="Fltr01">`)
}

func TestRequestOmitsCompanyWhenEmpty(t *testing.T) {
	payload := New().Request(ledgerSpec(), "2024-04-01", "2025-03-31", "")
	assert.NotContains(t, payload, "SVCURRENTCOMPANY")
}

func TestFieldTemplatesPerKind(t *testing.T) {
	spec := tablespec.TableSpec{
		Name:       "mst_x",
		Collection: "Ledger",
		Nature:     tablespec.Primary,
		Fields: []tablespec.FieldSpec{
			{Name: "is_revenue", Expr: "IsRevenue", Kind: tablespec.KindLogical},
			{Name: "opening", Expr: "OpeningBalance", Kind: tablespec.KindAmount},
			{Name: "rate", Expr: "Rate", Kind: tablespec.KindRate},
			{Name: "qty", Expr: "BilledQty", Kind: tablespec.KindQuantity},
			{Name: "as_of", Expr: "Date", Kind: tablespec.KindDate},
			{Name: "raw_expr", Expr: "$$StringFindAndReplace:(x):(y):(z)", Kind: tablespec.KindText},
		},
	}
	payload := New().Request(spec, "2024-04-01", "2025-03-31", "ACME")

	assert.Contains(t, payload, "if $IsRevenue then 1 else 0")
	assert.Contains(t, payload, "IsDebit:$OpeningBalance")
	assert.Contains(t, payload, "IsEmpty:$Rate then 0")
	assert.Contains(t, payload, "IsInwards:$BilledQty")
	assert.Contains(t, payload, "StrByCharCode:241")
	// compound expression passes through verbatim, not re-wrapped
	assert.Contains(t, payload, "<SET>$$StringFindAndReplace:(x):(y):(z)</SET>")
}

func TestNestedCollectionEmitsOnePartPerLevel(t *testing.T) {
	spec := tablespec.TableSpec{
		Name:       "trn_ledger_entries",
		Collection: "Voucher.AllLedgerEntries",
		Nature:     tablespec.Secondary,
		Fields: []tablespec.FieldSpec{
			{Name: "ledger_name", Expr: "LedgerName", Kind: tablespec.KindText},
		},
	}
	payload := New().Request(spec, "2024-04-01", "2025-03-31", "ACME")

	assert.Contains(t, payload, `<PART NAME="MyPart01">`)
	assert.Contains(t, payload, `<PART NAME="MyPart02">`)
	assert.Contains(t, payload, `<EXPLODE>MyPart02</EXPLODE>`)
	assert.Contains(t, payload, `<TYPE>Voucher</TYPE>`)
	assert.Contains(t, payload, `MyLine02 : AllLedgerEntries`)
}

func TestIncrementalRequestAppendsAlterIDFilter(t *testing.T) {
	payload := New().IncrementalRequest(ledgerSpec(), "2024-04-01", "2025-03-31", "ACME", 1500)
	assert.Contains(t, payload, "$AlterID > 1500")
}

func TestDiffRequestOnlyRequestsGuidAndAlterID(t *testing.T) {
	payload := New().DiffRequest(ledgerSpec(), "2024-04-01", "2025-03-31", "ACME")
	require.True(t, strings.Count(payload, "<FIELD NAME=") >= 2)
	assert.Contains(t, payload, `<XMLTAG>F01</XMLTAG>`)
	assert.Contains(t, payload, `<XMLTAG>F02</XMLTAG>`)
	assert.NotContains(t, payload, "ClosingBalance")
}
