package tablespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
master:
  - name: mst_ledger
    collection: Ledger
    nature: Primary
    fields:
      - field: $Guid
        type: text
      - field: $Name
      - field: $AlterID
        type: number
transaction:
  - name: trn_voucher
    collection: Voucher
    nature: Primary
    fields:
      - field: $Guid
      - field: $Date
        type: date
    cascade_delete:
      - table: trn_voucher_ledger_entries
        foreign_column: voucher_guid
`

func TestParseAppliesDefaultsAndDerivesNames(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, doc.Master, 1)

	ledger := doc.Master[0]
	assert.Equal(t, Primary, ledger.Nature)
	assert.Equal(t, "guid", ledger.Fields[0].Name)
	assert.Equal(t, KindText, ledger.Fields[0].Kind) // explicit
	assert.Equal(t, "name", ledger.Fields[1].Name)
	assert.Equal(t, KindText, ledger.Fields[1].Kind) // defaulted
	assert.Equal(t, KindNumber, ledger.Fields[2].Kind)
}

func TestParseRejectsSecondaryWithCascade(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	bad := doc.Transaction[0]
	bad.Nature = Secondary
	err = Validate(Document{Transaction: []TableSpec{bad}})
	assert.Error(t, err)
}

func TestParseRejectsMissingCollection(t *testing.T) {
	_, err := Parse([]byte(`
master:
  - name: mst_bad
    nature: Primary
    fields:
      - field: $Guid
`))
	assert.Error(t, err)
}

func TestIsSimpleExpr(t *testing.T) {
	assert.True(t, IsSimpleExpr("GUID"))
	assert.True(t, IsSimpleExpr("..Name"))
	assert.False(t, IsSimpleExpr("$$StringFindAndReplace:(x):(y)"))
}

func TestDocumentAllPreservesOrder(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	all := doc.All()
	require.Len(t, all, 2)
	assert.Equal(t, "mst_ledger", all[0].Name)
	assert.Equal(t, "trn_voucher", all[1].Name)
}
