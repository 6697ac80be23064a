package row

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	orig := Row{"guid": "g-1", "name": "Acme"}
	clone := orig.Clone()

	if diff := cmp.Diff(map[string]any(orig), map[string]any(clone)); diff != "" {
		t.Fatalf("clone diverged from original before mutation (-want +got):\n%s", diff)
	}

	clone["name"] = "Zenith"
	assert.Equal(t, "Acme", orig["name"], "mutating the clone must not affect the original")
}

func TestWithCompanyStampsColumnWithoutMutatingReceiver(t *testing.T) {
	orig := Row{"guid": "g-1"}
	stamped := orig.WithCompany("Acme Traders")

	assert.NotContains(t, orig, CompanyColumn)
	assert.Equal(t, "Acme Traders", stamped[CompanyColumn])
}

func TestGuidAndAlterIDCoercion(t *testing.T) {
	r := Row{GuidColumn: "g-1", AlterIDColumn: float64(42)}
	assert.Equal(t, "g-1", r.Guid())
	assert.Equal(t, int64(42), r.AlterID())

	assert.Equal(t, int64(0), Row{}.AlterID())
}

func TestJSONRoundTripsAndNilIsNull(t *testing.T) {
	r := Row{"guid": "g-1", "amount": 12.5}
	b, err := r.JSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"guid":"g-1","amount":12.5}`, string(b))

	nilBytes, err := Row(nil).JSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(nilBytes))
}

func TestChangedColumnsReportsOnlyDivergentAfterKeys(t *testing.T) {
	before := Row{"name": "Acme", "opening_balance": 100.0, "email": "old@example.com"}
	after := Row{"name": "Acme", "opening_balance": 250.0, "pan": "ABCDE1234F"}

	changed := ChangedColumns(before, after)
	sort.Strings(changed)
	assert.Equal(t, []string{"opening_balance", "pan"}, changed)
}
