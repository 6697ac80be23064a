package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/logging"
	"github.com/ledgersync/replicator/pkg/row"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Config{Path: filepath.Join(dir, "replicator.db")}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBootstrapCreatesDeclaredTables(t *testing.T) {
	s := openTestStore(t)
	assert.Equal(t, 0, s.TableCount("mst_ledger"))
	assert.Equal(t, 0, s.TableCount("trn_voucher"))
}

func TestEnsureCompanyColumnIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))

	cols, err := s.columnSet("mst_ledger")
	require.NoError(t, err)
	assert.True(t, cols[companyColumn])
}

func TestBulkInsertAutoAddsColumnsAndBatches(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))

	rows := []row.Row{
		{"guid": "g1", "name": "Cash", "alias": "", "_company": "Acme"},
		{"guid": "g2", "name": "Bank", "alias": "BNK", "_company": "Acme"},
	}
	n, err := s.BulkInsert("mst_ledger", rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, s.TableCount("mst_ledger"))
}

func TestTruncateScopedByCompany(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))
	_, err := s.BulkInsert("mst_ledger", []row.Row{
		{"guid": "g1", "name": "Cash", "_company": "Acme"},
		{"guid": "g2", "name": "Bank", "_company": "Beta"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Truncate("mst_ledger", "Acme"))
	assert.Equal(t, 1, s.TableCount("mst_ledger"))
}

func TestUpsertAndRowExists(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))

	r := row.Row{"guid": "g1", "name": "Cash", "_company": "Acme"}
	require.NoError(t, s.Upsert("mst_ledger", r))

	exists, err := s.RowExists("mst_ledger", "g1", "Acme")
	require.NoError(t, err)
	assert.True(t, exists)

	r["name"] = "Cash In Hand"
	require.NoError(t, s.Upsert("mst_ledger", r))
	assert.Equal(t, 1, s.TableCount("mst_ledger"))
}

func TestCascadeAndDelete(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("trn_voucher"))
	require.NoError(t, s.EnsureCompanyColumn("trn_accounting"))

	_, err := s.BulkInsert("trn_voucher", []row.Row{{"guid": "v1", "_company": "Acme"}})
	require.NoError(t, err)
	_, err = s.BulkInsert("trn_accounting", []row.Row{
		{"guid": "v1", "ledger": "Cash", "amount": 100.0, "_company": "Acme"},
	})
	require.NoError(t, err)

	err = s.CascadeAndDelete("trn_voucher", "v1", "Acme", []CascadeRule{
		{Table: "trn_accounting", ForeignColumn: "guid"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, s.TableCount("trn_voucher"))
	assert.Equal(t, 0, s.TableCount("trn_accounting"))
}

func TestStageDeletionsForReturnsGuidsAbsentFromDiff(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureCompanyColumn("mst_ledger"))
	_, err := s.BulkInsert("mst_ledger", []row.Row{
		{"guid": "g1", "name": "Cash", "_company": "Acme"},
		{"guid": "g2", "name": "Bank", "_company": "Acme"},
	})
	require.NoError(t, err)

	require.NoError(t, s.StageDiff(map[string]int64{"g1": 1}))
	deleted, err := s.StageDeletionsFor("mst_ledger", "Acme")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, deleted)
}

func TestLegacyAlterIDFallback(t *testing.T) {
	s := openTestStore(t)
	_, err := s.db.Exec("INSERT INTO config (name, value) VALUES (?, ?)", "alter_id_master_Acme", "42")
	require.NoError(t, err)

	n, ok := s.LegacyAlterID("Acme", LegacyAlterIDMaster)
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	_, ok = s.LegacyAlterID("Unknown", LegacyAlterIDMaster)
	assert.False(t, ok)
}

func TestConvertTypesRewritesVendorTypes(t *testing.T) {
	sql := convertTypes([]byte("CREATE TABLE foo (a nvarchar(50), b tinyint, c decimal(10,2));\nCREATE INDEX idx_foo ON foo(a);"))
	assert.Contains(t, sql, "CREATE TABLE IF NOT EXISTS foo")
	assert.Contains(t, sql, "CREATE INDEX IF NOT EXISTS idx_foo")
	assert.Contains(t, sql, "a TEXT")
	assert.Contains(t, sql, "b INTEGER")
	assert.Contains(t, sql, "c REAL")
}
