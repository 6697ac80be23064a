package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/ledgersync/replicator/internal/syncerr"
)

// TableCount reports 0 for a table that doesn't exist rather than erroring,
// matching database_service.py's get_table_count.
func (s *Store) TableCount(table string) int {
	var exists int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&exists)
	if err != nil || exists == 0 {
		return 0
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// TableCounts returns TableCount for every name in tables.
func (s *Store) TableCounts(tables []string) map[string]int {
	out := make(map[string]int, len(tables))
	for _, t := range tables {
		out[t] = s.TableCount(t)
	}
	return out
}

// SizeBytes returns the database file's size on disk, 0 if it cannot be
// stat'd (including the :memory: case).
func (s *Store) SizeBytes() int64 {
	info, err := os.Stat(s.cfg.Path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// SyncedCompany is one row of company_config, the authoritative per-company
// sync bookkeeping record.
type SyncedCompany struct {
	Name                   string
	GUID                   string
	AlterID                int64
	LastAlterIDMaster      int64
	LastAlterIDTransaction int64
	LastSyncAt             string
	SyncCount              int
}

// SyncedCompanies lists every company_config row, ordered by name.
func (s *Store) SyncedCompanies() ([]SyncedCompany, error) {
	rows, err := s.db.Query(`
		SELECT company_name, company_guid, company_alterid, last_alter_id_master,
		       last_alter_id_transaction, COALESCE(last_sync_at, ''), sync_count
		FROM company_config ORDER BY company_name`)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "list synced companies")
	}
	defer rows.Close()

	var out []SyncedCompany
	for rows.Next() {
		var c SyncedCompany
		if err := rows.Scan(&c.Name, &c.GUID, &c.AlterID, &c.LastAlterIDMaster,
			&c.LastAlterIDTransaction, &c.LastSyncAt, &c.SyncCount); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan synced company")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LegacyAlterIDKind names master/transaction in the one-time legacy config
// key-value fallback.
type LegacyAlterIDKind string

const (
	LegacyAlterIDMaster      LegacyAlterIDKind = "master"
	LegacyAlterIDTransaction LegacyAlterIDKind = "transaction"
)

// LegacyAlterID reads a pre-company_config alter-id out of the legacy
// key-value config table, consulted only when company_config has no row
// yet for a company — a one-time migration fallback, per the Open Question
// resolution, never written to going forward.
func (s *Store) LegacyAlterID(company string, kind LegacyAlterIDKind) (int64, bool) {
	key := "alter_id_" + string(kind) + "_" + company
	var value string
	if err := s.db.QueryRow("SELECT value FROM config WHERE name = ?", key).Scan(&value); err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// CompareSchema returns a unified diff between the live database's table
// definitions and the declarative schema file's, surfaced as a diagnostic
// rather than enforced — schema drift (a manually added column, say) is
// common in a long-lived deployment and isn't itself an error.
func (s *Store) CompareSchema() (string, error) {
	liveRows, err := s.db.Query("SELECT sql FROM sqlite_master WHERE type IN ('table','index') AND sql IS NOT NULL ORDER BY name")
	if err != nil {
		return "", syncerr.Wrap(syncerr.KindStoreWrite, component, err, "read live schema")
	}
	defer liveRows.Close()

	var live strings.Builder
	for liveRows.Next() {
		var stmt string
		if err := liveRows.Scan(&stmt); err != nil {
			return "", syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan live schema row")
		}
		live.WriteString(stmt)
		live.WriteString(";\n")
	}

	declared, err := s.loadSchemaSource()
	if err != nil {
		return "", err
	}

	edits := myers.ComputeEdits(span.URIFromPath("declared.sql"), string(declared), live.String())
	diff := gotextdiff.ToUnified("declared.sql", "live.sql", string(declared), edits)
	return fmt.Sprint(diff), nil
}
