package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/row"
)

// companyColumn names the implicit multi-tenancy column every replicated
// table is ALTERed to carry, independent of whatever the declarative schema
// file's CREATE TABLE statements name explicitly.
const companyColumn = row.CompanyColumn

// EnsureCompanyColumn adds a nullable _company TEXT column to table if it
// is missing, matching database_service.py's _ensure_company_column_exists
// applied per-table instead of in one sweep.
func (s *Store) EnsureCompanyColumn(table string) error {
	return s.ensureColumns(table, []string{companyColumn})
}

func (s *Store) ensureColumns(table string, columns []string) error {
	existing, err := s.columnSet(table)
	if err != nil {
		return err
	}
	for _, col := range columns {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT DEFAULT ''", quoteIdent(table), quoteIdent(col))
		if _, err := s.db.Exec(stmt); err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "add column %s.%s", table, col)
		}
		existing[col] = true
	}
	return nil
}

func (s *Store) columnSet(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "inspect table %s", table)
	}
	defer rows.Close()

	set := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan table_info(%s)", table)
		}
		set[name] = true
	}
	return set, rows.Err()
}

// Truncate deletes all rows from table, scoped to company when a _company
// column exists and company is non-empty.
func (s *Store) Truncate(table, company string) error {
	if company == "" {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", quoteIdent(table)))
		if err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "truncate %s", table)
		}
		return nil
	}

	cols, err := s.columnSet(table)
	if err != nil {
		return err
	}
	if !cols[companyColumn] {
		_, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", quoteIdent(table)))
		if err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "truncate %s", table)
		}
		return nil
	}
	_, err = s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(table), companyColumn), company)
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "truncate %s for company %s", table, company)
	}
	return nil
}

// bulkInsertBatchSize mirrors config.sync.batch_size's default in the
// source system.
const bulkInsertBatchSize = 500

// BulkInsert inserts rows into table in batches, auto-adding any column
// present in the row set but missing from the table first. A row with no
// entries is skipped rather than producing a zero-column INSERT.
func (s *Store) BulkInsert(table string, rows []row.Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	columns := columnUnion(rows)
	if err := s.ensureColumns(table, columns); err != nil {
		return 0, err
	}

	placeholders := make([]string, len(columns))
	for i := range columns {
		placeholders[i] = "?"
	}
	quotedCols := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table),
		strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	prepared, err := s.db.Prepare(stmt)
	if err != nil {
		return 0, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "prepare bulk insert into %s", table)
	}
	defer prepared.Close()

	inserted := 0
	for start := 0; start < len(rows); start += bulkInsertBatchSize {
		end := min(start+bulkInsertBatchSize, len(rows))
		for _, r := range rows[start:end] {
			args := make([]any, len(columns))
			for i, c := range columns {
				args[i] = r[c]
			}
			if _, err := prepared.Exec(args...); err != nil {
				return inserted, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "insert into %s", table)
			}
			inserted++
		}
	}
	return inserted, nil
}

// Upsert inserts or replaces a single Primary-table row keyed by guid,
// auto-adding unknown columns first. Used by incremental sync's import
// phase where existence is checked separately to drive INSERT-vs-UPDATE
// audit classification.
func (s *Store) Upsert(table string, r row.Row) error {
	if len(r) == 0 {
		return nil
	}
	columns := columnUnion([]row.Row{r})
	if err := s.ensureColumns(table, columns); err != nil {
		return err
	}

	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		quotedCols[i] = quoteIdent(c)
		placeholders[i] = "?"
		args[i] = r[c]
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", quoteIdent(table),
		strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.db.Exec(stmt, args...); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "upsert into %s", table)
	}
	return nil
}

// RowExists reports whether table already holds a row with the given guid
// for company, the existence check that drives INSERT-vs-UPDATE audit
// classification during incremental import.
func (s *Store) RowExists(table, guid, company string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE guid = ? AND %s = ?", quoteIdent(table), companyColumn),
		guid, company,
	).Scan(&n)
	if err != nil {
		return false, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "check existence in %s", table)
	}
	return n > 0, nil
}

// FetchRow returns the current stored row for guid/company, or nil if
// absent — used to capture a before-snapshot ahead of an UPDATE/DELETE.
func (s *Store) FetchRow(table, guid, company string) (row.Row, error) {
	cols, err := s.columnNames(table)
	if err != nil {
		return nil, err
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE guid = ? AND %s = ?", strings.Join(quoted, ", "), quoteIdent(table), companyColumn)

	dest := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	err = s.db.QueryRow(q, guid, company).Scan(ptrs...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "fetch row from %s", table)
	}

	out := make(row.Row, len(cols))
	for i, c := range cols {
		out[c] = dest[i]
	}
	return out, nil
}

func (s *Store) columnNames(table string) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "inspect table %s", table)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan table_info(%s)", table)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteRow removes a single row by guid/company, used after the before
// snapshot and DELETE audit have been captured.
func (s *Store) DeleteRow(table, guid, company string) error {
	_, err := s.db.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE guid = ? AND %s = ?", quoteIdent(table), companyColumn),
		guid, company,
	)
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "delete from %s", table)
	}
	return nil
}

// cascadeDelete removes every row in childTable whose foreignColumn matches
// guid, for use when a Primary row's deletion purges its Secondary
// children. Runs inside the caller's transaction tx; CascadeAndDelete
// wraps the whole guid's cascade in one transaction.
func (s *Store) cascadeDelete(tx *sql.Tx, childTable, foreignColumn, guid string) error {
	_, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(childTable), quoteIdent(foreignColumn)), guid)
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "cascade delete from %s", childTable)
	}
	return nil
}

// CascadeRule names one child table purged when its parent Primary row is
// removed — store.go's own copy of tablespec.CascadeRule's shape, kept
// independent so store does not import tablespec for a two-field struct.
type CascadeRule struct {
	Table         string
	ForeignColumn string
}

// CascadeAndDelete atomically deletes the primary row (table, guid,
// company) and every row named by rules whose ForeignColumn equals guid.
func (s *Store) CascadeAndDelete(table, guid, company string, rules []CascadeRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "begin cascade delete transaction")
	}
	defer tx.Rollback()

	for _, rule := range rules {
		if err := s.cascadeDelete(tx, rule.Table, rule.ForeignColumn, guid); err != nil {
			return err
		}
	}
	_, err = tx.Exec(
		fmt.Sprintf("DELETE FROM %s WHERE guid = ? AND %s = ?", quoteIdent(table), companyColumn),
		guid, company,
	)
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "delete primary row from %s", table)
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "commit cascade delete")
	}
	return nil
}

// StageDiff clears _diff and repopulates it with the guid/alter_id pairs
// the Gateway reports for one changed Primary table, ahead of comparing
// against what the store currently holds.
func (s *Store) StageDiff(pairs map[string]int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "begin stage_diff transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM _diff"); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "clear _diff")
	}
	stmt, err := tx.Prepare("INSERT INTO _diff (guid, alter_id) VALUES (?, ?)")
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "prepare _diff insert")
	}
	defer stmt.Close()
	for guid, alterID := range pairs {
		if _, err := stmt.Exec(guid, alterID); err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "stage diff row %s", guid)
		}
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "commit stage_diff")
	}
	return nil
}

// StageDeletionsFor clears _delete and repopulates it with the guids held
// by table/company that are absent from the Gateway's current _diff set —
// the rows the Gateway no longer reports, which incremental sync treats as
// deletions.
func (s *Store) StageDeletionsFor(table, company string) ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "begin stage_deletions transaction")
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM _delete"); err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "clear _delete")
	}

	q := fmt.Sprintf(
		"INSERT INTO _delete (guid) SELECT t.guid FROM %s t WHERE t.%s = ? AND t.guid NOT IN (SELECT guid FROM _diff)",
		quoteIdent(table), companyColumn,
	)
	if _, err := tx.Exec(q, company); err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "stage deletions for %s", table)
	}

	rows, err := tx.Query("SELECT guid FROM _delete")
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "read staged deletions")
	}
	var guids []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			rows.Close()
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan staged deletion")
		}
		guids = append(guids, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "commit stage_deletions")
	}
	return guids, nil
}

func columnUnion(rows []row.Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for c := range r {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

// quoteIdent wraps an identifier in double quotes so table/column names
// that happen to collide with a keyword (or start with an underscore,
// like _diff) remain valid SQL.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
