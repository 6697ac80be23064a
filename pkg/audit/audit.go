// Package audit records INSERT/UPDATE/DELETE events emitted during a sync
// into the audit_log and deleted_rows tables, and serves the history,
// statistics, and restore queries built on top of them. It is the Go
// counterpart of audit_service.py's AuditService, rebuilt around
// database/sql instead of aiosqlite and around an explicit Recorder value
// instead of a module-level singleton.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Kong/gojsondiff"
	"github.com/Kong/gojsondiff/formatter"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/row"
)

const component = "audit"

// Kind is one of the three action kinds an audit event records.
type Kind string

const (
	KindInsert Kind = "INSERT"
	KindUpdate Kind = "UPDATE"
	KindDelete Kind = "DELETE"
)

// Event is one audit_log row.
type Event struct {
	SessionID      string
	Kind           Kind
	Table          string
	RowGuid        string
	RowName        string
	Before         row.Row
	After          row.Row
	ChangedColumns []string
	DiffText       string
	Company        string
	GatewayAlterID int64
	OccurredAt     time.Time
}

// Recorder logs sync events and preserves deleted rows for recovery. Every
// Log* method swallows its own errors into a log line rather than
// returning them — an audit failure must never abort the sync it is
// describing, the same contract audit_service.py documents with its bare
// except-and-log blocks around every write. The query and restore methods
// return their errors to the caller.
type Recorder struct {
	db      *sql.DB
	log     logr.Logger
	session string
	company string
}

// NewRecorder wraps db, normally store.Store.DB().
func NewRecorder(db *sql.DB, log logr.Logger) *Recorder {
	return &Recorder{db: db, log: log}
}

// StartSession opens a session scope stamped onto every event logged until
// EndSession, and returns its generated id.
func (r *Recorder) StartSession(kind, company string) string {
	r.session = kind + "_" + time.Now().UTC().Format("20060102_150405") + "_" + uuid.New().String()[:8]
	r.company = company
	r.log.Info("audit session started", "session", r.session)
	return r.session
}

// EndSession closes the current session scope.
func (r *Recorder) EndSession() {
	if r.session != "" {
		r.log.Info("audit session ended", "session", r.session)
	}
	r.session = ""
	r.company = ""
}

// LogInsert records an INSERT event.
func (r *Recorder) LogInsert(table, guid, name string, after row.Row, company string, gatewayAlterID int64) {
	r.logAction(Event{
		SessionID:      r.session,
		Kind:           KindInsert,
		Table:          table,
		RowGuid:        guid,
		RowName:        name,
		After:          after,
		Company:        firstNonEmpty(company, r.company),
		GatewayAlterID: gatewayAlterID,
	})
}

// LogUpdate records an UPDATE event. An update that touched no column is
// not recorded, matching the invariant that an audit UPDATE always reports
// at least one changed column.
func (r *Recorder) LogUpdate(table, guid, name string, before, after row.Row, company string, gatewayAlterID int64) {
	changed := row.ChangedColumns(before, after)
	if len(changed) == 0 {
		return
	}
	r.logAction(Event{
		SessionID:      r.session,
		Kind:           KindUpdate,
		Table:          table,
		RowGuid:        guid,
		RowName:        name,
		Before:         before,
		After:          after,
		ChangedColumns: changed,
		Company:        firstNonEmpty(company, r.company),
		GatewayAlterID: gatewayAlterID,
	})
}

// LogDelete records a DELETE event and preserves the full row for restore.
func (r *Recorder) LogDelete(table, guid, name string, before row.Row, company string) {
	company = firstNonEmpty(company, r.company)
	r.logAction(Event{
		SessionID: r.session,
		Kind:      KindDelete,
		Table:     table,
		RowGuid:   guid,
		RowName:   name,
		Before:    before,
		Company:   company,
	})
	r.storeDeletedRow(table, guid, before, company)
}

func (r *Recorder) logAction(e Event) {
	beforeJSON, err := nullableJSON(e.Before)
	if err != nil {
		r.log.Error(err, "marshal before snapshot", "table", e.Table, "guid", e.RowGuid)
		return
	}
	afterJSON, err := nullableJSON(e.After)
	if err != nil {
		r.log.Error(err, "marshal after snapshot", "table", e.Table, "guid", e.RowGuid)
		return
	}

	var changedJSON sql.NullString
	if len(e.ChangedColumns) > 0 {
		if b, err := json.Marshal(e.ChangedColumns); err == nil {
			changedJSON = sql.NullString{String: string(b), Valid: true}
		}
	}

	var diffText sql.NullString
	if e.Kind == KindUpdate {
		if d, ok := diffString(e.Before, e.After); ok {
			diffText = sql.NullString{String: d, Valid: true}
		}
	}

	var alterID sql.NullInt64
	if e.GatewayAlterID != 0 {
		alterID = sql.NullInt64{Int64: e.GatewayAlterID, Valid: true}
	}

	_, err = r.db.Exec(`
		INSERT INTO audit_log
			(session_id, company, table_name, guid, row_name, action, changed_columns,
			 before_json, after_json, diff_text, gateway_alter_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.Company, e.Table, e.RowGuid, e.RowName, string(e.Kind),
		changedJSON, beforeJSON, afterJSON, diffText, alterID)
	if err != nil {
		r.log.Error(err, "log audit action", "table", e.Table, "guid", e.RowGuid, "action", e.Kind)
	}
}

func (r *Recorder) storeDeletedRow(table, guid string, before row.Row, company string) {
	payload, err := before.JSON()
	if err != nil {
		r.log.Error(err, "marshal deleted row", "table", table, "guid", guid)
		return
	}
	_, err = r.db.Exec(`
		INSERT INTO deleted_rows (company, table_name, guid, row_json)
		VALUES (?, ?, ?, ?)`, company, table, guid, string(payload))
	if err != nil {
		r.log.Error(err, "store deleted row", "table", table, "guid", guid)
	}
}

// diffString renders a human-readable diff of before/after, using the
// column-level description gojsondiff produces. Returns ok=false when
// either snapshot is absent or the comparison finds no modification.
func diffString(before, after row.Row) (string, bool) {
	if before == nil || after == nil {
		return "", false
	}
	d := gojsondiff.New().CompareObjects(map[string]any(before), map[string]any(after))
	if !d.Modified() {
		return "", false
	}
	f := formatter.NewAsciiFormatter(map[string]any(before), formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	})
	out, err := f.Format(d)
	if err != nil {
		return "", false
	}
	return out, true
}

func nullableJSON(r row.Row) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := r.JSON()
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// DeletedRow is one deleted_rows entry, available for restore.
type DeletedRow struct {
	ID         int64
	Company    string
	Table      string
	Guid       string
	RowJSON    string
	DeletedAt  string
	RestoredAt sql.NullString
}

// IsRestored reports whether this row has already been restored.
func (d DeletedRow) IsRestored() bool { return d.RestoredAt.Valid }

// RestoreGuid extracts the guid field out of the stored snapshot without a
// full unmarshal, letting a restore caller cross-check the entry against
// the guid it asked for before paying for a complete decode.
func (d DeletedRow) RestoreGuid() string {
	return gjson.Get(d.RowJSON, row.GuidColumn).String()
}

// DeletedRows lists deleted_rows, most recent first, optionally scoped to
// a table and/or company and excluding already-restored rows by default.
func (r *Recorder) DeletedRows(table, company string, includeRestored bool) ([]DeletedRow, error) {
	query := "SELECT id, company, table_name, guid, row_json, deleted_at, restored_at FROM deleted_rows WHERE 1=1"
	var args []any
	if !includeRestored {
		query += " AND restored_at IS NULL"
	}
	if table != "" {
		query += " AND table_name = ?"
		args = append(args, table)
	}
	if company != "" {
		query += " AND company = ?"
		args = append(args, company)
	}
	query += " ORDER BY deleted_at DESC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "list deleted rows")
	}
	defer rows.Close()

	var out []DeletedRow
	for rows.Next() {
		var d DeletedRow
		if err := rows.Scan(&d.ID, &d.Company, &d.Table, &d.Guid, &d.RowJSON, &d.DeletedAt, &d.RestoredAt); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan deleted row")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkRestored flags a deleted_rows entry as restored without writing its
// snapshot back anywhere — used when a caller has already re-created the
// row some other way and only wants the bookkeeping flag to catch up.
// Restore is the entry point that performs an actual restore.
func (r *Recorder) MarkRestored(id int64) error {
	if _, err := r.db.Exec("UPDATE deleted_rows SET restored_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "mark deleted row %d restored", id)
	}
	return nil
}

// Restore re-inserts a deleted row's saved snapshot into its destination
// table and marks the deleted_rows entry restored, both inside a single
// transaction so a crash between the two never leaves one without the
// other. The Go counterpart of database_service.py's restore_deleted_row.
// On success it records a fresh INSERT audit event for the restored row.
func (r *Recorder) Restore(id int64) error {
	tx, err := r.db.Begin()
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "begin restore transaction")
	}
	defer tx.Rollback()

	var table, guid, company, payload string
	var restoredAt sql.NullString
	err = tx.QueryRow(
		"SELECT table_name, guid, company, row_json, restored_at FROM deleted_rows WHERE id = ?", id,
	).Scan(&table, &guid, &company, &payload, &restoredAt)
	if err == sql.ErrNoRows {
		return syncerr.New(syncerr.KindConfig, component, "no deleted row with id %d", id)
	}
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "read deleted row %d", id)
	}
	if restoredAt.Valid {
		return syncerr.New(syncerr.KindConfig, component, "deleted row %d was already restored", id)
	}

	var snapshot row.Row
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return syncerr.Wrap(syncerr.KindDecode, component, err, "parse snapshot for deleted row %d", id)
	}

	if err := upsertRow(tx, table, snapshot); err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE deleted_rows SET restored_at = CURRENT_TIMESTAMP WHERE id = ?", id); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "mark deleted row %d restored", id)
	}
	if err := tx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "commit restore for deleted row %d", id)
	}

	r.LogInsert(table, guid, displayName(snapshot), snapshot, company, snapshot.AlterID())
	return nil
}

// upsertRow writes snapshot into table inside tx, mirroring store.Store's
// Upsert shape (INSERT OR REPLACE over the snapshot's own columns) without
// importing the store package back into audit. It first ALTERs in any
// snapshot column the table doesn't already have, the same guard
// store.Store.ensureColumns applies before every write — a snapshot taken
// before a column existed (or from a table this process never wrote to)
// would otherwise fail with "no such column" instead of restoring.
func upsertRow(tx *sql.Tx, table string, snapshot row.Row) error {
	if len(snapshot) == 0 {
		return syncerr.New(syncerr.KindConfig, component, "restore snapshot for %s has no columns", table)
	}
	columns := make([]string, 0, len(snapshot))
	for c := range snapshot {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	if err := ensureColumnsTx(tx, table, columns); err != nil {
		return err
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		placeholders[i] = "?"
		args[i] = snapshot[c]
	}
	stmt := fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)", quoteIdent(table),
		strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.Exec(stmt, args...); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "restore row into %s", table)
	}
	return nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// ensureColumnsTx adds any of columns missing from table as a nullable TEXT
// column, the restore path's own copy of store.Store.ensureColumns so the
// ALTER and the write-back it guards share tx instead of crossing package
// boundaries mid-transaction.
func ensureColumnsTx(tx *sql.Tx, table string, columns []string) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "inspect table %s", table)
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			rows.Close()
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan table_info(%s)", table)
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "read table_info(%s)", table)
	}

	for _, col := range columns {
		if existing[col] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT DEFAULT ''", quoteIdent(table), quoteIdent(col))
		if _, err := tx.Exec(stmt); err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "add column %s.%s", table, col)
		}
		existing[col] = true
	}
	return nil
}

// displayName mirrors sync.rowDisplayName's "name" column convention for
// the restored-row audit entry.
func displayName(r row.Row) string {
	if r == nil {
		return ""
	}
	if name, ok := r["name"].(string); ok {
		return name
	}
	return r.Guid()
}

// Stats summarizes audit_log/deleted_rows activity, optionally scoped to a
// company.
type Stats struct {
	ByAction           map[string]int
	ByTable            map[string]int
	PendingDeletedRows int
}

// Stats computes audit counts by action and by table (top 10), plus the
// count of deleted rows still awaiting restore.
func (r *Recorder) Stats(company string) (Stats, error) {
	stats := Stats{ByAction: map[string]int{}, ByTable: map[string]int{}}

	var args []any
	where := ""
	if company != "" {
		where = " WHERE company = ?"
		args = append(args, company)
	}

	actionRows, err := r.db.Query("SELECT action, COUNT(*) FROM audit_log"+where+" GROUP BY action", args...)
	if err != nil {
		return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "audit stats by action")
	}
	for actionRows.Next() {
		var action string
		var count int
		if err := actionRows.Scan(&action, &count); err != nil {
			actionRows.Close()
			return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan audit stats by action")
		}
		stats.ByAction[action] = count
	}
	actionRows.Close()
	if err := actionRows.Err(); err != nil {
		return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "iterate audit stats by action")
	}

	tableRows, err := r.db.Query("SELECT table_name, COUNT(*) c FROM audit_log"+where+" GROUP BY table_name ORDER BY c DESC LIMIT 10", args...)
	if err != nil {
		return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "audit stats by table")
	}
	defer tableRows.Close()
	for tableRows.Next() {
		var table string
		var count int
		if err := tableRows.Scan(&table, &count); err != nil {
			return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan audit stats by table")
		}
		stats.ByTable[table] = count
	}
	if err := tableRows.Err(); err != nil {
		return stats, err
	}

	delQuery := "SELECT COUNT(*) FROM deleted_rows WHERE restored_at IS NULL"
	var delArgs []any
	if company != "" {
		delQuery += " AND company = ?"
		delArgs = append(delArgs, company)
	}
	if err := r.db.QueryRow(delQuery, delArgs...).Scan(&stats.PendingDeletedRows); err != nil {
		return stats, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "count pending deleted rows")
	}
	return stats, nil
}

// SessionChanges summarizes a single sync session's audit events.
type SessionChanges struct {
	SessionID    string
	Summary      map[string]int
	TotalChanges int
	Changes      []Event
}

// SessionChanges returns the per-action summary and full event list for
// sessionID.
func (r *Recorder) SessionChanges(sessionID string) (SessionChanges, error) {
	out := SessionChanges{SessionID: sessionID, Summary: map[string]int{}}

	summaryRows, err := r.db.Query("SELECT action, COUNT(*) FROM audit_log WHERE session_id = ? GROUP BY action", sessionID)
	if err != nil {
		return out, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "session change summary")
	}
	for summaryRows.Next() {
		var action string
		var count int
		if err := summaryRows.Scan(&action, &count); err != nil {
			summaryRows.Close()
			return out, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan session change summary")
		}
		out.Summary[action] = count
	}
	summaryRows.Close()
	if err := summaryRows.Err(); err != nil {
		return out, err
	}

	events, err := r.queryEvents(
		`SELECT session_id, company, table_name, guid, row_name, action, changed_columns,
		        before_json, after_json, diff_text, gateway_alter_id, occurred_at
		 FROM audit_log WHERE session_id = ? ORDER BY occurred_at`, sessionID)
	if err != nil {
		return out, err
	}
	out.Changes = events
	out.TotalChanges = len(events)
	return out, nil
}

// RecordHistory returns every audit event recorded against one row, most
// recent first.
func (r *Recorder) RecordHistory(table, guid string) ([]Event, error) {
	return r.queryEvents(
		`SELECT session_id, company, table_name, guid, row_name, action, changed_columns,
		        before_json, after_json, diff_text, gateway_alter_id, occurred_at
		 FROM audit_log WHERE table_name = ? AND guid = ? ORDER BY occurred_at DESC, id DESC`, table, guid)
}

func (r *Recorder) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "query audit events")
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                                             Event
			changedJSON, beforeJSON, afterJSON, diffTextNS sql.NullString
			alterID                                        sql.NullInt64
			occurredAt                                     string
		)
		if err := rows.Scan(&e.SessionID, &e.Company, &e.Table, &e.RowGuid, &e.RowName, &e.Kind,
			&changedJSON, &beforeJSON, &afterJSON, &diffTextNS, &alterID, &occurredAt); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan audit event")
		}
		if changedJSON.Valid {
			_ = json.Unmarshal([]byte(changedJSON.String), &e.ChangedColumns)
		}
		if beforeJSON.Valid {
			var before row.Row
			if err := json.Unmarshal([]byte(beforeJSON.String), &before); err == nil {
				e.Before = before
			}
		}
		if afterJSON.Valid {
			var after row.Row
			if err := json.Unmarshal([]byte(afterJSON.String), &after); err == nil {
				e.After = after
			}
		}
		if diffTextNS.Valid {
			e.DiffText = diffTextNS.String
		}
		e.GatewayAlterID = alterID.Int64
		if t, err := time.Parse(time.DateTime, occurredAt); err == nil {
			e.OccurredAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
