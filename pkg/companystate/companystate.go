// Package companystate is the repository for the company_config table,
// the per-company bookkeeping record a Synchronizer reads before an
// incremental sync and writes at the end of every sync. It is the Go
// counterpart of database_service.py's update_company_config/
// get_synced_companies pair, rebuilt as upsert-by-name against
// database/sql instead of a hand-checked SELECT-then-branch.
package companystate

import (
	"database/sql"
	"time"

	"github.com/ledgersync/replicator/internal/syncerr"
)

const component = "companystate"

// State is one company_config row: the sync bookkeeping record the
// Synchronizer reads and updates. Invariant: LastAlterIDMaster/
// LastAlterIDTransaction never exceed the Gateway's value at the moment
// the most recent successful sync started, and are left unchanged after a
// failed sync.
type State struct {
	Company                string
	GUID                   string
	AlterID                int64
	LastAlterIDMaster      int64
	LastAlterIDTransaction int64
	LastSyncAt             string
	LastSyncKind           string
	SyncCount              int
}

// Repository reads and writes company_config against a shared *sql.DB,
// normally store.Store.DB().
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a company's current state, ok=false if no row exists yet —
// the case that sends a caller to the legacy config-table fallback before
// falling back further to a cold-start full sync.
func (r *Repository) Get(company string) (State, bool, error) {
	var s State
	err := r.db.QueryRow(`
		SELECT company_name, company_guid, company_alterid, last_alter_id_master,
		       last_alter_id_transaction, COALESCE(last_sync_at, ''), COALESCE(last_sync_kind, ''), sync_count
		FROM company_config WHERE company_name = ?`, company).Scan(
		&s.Company, &s.GUID, &s.AlterID, &s.LastAlterIDMaster,
		&s.LastAlterIDTransaction, &s.LastSyncAt, &s.LastSyncKind, &s.SyncCount)
	if err == sql.ErrNoRows {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "read company state %s", company)
	}
	return s, true, nil
}

// List returns every company_config row, ordered by name.
func (r *Repository) List() ([]State, error) {
	rows, err := r.db.Query(`
		SELECT company_name, company_guid, company_alterid, last_alter_id_master,
		       last_alter_id_transaction, COALESCE(last_sync_at, ''), COALESCE(last_sync_kind, ''), sync_count
		FROM company_config ORDER BY company_name`)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "list company states")
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var s State
		if err := rows.Scan(&s.Company, &s.GUID, &s.AlterID, &s.LastAlterIDMaster,
			&s.LastAlterIDTransaction, &s.LastSyncAt, &s.LastSyncKind, &s.SyncCount); err != nil {
			return nil, syncerr.Wrap(syncerr.KindStoreWrite, component, err, "scan company state")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Upsert writes a post-sync company state: a fresh GUID/AlterID overwrite
// the stored ones only when non-empty/non-zero (the Gateway's metadata
// call can be skipped on some paths), the alter-id watermarks and sync
// kind are always overwritten, and sync_count increments on an existing
// row or starts at 1 on a new one — the same shape as
// database_service.py's update_company_config.
func (r *Repository) Upsert(s State) error {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := r.db.Begin()
	if err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "begin company state upsert")
	}
	defer tx.Rollback()

	var existingCount int
	err = tx.QueryRow("SELECT sync_count FROM company_config WHERE company_name = ?", s.Company).Scan(&existingCount)
	switch err {
	case nil:
		_, err = tx.Exec(`
			UPDATE company_config SET
				company_guid = CASE WHEN ? != '' THEN ? ELSE company_guid END,
				company_alterid = CASE WHEN ? > 0 THEN ? ELSE company_alterid END,
				last_alter_id_master = ?,
				last_alter_id_transaction = ?,
				last_sync_at = ?,
				last_sync_kind = ?,
				sync_count = ?,
				updated_at = ?
			WHERE company_name = ?`,
			s.GUID, s.GUID, s.AlterID, s.AlterID, s.LastAlterIDMaster, s.LastAlterIDTransaction,
			now, s.LastSyncKind, existingCount+1, now, s.Company)
		if err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "update company state %s", s.Company)
		}
	case sql.ErrNoRows:
		_, err = tx.Exec(`
			INSERT INTO company_config
				(company_name, company_guid, company_alterid, last_alter_id_master,
				 last_alter_id_transaction, last_sync_at, last_sync_kind, sync_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			s.Company, s.GUID, s.AlterID, s.LastAlterIDMaster, s.LastAlterIDTransaction,
			now, s.LastSyncKind, now, now)
		if err != nil {
			return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "insert company state %s", s.Company)
		}
	default:
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "check existing company state %s", s.Company)
	}

	if err := tx.Commit(); err != nil {
		return syncerr.Wrap(syncerr.KindStoreWrite, component, err, "commit company state upsert %s", s.Company)
	}
	return nil
}
