// Package sync drives one company's full or incremental replication run
// against a Gateway, the Go counterpart of sync_service.py's SyncService.
// A Synchronizer owns no long-lived goroutine of its own — SyncQueue calls
// FullSync/IncrementalSync synchronously from its single worker — but it
// does guard against two overlapping runs and exposes cooperative
// cancellation and a progress snapshot for a concurrent status query.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/audit"
	"github.com/ledgersync/replicator/pkg/companystate"
	"github.com/ledgersync/replicator/pkg/decoder"
	"github.com/ledgersync/replicator/pkg/gatewayclient"
	"github.com/ledgersync/replicator/pkg/recoverer"
	"github.com/ledgersync/replicator/pkg/reportbuilder"
	"github.com/ledgersync/replicator/pkg/row"
	"github.com/ledgersync/replicator/pkg/store"
	"github.com/ledgersync/replicator/pkg/tablespec"
)

const component = "sync"

// Kind names the two run shapes a Synchronizer can perform.
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// rowDecoder is the subset of decoder.Decoder the Synchronizer calls, named
// here so tests can substitute a fixed-response stand-in without pulling in
// the regexp-based decoder for fixture wiring.
type rowDecoder interface {
	Decode(response string, fields []tablespec.FieldSpec) ([]row.Row, error)
}

// Progress is a snapshot of a run in flight, read by a concurrent status
// query while the worker goroutine keeps writing it.
type Progress struct {
	Kind          Kind
	Company       string
	CurrentTable  string
	RowsProcessed int
	TablesDone    int
	TablesTotal   int
	StartedAt     time.Time
}

// Synchronizer runs full and incremental syncs for one Gateway/store pair
// across every company the caller names. It is safe for concurrent status
// queries but only one FullSync/IncrementalSync call may be in flight at a
// time — a second call returns syncerr.KindConcurrency immediately, the
// same "reject while running" rule SyncQueue enforces one level up for
// queued jobs.
type Synchronizer struct {
	doc       tablespec.Document
	client    *gatewayclient.Client
	store     *store.Store
	audit     *audit.Recorder
	companies *companystate.Repository
	recover   *recoverer.Recoverer
	builder   reportbuilder.Builder
	dec       rowDecoder
	log       logr.Logger

	mu       sync.Mutex
	active   bool
	progress Progress
	cancel   atomic.Bool
}

// New wires a Synchronizer from its collaborators. doc is loaded once at
// startup and never mutated.
func New(
	doc tablespec.Document,
	client *gatewayclient.Client,
	st *store.Store,
	rec *audit.Recorder,
	companies *companystate.Repository,
	rcv *recoverer.Recoverer,
	log logr.Logger,
) *Synchronizer {
	return &Synchronizer{
		doc:       doc,
		client:    client,
		store:     st,
		audit:     rec,
		companies: companies,
		recover:   rcv,
		builder:   reportbuilder.New(),
		dec:       decoder.New(),
		log:       log,
	}
}

// NewWithDecoder wires a Synchronizer with an explicit decoder, letting
// tests substitute a fixture-backed stand-in for the regexp-based default.
func NewWithDecoder(
	doc tablespec.Document,
	client *gatewayclient.Client,
	st *store.Store,
	rec *audit.Recorder,
	companies *companystate.Repository,
	rcv *recoverer.Recoverer,
	dec rowDecoder,
	log logr.Logger,
) *Synchronizer {
	s := New(doc, client, st, rec, companies, rcv, log)
	s.dec = dec
	return s
}

// Progress returns the current run's snapshot, the zero value when none is
// active.
func (s *Synchronizer) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Active reports whether a sync is currently running.
func (s *Synchronizer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel requests the active run stop at its next cooperative checkpoint
// (between tables, never mid-table). Returns false if nothing is running.
func (s *Synchronizer) Cancel() bool {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if !active {
		return false
	}
	s.cancel.Store(true)
	return true
}

func (s *Synchronizer) beginSession(kind Kind, company string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return syncerr.New(syncerr.KindConcurrency, component, "a sync is already running for %s", s.progress.Company)
	}
	s.active = true
	s.cancel.Store(false)
	s.progress = Progress{Kind: kind, Company: company, StartedAt: time.Now()}
	return nil
}

func (s *Synchronizer) endSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

func (s *Synchronizer) updateProgress(table string, rowsDelta int, tablesDone int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.CurrentTable = table
	s.progress.RowsProcessed += rowsDelta
	s.progress.TablesDone = tablesDone
}

func (s *Synchronizer) cancelled() bool {
	return s.cancel.Load()
}

func (s *Synchronizer) setTablesTotal(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.TablesTotal = n
}

// FullSync truncates and repopulates every table for company. When
// parallel is true, Gateway fetches for independent tables overlap while
// each table's insert still runs in declaration order, matching
// sync_service.py's ThreadPoolExecutor-backed full_sync.
func (s *Synchronizer) FullSync(ctx context.Context, company string, parallel bool) error {
	if err := s.beginSession(KindFull, company); err != nil {
		return err
	}
	defer s.endSession()

	err := s.doFullSync(ctx, company, parallel)
	s.finishSession(company, err)
	return err
}

func (s *Synchronizer) doFullSync(ctx context.Context, company string, parallel bool) error {
	all := s.doc.All()
	if len(all) == 0 {
		return syncerr.New(syncerr.KindConfig, component, "no tables declared")
	}

	probe := all[0]
	probeRows, err := s.fetchRows(ctx, probe, "", "", company)
	if err != nil {
		return err
	}
	if len(probeRows) == 0 {
		return syncerr.New(syncerr.KindEmptyGateway, component, "safety probe against %s returned zero rows, refusing to truncate", probe.Name)
	}

	s.setTablesTotal(len(all))
	if err := s.syncPhase(ctx, s.doc.Master, company, parallel); err != nil {
		return err
	}
	if err := s.syncPhase(ctx, s.doc.Transaction, company, parallel); err != nil {
		return err
	}

	return s.recordCompanyState(ctx, company, string(KindFull))
}

// syncPhase truncates and refills every table in specs. Gateway fetches
// may run concurrently when parallel is set; inserts always run one table
// at a time against the single-writer store.
func (s *Synchronizer) syncPhase(ctx context.Context, specs []tablespec.TableSpec, company string, parallel bool) error {
	if !parallel || len(specs) <= 1 {
		for _, spec := range specs {
			if s.cancelled() {
				return syncerr.New(syncerr.KindCancelled, component, "full sync cancelled before table %s", spec.Name)
			}
			rows, err := s.fetchRows(ctx, spec, "", "", company)
			if err != nil {
				return err
			}
			if err := s.replaceTable(spec, rows, company); err != nil {
				return err
			}
			s.updateProgress(spec.Name, len(rows), s.Progress().TablesDone+1)
			s.writeCrashState(company, spec.Name)
		}
		return nil
	}

	fetched := make([][]row.Row, len(specs))
	g, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			rows, err := s.fetchRows(gctx, spec, "", "", company)
			if err != nil {
				return err
			}
			fetched[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, spec := range specs {
		if s.cancelled() {
			return syncerr.New(syncerr.KindCancelled, component, "full sync cancelled before table %s", spec.Name)
		}
		if err := s.replaceTable(spec, fetched[i], company); err != nil {
			return err
		}
		s.updateProgress(spec.Name, len(fetched[i]), s.Progress().TablesDone+1)
		s.writeCrashState(company, spec.Name)
	}
	return nil
}

// replaceTable truncates and refills spec's table. Full sync never writes
// to audit_log — it's a wholesale snapshot replace, not a row-by-row
// change a caller would want to review afterward; only incremental sync's
// diff/import path records audit events.
func (s *Synchronizer) replaceTable(spec tablespec.TableSpec, rows []row.Row, company string) error {
	if err := s.store.EnsureCompanyColumn(spec.Name); err != nil {
		return err
	}
	if err := s.store.Truncate(spec.Name, company); err != nil {
		return err
	}
	stamped := make([]row.Row, len(rows))
	for i, r := range rows {
		stamped[i] = r.WithCompany(company)
	}
	_, err := s.store.BulkInsert(spec.Name, stamped)
	return err
}

func (s *Synchronizer) fetchRows(ctx context.Context, spec tablespec.TableSpec, fromDate, toDate, company string) ([]row.Row, error) {
	payload := s.builder.Request(spec, fromDate, toDate, company)
	resp, err := s.client.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	rows, err := s.dec.Decode(resp, spec.Fields)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindDecode, component, err, "decode rows for %s", spec.Name)
	}
	return rows, nil
}

// IncrementalSync diffs the Gateway's current guid/alterid state against
// what company holds locally for every Primary table, applies deletions and
// upserts, and resyncs each changed Primary row's Secondary children.
// Secondary tables have no guid-uniqueness or alter_id of their own, so they
// never run through the diff/import machinery directly — they ride along
// with their owning Primary TableSpec's CascadeDelete rules: a deleted
// parent guid cascades via store.CascadeAndDelete, and a changed parent
// guid gets its existing children replaced by a fresh per-guid fetch.
func (s *Synchronizer) IncrementalSync(ctx context.Context, company string) error {
	if err := s.beginSession(KindIncremental, company); err != nil {
		return err
	}
	defer s.endSession()

	s.audit.StartSession(string(KindIncremental), company)
	defer s.audit.EndSession()

	err := s.doIncrementalSync(ctx, company)
	s.finishSession(company, err)
	return err
}

func (s *Synchronizer) doIncrementalSync(ctx context.Context, company string) error {
	prevState, _, err := s.companies.Get(company)
	if err != nil {
		return err
	}

	lastMaster, lastTxn := prevState.LastAlterIDMaster, prevState.LastAlterIDTransaction
	if lastMaster == 0 {
		if v, ok := s.store.LegacyAlterID(company, store.LegacyAlterIDMaster); ok {
			lastMaster = v
		}
	}
	if lastTxn == 0 {
		if v, ok := s.store.LegacyAlterID(company, store.LegacyAlterIDTransaction); ok {
			lastTxn = v
		}
	}

	curMaster, curTxn, err := s.client.LastAlterIDs(ctx)
	if err != nil {
		return err
	}
	if curMaster == lastMaster && curTxn == lastTxn {
		s.log.Info("incremental sync found no changes", "company", company)
		return s.recordCompanyStateWith(company, string(KindIncremental), curMaster, curTxn, prevState)
	}

	primaryCount := 0
	for _, spec := range s.doc.All() {
		if spec.Nature == tablespec.Primary {
			primaryCount++
		}
	}
	s.setTablesTotal(primaryCount)

	tablesDone := 0
	for _, spec := range s.doc.Master {
		if spec.Nature != tablespec.Primary {
			continue
		}
		if s.cancelled() {
			return syncerr.New(syncerr.KindCancelled, component, "incremental sync cancelled before table %s", spec.Name)
		}
		if err := s.diffAndImportPrimary(ctx, spec, company, lastMaster); err != nil {
			return err
		}
		tablesDone++
		s.updateProgress(spec.Name, 0, tablesDone)
		s.writeCrashState(company, spec.Name)
	}
	for _, spec := range s.doc.Transaction {
		if spec.Nature != tablespec.Primary {
			continue
		}
		if s.cancelled() {
			return syncerr.New(syncerr.KindCancelled, component, "incremental sync cancelled before table %s", spec.Name)
		}
		if err := s.diffAndImportPrimary(ctx, spec, company, lastTxn); err != nil {
			return err
		}
		tablesDone++
		s.updateProgress(spec.Name, 0, tablesDone)
		s.writeCrashState(company, spec.Name)
	}

	return s.recordCompanyStateWith(company, string(KindIncremental), curMaster, curTxn, prevState)
}

// diffAndImportPrimary runs one Primary table's diff phase (stage the
// Gateway's full current guid/alterid snapshot, delete what it no longer
// reports) followed by its import phase (fetch rows changed since
// sinceAlterID, upsert, resync cascade children).
func (s *Synchronizer) diffAndImportPrimary(ctx context.Context, spec tablespec.TableSpec, company string, sinceAlterID int64) error {
	if err := s.store.EnsureCompanyColumn(spec.Name); err != nil {
		return err
	}

	diffRows, err := s.fetchDiffSnapshot(ctx, spec, company)
	if err != nil {
		return err
	}
	pairs := make(map[string]int64, len(diffRows))
	for _, r := range diffRows {
		if guid := r.Guid(); guid != "" {
			pairs[guid] = r.AlterID()
		}
	}
	if err := s.store.StageDiff(pairs); err != nil {
		return err
	}

	deletedGuids, err := s.store.StageDeletionsFor(spec.Name, company)
	if err != nil {
		return err
	}
	rules := toStoreCascadeRules(spec.CascadeDelete)
	for _, guid := range deletedGuids {
		before, ferr := s.store.FetchRow(spec.Name, guid, company)
		if ferr != nil {
			s.log.Error(ferr, "fetch row ahead of delete", "table", spec.Name, "guid", guid)
		}
		s.audit.LogDelete(spec.Name, guid, rowDisplayName(before), before, company)
		if err := s.store.CascadeAndDelete(spec.Name, guid, company, rules); err != nil {
			return err
		}
	}

	payload := s.builder.IncrementalRequest(spec, "", "", company, sinceAlterID)
	resp, err := s.client.Send(ctx, payload)
	if err != nil {
		return err
	}
	importRows, err := s.dec.Decode(resp, spec.Fields)
	if err != nil {
		return syncerr.Wrap(syncerr.KindDecode, component, err, "decode incremental rows for %s", spec.Name)
	}

	for _, r := range importRows {
		guid := r.Guid()
		if guid == "" {
			continue
		}
		stamped := r.WithCompany(company)

		exists, err := s.store.RowExists(spec.Name, guid, company)
		if err != nil {
			return err
		}
		var before row.Row
		if exists {
			before, err = s.store.FetchRow(spec.Name, guid, company)
			if err != nil {
				return err
			}
		}
		if err := s.store.Upsert(spec.Name, stamped); err != nil {
			return err
		}
		if exists {
			s.audit.LogUpdate(spec.Name, guid, rowDisplayName(stamped), before, stamped, company, stamped.AlterID())
		} else {
			s.audit.LogInsert(spec.Name, guid, rowDisplayName(stamped), stamped, company, stamped.AlterID())
		}

		if err := s.resyncChildren(ctx, spec, guid, company); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synchronizer) fetchDiffSnapshot(ctx context.Context, spec tablespec.TableSpec, company string) ([]row.Row, error) {
	payload := s.builder.DiffRequest(spec, "", "", company)
	resp, err := s.client.Send(ctx, payload)
	if err != nil {
		return nil, err
	}
	fields := []tablespec.FieldSpec{
		{Name: row.GuidColumn, Expr: "Guid", Kind: tablespec.KindText},
		{Name: row.AlterIDColumn, Expr: "AlterID", Kind: tablespec.KindNumber},
	}
	rows, err := s.dec.Decode(resp, fields)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindDecode, component, err, "decode diff snapshot for %s", spec.Name)
	}
	return rows, nil
}

// resyncChildren replaces every Secondary row cascade-linked to parent's
// guid: the child collection is re-fetched scoped to $Guid = guid, the old
// rows for this guid are removed, and the fetched rows are inserted. store.DeleteRow
// deletes every row matching guid+company, which is exactly right here —
// a voucher's trn_accounting legs all share the parent's guid.
func (s *Synchronizer) resyncChildren(ctx context.Context, parent tablespec.TableSpec, guid, company string) error {
	for _, ruleSpec := range parent.CascadeDelete {
		childSpec, ok := s.doc.ByName(ruleSpec.Table)
		if !ok {
			s.log.Info("cascade rule names an undeclared table, skipping", "table", ruleSpec.Table)
			continue
		}

		scoped := childSpec
		scoped.Filters = append(append([]string{}, childSpec.Filters...), fmt.Sprintf("$Guid = %q", guid))

		rows, err := s.fetchRows(ctx, scoped, "", "", company)
		if err != nil {
			return err
		}
		if err := s.store.DeleteRow(childSpec.Name, guid, company); err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if err := s.store.EnsureCompanyColumn(childSpec.Name); err != nil {
			return err
		}
		stamped := make([]row.Row, len(rows))
		for i, r := range rows {
			stamped[i] = r.WithCompany(company)
		}
		if _, err := s.store.BulkInsert(childSpec.Name, stamped); err != nil {
			return err
		}
	}
	return nil
}

func toStoreCascadeRules(rules []tablespec.CascadeRule) []store.CascadeRule {
	out := make([]store.CascadeRule, len(rules))
	for i, r := range rules {
		out[i] = store.CascadeRule{Table: r.Table, ForeignColumn: r.ForeignColumn}
	}
	return out
}

func (s *Synchronizer) recordCompanyState(ctx context.Context, company, kind string) error {
	info, err := s.client.CurrentCompanyInfo(ctx)
	if err != nil {
		s.log.Error(err, "read current company info after sync", "company", company)
	}
	master, txn, err := s.client.LastAlterIDs(ctx)
	if err != nil {
		s.log.Error(err, "read alter-id watermarks after sync", "company", company)
	}
	return s.companies.Upsert(companystate.State{
		Company:                company,
		GUID:                   info.GUID,
		AlterID:                info.AlterID,
		LastAlterIDMaster:      master,
		LastAlterIDTransaction: txn,
		LastSyncKind:           kind,
	})
}

func (s *Synchronizer) recordCompanyStateWith(company, kind string, master, txn int64, prev companystate.State) error {
	return s.companies.Upsert(companystate.State{
		Company:                company,
		GUID:                   prev.GUID,
		AlterID:                prev.AlterID,
		LastAlterIDMaster:      master,
		LastAlterIDTransaction: txn,
		LastSyncKind:           kind,
	})
}

func (s *Synchronizer) writeCrashState(company, currentTable string) {
	p := s.Progress()
	err := s.recover.Write(recoverer.State{
		Kind:          string(p.Kind),
		Status:        recoverer.StatusRunning,
		Company:       company,
		StartedAt:     p.StartedAt,
		CurrentTable:  currentTable,
		RowsProcessed: p.RowsProcessed,
		LastUpdated:   time.Now(),
	})
	if err != nil {
		s.log.Error(err, "write crash state sidecar", "company", company)
	}
}

func (s *Synchronizer) finishSession(company string, err error) {
	p := s.Progress()
	state := recoverer.State{
		Kind:          string(p.Kind),
		Company:       company,
		StartedAt:     p.StartedAt,
		CurrentTable:  p.CurrentTable,
		RowsProcessed: p.RowsProcessed,
		LastUpdated:   time.Now(),
	}
	if err == nil {
		state.Status = recoverer.StatusCompleted
		if cerr := s.recover.Clear(); cerr != nil {
			s.log.Error(cerr, "clear crash state sidecar", "company", company)
		}
		return
	}

	if isCancelled(err) {
		state.Status = recoverer.StatusCancelled
	} else {
		state.Status = recoverer.StatusFailed
	}
	state.Error = err.Error()
	if werr := s.recover.Write(state); werr != nil {
		s.log.Error(werr, "write failure crash state", "company", company)
	}
}

func isCancelled(err error) bool {
	var se *syncerr.Error
	return errors.As(err, &se) && se.Kind == syncerr.KindCancelled
}

func rowDisplayName(r row.Row) string {
	if r == nil {
		return ""
	}
	if name, ok := r["name"].(string); ok {
		return name
	}
	return r.Guid()
}
