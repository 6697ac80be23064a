package scheduler

import (
	"context"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/queue"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

// CompanyLister supplies the set of companies a scheduled run should cover.
// *store.Store.SyncedCompanies satisfies this once adapted by the caller.
type CompanyLister func() ([]string, error)

// QueueTrigger adapts a *queue.Queue into a Trigger: on fire, it resolves
// the current company list, loads the queue, and starts it. Enqueuing one
// company per scheduled tick would lose the "sync everyone nightly" shape
// the source's schedule_config implied; fanning out through the queue keeps
// the one-worker-at-a-time invariant intact.
type QueueTrigger struct {
	Queue     *queue.Queue
	Companies CompanyLister
}

// Run implements Trigger.
func (t QueueTrigger) Run(ctx context.Context, kind syncpkg.Kind) error {
	companies, err := t.Companies()
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "list companies for scheduled run")
	}
	if len(companies) == 0 {
		return syncerr.New(syncerr.KindConfig, component, "no companies known to schedule a sync for")
	}
	if err := t.Queue.Add(companies, kind); err != nil {
		return err
	}
	return t.Queue.Start(ctx)
}
