// Package queue drives a FIFO of per-company sync jobs through a single
// background worker, the Go counterpart of sync_queue_service.py's
// SyncQueueService. Only one Queue runs at a time; Add is rejected while
// processing, and Cancel marks every remaining pending item cancelled
// without touching items already finished.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/ledgersync/replicator/internal/syncerr"
	"github.com/ledgersync/replicator/pkg/metrics"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

const component = "queue"

// Status is an Item's position in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Item is one company's queued sync job.
type Item struct {
	Company       string
	Kind          syncpkg.Kind
	Status        Status
	StartedAt     time.Time
	EndedAt       time.Time
	RowsProcessed int
	Error         string
}

// Runner is the subset of *sync.Synchronizer the Queue drives, named so
// tests can substitute a fake instead of standing up a real Gateway.
type Runner interface {
	FullSync(ctx context.Context, company string, parallel bool) error
	IncrementalSync(ctx context.Context, company string) error
	Progress() syncpkg.Progress
	Cancel() bool
}

// Snapshot is the status returned to a concurrent poller.
type Snapshot struct {
	Processing     bool
	Items          []Item
	CurrentIndex   int
	TotalCompanies int
	CompletedCount int
	FailedCount    int
}

// Queue processes queued companies one at a time on its own goroutine.
type Queue struct {
	runner Runner
	log    logr.Logger

	// Metrics is optional; a nil value disables instrumentation.
	Metrics *metrics.Recorder

	mu           sync.Mutex
	items        []Item
	currentIndex int
	processing   bool
	completed    int
	failed       int
	cancel       atomic.Bool
	done         chan struct{}
}

// New returns a Queue that drives runner.
func New(runner Runner, log logr.Logger) *Queue {
	return &Queue{runner: runner, log: log.WithName(component)}
}

// Add replaces the queue's contents with one pending item per company, all
// sharing kind. Rejected while a previous run is still processing.
func (q *Queue) Add(companies []string, kind syncpkg.Kind) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing {
		return syncerr.New(syncerr.KindConcurrency, component, "queue is already processing")
	}

	items := make([]Item, 0, len(companies))
	for _, c := range companies {
		items = append(items, Item{Company: c, Kind: kind, Status: StatusPending})
	}
	q.items = items
	q.currentIndex = -1
	q.completed = 0
	q.failed = 0
	if q.Metrics != nil {
		q.Metrics.SetQueueLength(len(items))
	}
	return nil
}

// Start launches the single background worker over the current queue
// contents. It returns once the worker goroutine has been spawned, not once
// it finishes; poll Status or wait on Done to observe completion.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return syncerr.New(syncerr.KindConcurrency, component, "queue is already processing")
	}
	if len(q.items) == 0 {
		q.mu.Unlock()
		return syncerr.New(syncerr.KindConfig, component, "queue is empty")
	}
	q.processing = true
	q.currentIndex = 0
	q.cancel.Store(false)
	q.done = make(chan struct{})
	q.mu.Unlock()

	go q.run(ctx)
	return nil
}

// Done returns a channel closed when the current processing run finishes,
// or nil if no run has ever been started.
func (q *Queue) Done() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.done
}

func (q *Queue) run(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.processing = false
		done := q.done
		q.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	for {
		q.mu.Lock()
		if q.cancel.Load() {
			q.mu.Unlock()
			q.markRemainingCancelled(q.currentIndex - 1)
			return
		}
		if q.currentIndex >= len(q.items) {
			q.mu.Unlock()
			return
		}
		idx := q.currentIndex
		item := q.items[idx]
		item.Status = StatusRunning
		item.StartedAt = time.Now()
		q.items[idx] = item
		q.mu.Unlock()

		q.log.Info("starting queued sync", "company", item.Company, "kind", item.Kind, "index", idx+1, "total", len(q.items))

		started := time.Now()
		var err error
		if item.Kind == syncpkg.KindIncremental {
			err = q.runner.IncrementalSync(ctx, item.Company)
		} else {
			err = q.runner.FullSync(ctx, item.Company, false)
		}

		q.mu.Lock()
		item = q.items[idx]
		item.EndedAt = time.Now()
		item.RowsProcessed = q.runner.Progress().RowsProcessed
		switch {
		case err == nil:
			item.Status = StatusCompleted
			q.completed++
		case isCancelledErr(err):
			item.Status = StatusCancelled
		default:
			item.Status = StatusFailed
			item.Error = err.Error()
			q.failed++
		}
		q.items[idx] = item
		cancelled := q.cancel.Load()
		q.currentIndex++
		remaining := len(q.items) - q.currentIndex
		q.mu.Unlock()

		if q.Metrics != nil {
			q.Metrics.ObserveSync(string(item.Kind), string(item.Status), time.Since(started))
			q.Metrics.AddRowsProcessed(string(item.Kind), item.RowsProcessed)
			q.Metrics.SetQueueLength(remaining)
		}

		if cancelled || isCancelledErr(err) {
			q.markRemainingCancelled(idx)
			return
		}
	}
}

func (q *Queue) markRemainingCancelled(from int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := from + 1; i < len(q.items); i++ {
		q.items[i].Status = StatusCancelled
	}
}

// Cancel stops the worker after its current item finishes and marks every
// remaining pending item cancelled. It propagates to the in-flight
// Synchronizer run so that run itself stops at its next checkpoint.
func (q *Queue) Cancel() error {
	q.mu.Lock()
	processing := q.processing
	q.mu.Unlock()

	if !processing {
		return syncerr.New(syncerr.KindConfig, component, "queue is not processing")
	}

	q.cancel.Store(true)
	q.runner.Cancel()
	return nil
}

// Clear empties the queue. Rejected while processing.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.processing {
		return syncerr.New(syncerr.KindConcurrency, component, "cannot clear while processing")
	}
	q.items = nil
	q.currentIndex = -1
	q.completed = 0
	q.failed = 0
	return nil
}

// Status returns a snapshot of the queue's current state.
func (q *Queue) Status() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]Item, len(q.items))
	copy(items, q.items)
	return Snapshot{
		Processing:     q.processing,
		Items:          items,
		CurrentIndex:   q.currentIndex,
		TotalCompanies: len(q.items),
		CompletedCount: q.completed,
		FailedCount:    q.failed,
	}
}

func isCancelledErr(err error) bool {
	var se *syncerr.Error
	return errors.As(err, &se) && se.Kind == syncerr.KindCancelled
}
