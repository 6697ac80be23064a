package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgersync/replicator/pkg/logging"
	"github.com/ledgersync/replicator/pkg/queue"
	syncpkg "github.com/ledgersync/replicator/pkg/sync"
)

// stubRunner is a no-delay stand-in for *sync.Synchronizer satisfying
// queue.Runner, just enough to prove QueueTrigger wires Companies into
// queue.Add/Start correctly.
type stubRunner struct {
	mu    sync.Mutex
	calls []string
}

func (r *stubRunner) FullSync(ctx context.Context, company string, parallel bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, company)
	return nil
}

func (r *stubRunner) IncrementalSync(ctx context.Context, company string) error {
	return r.FullSync(ctx, company, false)
}

func (r *stubRunner) Progress() syncpkg.Progress { return syncpkg.Progress{} }
func (r *stubRunner) Cancel() bool               { return true }

func (r *stubRunner) companies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func TestQueueTriggerLoadsAndStartsQueue(t *testing.T) {
	runner := &stubRunner{}
	q := queue.New(runner, logging.Discard())
	trigger := QueueTrigger{
		Queue:     q,
		Companies: func() ([]string, error) { return []string{"Acme", "Zeta"}, nil },
	}

	require.NoError(t, trigger.Run(context.Background(), syncpkg.KindFull))

	select {
	case <-q.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not finish processing in time")
	}
	assert.ElementsMatch(t, []string{"Acme", "Zeta"}, runner.companies())
}

func TestQueueTriggerRejectsNoCompanies(t *testing.T) {
	runner := &stubRunner{}
	q := queue.New(runner, logging.Discard())
	trigger := QueueTrigger{
		Queue:     q,
		Companies: func() ([]string, error) { return nil, nil },
	}

	err := trigger.Run(context.Background(), syncpkg.KindFull)
	require.Error(t, err)
}
