// Package recoverer persists the crash-state sidecar a Synchronizer writes
// at phase boundaries during a sync, so an interrupted run (process killed,
// machine rebooted) is visible on the next status query instead of silently
// vanishing.
package recoverer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ledgersync/replicator/internal/syncerr"
)

const component = "recoverer"

// Status mirrors a SyncSession's terminal/non-terminal state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// State is the sidecar file's JSON shape.
type State struct {
	Kind          string    `json:"kind"`
	Status        Status    `json:"status"`
	Company       string    `json:"company"`
	StartedAt     time.Time `json:"started_at"`
	CurrentTable  string    `json:"current_table"`
	RowsProcessed int       `json:"rows_processed"`
	LastUpdated   time.Time `json:"last_updated"`
	Error         string    `json:"error,omitempty"`
}

// Recoverer reads and writes the sidecar at path. A mutex serializes access
// since the Synchronizer updates it from the sync goroutine while a status
// query can read it concurrently.
type Recoverer struct {
	path string
	mu   sync.Mutex
}

// New addresses the sidecar file at path.
func New(path string) *Recoverer {
	return &Recoverer{path: path}
}

// Write overwrites the sidecar with state.
func (r *Recoverer) Write(state State) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return syncerr.Wrap(syncerr.KindConfig, component, err, "create sidecar directory")
		}
	}
	b, err := json.Marshal(state)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "marshal crash state")
	}
	if err := os.WriteFile(r.path, b, 0o644); err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "write crash state sidecar")
	}
	return nil
}

// Read returns the sidecar's current contents. ok is false when no sidecar
// exists — the clean-shutdown case.
func (r *Recoverer) Read() (State, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, syncerr.Wrap(syncerr.KindConfig, component, err, "read crash state sidecar")
	}
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return State{}, false, syncerr.Wrap(syncerr.KindConfig, component, err, "parse crash state sidecar")
	}
	return state, true, nil
}

// Clear removes the sidecar, called on successful completion or on
// explicit dismissal of a stale running record.
func (r *Recoverer) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "remove crash state sidecar")
	}
	return nil
}
