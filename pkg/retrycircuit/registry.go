package retrycircuit

import (
	"sync"

	"github.com/go-logr/logr"
)

// Registry hands out one Circuit per dependency name, creating it lazily
// on first use and reusing it afterward so breaker state persists across
// calls.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*Circuit
	cfg      Config
	log      logr.Logger
}

// NewRegistry builds a Registry that constructs every Circuit with cfg.
func NewRegistry(cfg Config, log logr.Logger) *Registry {
	return &Registry{
		circuits: make(map[string]*Circuit),
		cfg:      cfg,
		log:      log,
	}
}

// For returns the Circuit for dependency, creating it if this is the first
// call for that name.
func (r *Registry) For(dependency string) *Circuit {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.circuits[dependency]; ok {
		return c
	}
	c := New(dependency, r.cfg, r.log)
	r.circuits[dependency] = c
	return c
}

// Names lists every dependency a Circuit has been created for so far, for
// a metrics poller to walk without knowing the dependency set up front.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	return names
}
