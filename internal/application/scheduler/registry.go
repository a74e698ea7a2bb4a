package scheduler

import (
	"sync"
	"sync/atomic"
	"time"
)

// run holds the per-invocation state tracked by the registry: the shared
// cancellation signal and the full node set reachable from the roots.
type run struct {
	id        string
	cancel    func()
	nodes     map[string]*Node
	opts      Options
	startedAt time.Time
}

// Registry maps run identifiers to their cancellation signal and node set.
// It is owned by the Engine that created it, so tests get isolated
// registries instead of process-wide shared state.
type Registry struct {
	runs  sync.Map // map[string]*run
	count atomic.Int64
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(rn *run) {
	r.runs.Store(rn.id, rn)
	r.count.Add(1)
}

// remove detaches the run, reporting false when the id is unknown or
// already removed. This is what makes Stop idempotent.
func (r *Registry) remove(runID string) (*run, bool) {
	v, ok := r.runs.LoadAndDelete(runID)
	if !ok {
		return nil, false
	}
	r.count.Add(-1)
	return v.(*run), true
}

func (r *Registry) get(runID string) (*run, bool) {
	v, ok := r.runs.Load(runID)
	if !ok {
		return nil, false
	}
	return v.(*run), true
}

// Len returns the number of active runs.
func (r *Registry) Len() int {
	return int(r.count.Load())
}
