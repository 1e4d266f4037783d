package scheduler

import (
	"sync"

	"github.com/toolwave/dispatch/internal/call"
)

// Registry manages one Scheduler per scheduler id, so a sub-agent's calls
// live in an isolated queue and active map instead of interleaving with the
// root agent's.
type Registry struct {
	mu        sync.Mutex
	factory   func(id string) *Scheduler
	instances map[string]*Scheduler
}

// NewRegistry creates a Registry. factory builds a Scheduler for a given
// scheduler id; it is invoked lazily, once per id.
func NewRegistry(factory func(id string) *Scheduler) *Registry {
	if factory == nil {
		panic("factory is required")
	}
	return &Registry{
		factory:   factory,
		instances: make(map[string]*Scheduler),
	}
}

// Get returns the Scheduler owning the given id, creating it on first use.
// An empty id maps to the root scheduler.
func (r *Registry) Get(id string) *Scheduler {
	if id == "" {
		id = call.RootSchedulerID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.instances[id]
	if !ok {
		s = r.factory(id)
		r.instances[id] = s
	}
	return s
}

// CancelAll propagates cancellation to every scheduler instance.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	instances := make([]*Scheduler, 0, len(r.instances))
	for _, s := range r.instances {
		instances = append(instances, s)
	}
	r.mu.Unlock()
	for _, s := range instances {
		s.CancelAll()
	}
}

// SurfacedCalls returns the aggregate view a display layer renders. Root
// calls are always surfaced. Non-root calls appear only while awaiting
// approval or approved and executing: purely background sub-agent activity
// with nothing pending stays out of the caller's view.
func (r *Registry) SurfacedCalls() []call.Snapshot {
	r.mu.Lock()
	instances := make([]*Scheduler, 0, len(r.instances))
	for _, s := range r.instances {
		instances = append(instances, s)
	}
	r.mu.Unlock()

	var out []call.Snapshot
	for _, s := range instances {
		for _, snap := range s.State().AllActiveCalls() {
			if s.ID() == call.RootSchedulerID || surfaceNonRoot(snap.Status) {
				out = append(out, snap)
			}
		}
	}
	return out
}

func surfaceNonRoot(st call.Status) bool {
	switch st {
	case call.StatusAwaitingApproval, call.StatusApproved, call.StatusExecuting:
		return true
	}
	return false
}
