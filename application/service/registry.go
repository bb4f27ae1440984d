package service

import (
	"fmt"
	"sync"
)

// Registry tracks a run generation per core. A tracker run captures the
// generation when it starts and validates it before every mutating call;
// a rollback bumps the generation, so any in-flight run on that core
// fails its next mutating call instead of writing over the rolled-back
// state. Reads take the shared lock so trackers of different kinds run
// concurrently; invalidation is exclusive.
type Registry struct {
	mu          sync.RWMutex
	generations map[string]int64
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{generations: map[string]int64{}}
}

// Current returns the core's current run generation.
func (r *Registry) Current(core string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generations[core]
}

// Validate returns ErrRunAborted when the captured generation no longer
// matches the core's current one.
func (r *Registry) Validate(core string, generation int64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.generations[core] != generation {
		return fmt.Errorf("%w: core %s generation %d superseded by %d",
			ErrRunAborted, core, generation, r.generations[core])
	}
	return nil
}

// Invalidate bumps the core's generation, aborting every in-flight run
// on it, and returns the new generation.
func (r *Registry) Invalidate(core string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[core]++
	return r.generations[core]
}
