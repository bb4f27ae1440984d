package shard

import "sync/atomic"

// LiveRangePolicy holds a RangePolicy that may be widened while trackers
// route against it. Routing loads the current policy through an atomic
// pointer, so a reader never observes a half-applied expansion and never
// blocks on one in flight.
type LiveRangePolicy struct {
	p atomic.Pointer[RangePolicy]
}

// NewLiveRangePolicy creates a LiveRangePolicy holding p.
func NewLiveRangePolicy(p RangePolicy) *LiveRangePolicy {
	l := &LiveRangePolicy{}
	l.p.Store(&p)
	return l
}

// Current returns the policy as of this call.
func (l *LiveRangePolicy) Current() RangePolicy { return *l.p.Load() }

// Replace installs p as the current policy.
func (l *LiveRangePolicy) Replace(p RangePolicy) { l.p.Store(&p) }

// Owns routes against the current policy.
func (l *LiveRangePolicy) Owns(id int64) bool { return l.p.Load().Owns(id) }
