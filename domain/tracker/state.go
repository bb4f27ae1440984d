// Package tracker provides the per-core checkpoint state shared by the
// polling trackers.
package tracker

import "time"

// Kind identifies a tracker type within a core.
type Kind string

// Kind values.
const (
	KindMetadata Kind = "metadata"
	KindAcl      Kind = "acl"
	KindCascade  Kind = "cascade"
	KindContent  Kind = "content"
	KindModel    Kind = "model"
)

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// State is a tracker's durable checkpoint: the high-water mark up to
// which changes have been applied to the index, plus the latest ids and
// commit times observed on the server.
//
// lastIndexedID is non-decreasing across successful runs; it only moves
// backward through an explicit rollback.
type State struct {
	core                   string
	kind                   Kind
	lastIndexedID          int64
	lastIndexedCommitTime  int64
	lastIDOnServer         int64
	lastCommitTimeOnServer int64
	lastRunStart           int64
	holeRetention          time.Duration
	version                int64
}

// NewState creates an empty checkpoint for a core and tracker kind.
func NewState(core string, kind Kind, holeRetention time.Duration) State {
	return State{core: core, kind: kind, holeRetention: holeRetention}
}

// ReconstructState rebuilds a State from persisted checkpoint fields.
func ReconstructState(
	core string,
	kind Kind,
	lastIndexedID, lastIndexedCommitTime int64,
	lastIDOnServer, lastCommitTimeOnServer int64,
	lastRunStart int64,
	holeRetention time.Duration,
	version int64,
) State {
	return State{
		core:                   core,
		kind:                   kind,
		lastIndexedID:          lastIndexedID,
		lastIndexedCommitTime:  lastIndexedCommitTime,
		lastIDOnServer:         lastIDOnServer,
		lastCommitTimeOnServer: lastCommitTimeOnServer,
		lastRunStart:           lastRunStart,
		holeRetention:          holeRetention,
		version:                version,
	}
}

// Core returns the owning core name.
func (s State) Core() string { return s.core }

// Kind returns the tracker kind.
func (s State) Kind() Kind { return s.kind }

// LastIndexedID returns the highest durably applied id.
func (s State) LastIndexedID() int64 { return s.lastIndexedID }

// LastIndexedCommitTime returns the commit time of the last applied unit.
func (s State) LastIndexedCommitTime() int64 { return s.lastIndexedCommitTime }

// LastIDOnServer returns the newest id observed upstream.
func (s State) LastIDOnServer() int64 { return s.lastIDOnServer }

// LastCommitTimeOnServer returns the newest commit time observed upstream.
func (s State) LastCommitTimeOnServer() int64 { return s.lastCommitTimeOnServer }

// LastRunStart returns the start time (epoch ms) of the last run.
func (s State) LastRunStart() int64 { return s.lastRunStart }

// HoleRetention returns the out-of-order commit tolerance window.
func (s State) HoleRetention() time.Duration { return s.holeRetention }

// Version returns the checkpoint version used for stale-writer rejection.
func (s State) Version() int64 { return s.version }

// LastGoodCommitTimeBeforeHoles returns the commit-time floor below which
// everything is assumed durably indexed: out-of-order commits older than
// the hole-retention window are treated as permanently missing rather
// than re-scanned forever.
func (s State) LastGoodCommitTimeBeforeHoles() int64 {
	hole := s.holeRetention.Milliseconds()
	floor := s.lastIndexedCommitTime - hole
	if alt := s.lastRunStart - hole; alt > floor {
		floor = alt
	}
	if floor < 0 {
		return 0
	}
	return floor
}

// WithRunStart records a run start time, returning the updated state.
func (s State) WithRunStart(t time.Time) State {
	s.lastRunStart = t.UnixMilli()
	return s
}

// WithServerHighWater records the newest id/commit-time seen upstream.
func (s State) WithServerHighWater(id, commitTime int64) State {
	if id > s.lastIDOnServer {
		s.lastIDOnServer = id
	}
	if commitTime > s.lastCommitTimeOnServer {
		s.lastCommitTimeOnServer = commitTime
	}
	return s
}

// WithIndexed advances the checkpoint after a successful commit. The
// advance is monotonic: an older id or commit time leaves the checkpoint
// untouched.
func (s State) WithIndexed(id, commitTime int64) State {
	if id > s.lastIndexedID {
		s.lastIndexedID = id
	}
	if commitTime > s.lastIndexedCommitTime {
		s.lastIndexedCommitTime = commitTime
	}
	s.version++
	return s
}

// Rollback resets the checkpoint to the given durable id/commit-time
// pair. This is the only path that moves lastIndexedID backward.
func (s State) Rollback(id, commitTime int64) State {
	s.lastIndexedID = id
	s.lastIndexedCommitTime = commitTime
	s.version++
	return s
}

// NewerThan reports whether this checkpoint supersedes the other. A
// checkpoint write is only accepted when the incoming id/commit-time
// pair is newer than the stored one, so a stale writer can never regress
// a checkpoint it did not observe.
func (s State) NewerThan(other State) bool {
	if s.lastIndexedCommitTime != other.lastIndexedCommitTime {
		return s.lastIndexedCommitTime > other.lastIndexedCommitTime
	}
	return s.lastIndexedID > other.lastIndexedID
}
