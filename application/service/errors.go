package service

import "errors"

// Service-level sentinel errors.
var (
	// ErrRunAborted indicates a tracker run was invalidated by a
	// rollback on the same core before it could commit.
	ErrRunAborted = errors.New("tracker run aborted by rollback")

	// ErrNoRangePolicy indicates a range-router operation was requested
	// on a core that routes by explicit policy or not at all.
	ErrNoRangePolicy = errors.New("core has no range policy")
)
