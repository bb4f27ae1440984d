// Package shard provides the routing policies that decide which physical
// shard owns a given node or ACL identifier.
package shard

import (
	"errors"
	"fmt"
)

// Router decides whether an identifier belongs to this shard instance.
type Router interface {
	// Owns reports whether the given id is routed to this instance.
	Owns(id int64) bool
}

// Policy errors.
var (
	ErrNoShards           = errors.New("shard policy declares no shards")
	ErrShardGap           = errors.New("shard ids do not partition the shard space")
	ErrShardOutOfRange    = errors.New("shard id outside the declared shard count")
	ErrReplicaMismatch    = errors.New("shard replica counts do not match the replication factor")
	ErrAlreadyExpanded    = errors.New("shard range already expanded")
	ErrRangeUninitialized = errors.New("shard range has never been initialized")
	ErrUnsafeToExpand     = errors.New("max indexed id is past the safe boundary")
	ErrNotExpandable      = errors.New("expansion amount must be positive")
)

// ExplicitPolicy is a fixed mapping from this shard instance to a set of
// shard ids, validated at startup against the full cluster layout.
type ExplicitPolicy struct {
	shardCount int
	ownedIDs   map[int]struct{}
}

// NewExplicitPolicy creates an ExplicitPolicy owning the given shard ids
// out of shardCount total shards.
func NewExplicitPolicy(shardCount int, ownedIDs []int) (ExplicitPolicy, error) {
	if shardCount <= 0 || len(ownedIDs) == 0 {
		return ExplicitPolicy{}, ErrNoShards
	}
	owned := make(map[int]struct{}, len(ownedIDs))
	for _, id := range ownedIDs {
		if id < 0 || id >= shardCount {
			return ExplicitPolicy{}, fmt.Errorf("%w: shard %d of %d", ErrShardOutOfRange, id, shardCount)
		}
		owned[id] = struct{}{}
	}
	return ExplicitPolicy{shardCount: shardCount, ownedIDs: owned}, nil
}

// ShardCount returns the total number of shards in the cluster.
func (p ExplicitPolicy) ShardCount() int { return p.shardCount }

// OwnedShards returns the shard ids owned by this instance.
func (p ExplicitPolicy) OwnedShards() []int {
	out := make([]int, 0, len(p.ownedIDs))
	for id := range p.ownedIDs {
		out = append(out, id)
	}
	return out
}

// Owns routes an identifier by modulo over the shard count and reports
// whether the resulting shard id is owned by this instance.
func (p ExplicitPolicy) Owns(id int64) bool {
	shardID := int(id % int64(p.shardCount))
	_, ok := p.ownedIDs[shardID]
	return ok
}

// ValidateLayout checks that the given per-node shard assignments
// partition the full shard space: every shard id in [0, shardCount)
// must appear exactly replicationFactor times across all nodes.
func ValidateLayout(shardCount, replicationFactor int, nodeShards map[string][]int) error {
	if shardCount <= 0 {
		return ErrNoShards
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	seen := make(map[int]int, shardCount)
	for node, ids := range nodeShards {
		for _, id := range ids {
			if id < 0 || id >= shardCount {
				return fmt.Errorf("%w: node %s declares shard %d of %d", ErrShardOutOfRange, node, id, shardCount)
			}
			seen[id]++
		}
	}

	for id := 0; id < shardCount; id++ {
		count := seen[id]
		if count == 0 {
			return fmt.Errorf("%w: shard %d unassigned", ErrShardGap, id)
		}
		if count != replicationFactor {
			return fmt.Errorf("%w: shard %d has %d replicas, want %d", ErrReplicaMismatch, id, count, replicationFactor)
		}
	}
	return nil
}
