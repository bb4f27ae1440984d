package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/shard"
)

// ShardManager owns the live range policy for one core and serializes
// its one-time online expansion. Checks read the committed index for the
// observed max id and document count; expansion caps the index to the
// new upper bound before the widened range is recorded. The trackers
// route through the same LiveRangePolicy, so the widened range is
// published with one atomic swap.
type ShardManager struct {
	mu     sync.Mutex
	policy *shard.LiveRangePolicy
	engine domainindex.Engine
	logger *slog.Logger
}

// NewShardManager creates a ShardManager. The policy is nil for cores
// routed by explicit policy or not sharded at all.
func NewShardManager(policy *shard.LiveRangePolicy, engine domainindex.Engine, logger *slog.Logger) *ShardManager {
	return &ShardManager{policy: policy, engine: engine, logger: logger}
}

// Policy returns the current range policy.
func (m *ShardManager) Policy() (shard.RangePolicy, error) {
	if m.policy == nil {
		return shard.RangePolicy{}, ErrNoRangePolicy
	}
	return m.policy.Current(), nil
}

// RangeCheck computes the current expansion recommendation from the
// committed index.
func (m *ShardManager) RangeCheck(ctx context.Context) (shard.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return shard.CheckResult{}, ErrNoRangePolicy
	}

	maxID, count, err := m.observe(ctx)
	if err != nil {
		return shard.CheckResult{}, err
	}
	return m.policy.Current().RangeCheck(maxID, count), nil
}

// Expand grows the range by add. The index is capped at the current
// upper bound and hard-committed before the new end range and the
// expanded flag are recorded; a failed cap leaves the policy untouched.
func (m *ShardManager) Expand(ctx context.Context, add int64) (shard.RangePolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.policy == nil {
		return shard.RangePolicy{}, ErrNoRangePolicy
	}

	maxID, _, err := m.observe(ctx)
	if err != nil {
		return shard.RangePolicy{}, err
	}

	current := m.policy.Current()
	expanded, err := current.Expand(add, maxID)
	if err != nil {
		return current, err
	}

	if err := m.engine.Cap(ctx, document.TypeNode, current.End()-1); err != nil {
		return current, fmt.Errorf("cap index before expansion: %w", err)
	}

	m.policy.Replace(expanded)
	m.logger.Info("shard range expanded",
		slog.Int64("start", expanded.Start()),
		slog.Int64("end", expanded.End()),
		slog.Int64("added", add))
	return expanded, nil
}

func (m *ShardManager) observe(ctx context.Context) (maxID, count int64, err error) {
	maxID, err = m.engine.MaxField(ctx, document.TypeNode, document.FieldDBID)
	if err != nil {
		return 0, 0, fmt.Errorf("observe max node id: %w", err)
	}
	count, err = m.engine.Count(ctx, document.TypeNode)
	if err != nil {
		return 0, 0, fmt.Errorf("observe node count: %w", err)
	}
	return maxID, count, nil
}
