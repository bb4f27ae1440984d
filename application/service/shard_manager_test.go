package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/shard"
)

func seedNodeIDs(t *testing.T, engine *fakeEngine, ids ...int64) {
	t.Helper()
	syncer := NewSynchronizer("default")
	for _, id := range ids {
		doc := document.NewDocument(syncer.NodeKey("", id)).
			With(document.FieldDBID, document.Set(id))
		require.NoError(t, engine.seedDocs(doc))
	}
}

func TestShardManager_NoPolicy(t *testing.T) {
	m := NewShardManager(nil, newFakeEngine(), testLogger())

	_, err := m.Policy()
	require.ErrorIs(t, err, ErrNoRangePolicy)
	_, err = m.RangeCheck(context.Background())
	require.ErrorIs(t, err, ErrNoRangePolicy)
	_, err = m.Expand(context.Background(), 100)
	require.ErrorIs(t, err, ErrNoRangePolicy)
}

func TestShardManager_RangeCheckObservesIndex(t *testing.T) {
	engine := newFakeEngine()
	seedNodeIDs(t, engine, 10, 20, 95)

	policy := shard.NewRangePolicy(0, 100)
	m := NewShardManager(shard.NewLiveRangePolicy(policy), engine, testLogger())

	result, err := m.RangeCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, policy.RangeCheck(95, 3), result)
}

func TestShardManager_ExpandCapsIndexAndGrowsRange(t *testing.T) {
	engine := newFakeEngine()
	seedNodeIDs(t, engine, 50, 60)

	policy := shard.NewRangePolicy(0, 100)
	m := NewShardManager(shard.NewLiveRangePolicy(policy), engine, testLogger())

	expanded, err := m.Expand(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(200), expanded.End())
	assert.True(t, expanded.Expanded())

	require.Equal(t, []int64{99}, engine.capped, "index capped at the old upper bound first")

	current, err := m.Policy()
	require.NoError(t, err)
	assert.Equal(t, int64(200), current.End())
}

func TestShardManager_RejectedExpansionLeavesPolicy(t *testing.T) {
	engine := newFakeEngine()
	policy := shard.NewRangePolicy(0, 100)
	m := NewShardManager(shard.NewLiveRangePolicy(policy), engine, testLogger())

	_, err := m.Expand(context.Background(), -5)
	require.Error(t, err)

	current, perr := m.Policy()
	require.NoError(t, perr)
	assert.Equal(t, int64(100), current.End())
	assert.False(t, current.Expanded())
	assert.Empty(t, engine.capped, "no cap happens when the expansion is rejected")
}

func TestShardManager_ExpandPublishesToSharedRouting(t *testing.T) {
	engine := newFakeEngine()
	seedNodeIDs(t, engine, 40)

	live := shard.NewLiveRangePolicy(shard.NewRangePolicy(0, 100))
	m := NewShardManager(live, engine, testLogger())

	// The trackers route through the same live policy the manager
	// mutates, so the widened range must be visible through it.
	require.False(t, live.Owns(150))

	_, err := m.Expand(context.Background(), 100)
	require.NoError(t, err)

	assert.True(t, live.Owns(150))
	assert.Equal(t, int64(200), live.Current().End())
}
