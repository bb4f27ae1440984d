package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
	"github.com/tracksync/tracksync/internal/config"
)

const testCore = "alpha"

func newTestMetadataTracker(t *testing.T, client *fakeClient, engine *fakeEngine, states *memStateStore, registry *Registry) *MetadataTracker {
	t.Helper()
	mt, err := NewMetadataTracker(
		testCore, client, engine, states,
		NewSynchronizer("default"), registry,
		nil, nil,
		config.NewTrackerConfig(), testLogger(),
	)
	require.NoError(t, err)
	return mt
}

func folderMeta(id, txnID int64, ref, path string) node.Metadata {
	return node.NewMetadata(id, txnID, 1, "").
		Type("cm:folder").
		NodeRef(ref).
		Path(path).
		Build()
}

func TestMetadataTracker_RunOnce_IndexesAndAdvancesCheckpoint(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	client.txns = []txn.Transaction{txn.NewTransaction(10, 1000, 1, 0)}
	client.nodesByTxn[10] = []node.Node{node.NewNode(100, 10, 1, node.StatusUpdated, "")}
	client.metadata[100] = node.NewMetadata(100, 10, 1, "").
		Type("cm:content").
		NodeRef("ref-100").
		Path("/company/doc").
		Owner("alice").
		Build()

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	require.NoError(t, mt.RunOnce(context.Background()))

	nodeDoc, ok := engine.committed[document.NewKey("default", 100, document.TypeNode).String()]
	require.True(t, ok)
	assert.Equal(t, int64(100), nodeDoc.fields[document.FieldDBID])
	assert.Equal(t, "/company/doc", nodeDoc.fields[document.FieldPath])
	assert.Equal(t, "alice", nodeDoc.fields[document.FieldOwner])

	_, ok = engine.committed[document.NewKey("default", 10, document.TypeTxn).String()]
	assert.True(t, ok, "transaction marker should be indexed")

	state, err := states.Load(context.Background(), testCore, tracker.KindMetadata, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(10), state.LastIndexedID())
	assert.Equal(t, int64(1000), state.LastIndexedCommitTime())
}

func TestMetadataTracker_RunOnce_FreshCheckpointReachesOldHistory(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	// The repository's entire history predates the hole-retention window.
	// A fresh core has no previous run, so its commit-time floor is zero
	// and the first pass must still see these transactions.
	old := txn.NewTransaction(3, 1000, 1, 0)
	client.txns = []txn.Transaction{old}
	client.nodesByTxn[3] = []node.Node{node.NewNode(50, 3, 1, node.StatusUpdated, "")}
	client.metadata[50] = node.NewMetadata(50, 3, 1, "").Type("cm:content").Build()

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	require.NoError(t, mt.RunOnce(context.Background()))

	_, ok := engine.committed[document.NewKey("default", 50, document.TypeNode).String()]
	assert.True(t, ok, "history older than the retention window still indexes on a fresh core")

	state, err := states.Load(context.Background(), testCore, tracker.KindMetadata, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), state.LastIndexedID())
}

func TestMetadataTracker_RunOnce_TransientFetchLeavesCheckpoint(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()
	client.txnErr = fmt.Errorf("repository unreachable: %w", repo.ErrTransient)

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	err := mt.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, repo.IsTransient(err))
	assert.Zero(t, states.saves)
	assert.Zero(t, engine.commits)
}

func TestMetadataTracker_RunOnce_SkipsNodeFromLaterTransaction(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	client.txns = []txn.Transaction{txn.NewTransaction(10, 1000, 1, 0)}
	client.nodesByTxn[10] = []node.Node{node.NewNode(100, 10, 1, node.StatusUpdated, "")}
	// The node has meanwhile been rewritten by transaction 20; indexing
	// its current metadata under transaction 10 would apply it early.
	client.metadata[100] = node.NewMetadata(100, 20, 1, "").
		Type("cm:content").
		Path("/moved").
		Build()

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	require.NoError(t, mt.RunOnce(context.Background()))

	_, ok := engine.committed[document.NewKey("default", 100, document.TypeNode).String()]
	assert.False(t, ok, "node from a later transaction must wait for that transaction")
	_, ok = engine.committed[document.NewKey("default", 10, document.TypeTxn).String()]
	assert.True(t, ok, "transaction marker still records the applied transaction")
}

func TestMetadataTracker_RunOnce_DeleteRemovesNodeAndErrorDoc(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()
	syncer := NewSynchronizer("default")

	seed := document.NewDocument(syncer.NodeKey("", 100)).
		With(document.FieldDBID, document.Set(int64(100)))
	errDoc := syncer.ErrorNodeDocument("", 100, 5, errors.New("old failure"))
	require.NoError(t, engine.seedDocs(seed, errDoc))

	client.txns = []txn.Transaction{txn.NewTransaction(11, 1100, 0, 1)}
	client.nodesByTxn[11] = []node.Node{node.NewNode(100, 11, 1, node.StatusDeleted, "")}

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	require.NoError(t, mt.RunOnce(context.Background()))

	_, ok := engine.committed[syncer.NodeKey("", 100).String()]
	assert.False(t, ok, "node document must be removed")
	_, ok = engine.committed[syncer.ErrorNodeKey("", 100).String()]
	assert.False(t, ok, "stale error document must be removed")
}

func TestMetadataTracker_RunOnce_BulkFallbackDemotesPoisonedNode(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	client.txns = []txn.Transaction{txn.NewTransaction(12, 1200, 2, 0)}
	client.nodesByTxn[12] = []node.Node{
		node.NewNode(100, 12, 1, node.StatusUpdated, ""),
		node.NewNode(101, 12, 1, node.StatusUpdated, ""),
	}
	client.metadata[100] = node.NewMetadata(100, 12, 1, "").Type("cm:content").Build()
	client.bulkMetaErr = errors.New("malformed metadata in batch")
	client.metaErrs[101] = errors.New("node 101 metadata corrupt")

	mt := newTestMetadataTracker(t, client, engine, states, NewRegistry())
	require.NoError(t, mt.RunOnce(context.Background()))

	_, ok := engine.committed[document.NewKey("default", 100, document.TypeNode).String()]
	assert.True(t, ok, "healthy node still indexes via per-node fallback")

	errKey := document.NewKey("default", 101, document.TypeErrorNode).String()
	errDoc, ok := engine.committed[errKey]
	require.True(t, ok, "poisoned node demotes to an error document")
	assert.Equal(t, int64(101), errDoc.fields[document.FieldDBID])
	assert.Contains(t, errDoc.fields[document.FieldErrorMessage], "corrupt")
}

func TestMetadataTracker_RunOnce_CommitFailureRollsBackAndInvalidates(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()
	registry := NewRegistry()

	client.txns = []txn.Transaction{txn.NewTransaction(13, 1300, 1, 0)}
	client.nodesByTxn[13] = []node.Node{node.NewNode(100, 13, 1, node.StatusUpdated, "")}
	client.metadata[100] = node.NewMetadata(100, 13, 1, "").Type("cm:content").Build()
	engine.commitErr = errors.New("index unavailable")

	before := registry.Current(testCore)
	mt := newTestMetadataTracker(t, client, engine, states, registry)
	err := mt.RunOnce(context.Background())
	require.Error(t, err)

	assert.Greater(t, registry.Current(testCore), before, "commit failure bumps the generation")
	assert.Zero(t, states.saves, "checkpoint must not advance past a failed commit")
	assert.NotZero(t, engine.rollbacks)
}

func TestMetadataTracker_RunOnce_AbortsWhenGenerationSuperseded(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()
	registry := NewRegistry()

	client.txns = []txn.Transaction{txn.NewTransaction(14, 1400, 1, 0)}
	client.nodesByTxn[14] = []node.Node{node.NewNode(100, 14, 1, node.StatusUpdated, "")}
	client.metadata[100] = node.NewMetadata(100, 14, 1, "").Type("cm:content").Build()
	// Another actor invalidates the core between fetch and apply.
	client.onNodes = func() { registry.Invalidate(testCore) }

	mt := newTestMetadataTracker(t, client, engine, states, registry)
	err := mt.RunOnce(context.Background())
	require.ErrorIs(t, err, ErrRunAborted)
	assert.Empty(t, engine.committed)
	assert.Zero(t, states.saves)
}
