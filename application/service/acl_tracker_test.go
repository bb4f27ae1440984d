package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/acl"
	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
	"github.com/tracksync/tracksync/internal/config"
)

func newTestAclTracker(t *testing.T, client *fakeClient, engine *fakeEngine, states *memStateStore) *AclTracker {
	t.Helper()
	at, err := NewAclTracker(
		testCore, client, engine, states,
		NewSynchronizer("default"), NewRegistry(),
		nil, config.NewTrackerConfig(), testLogger(),
	)
	require.NoError(t, err)
	return at
}

func TestAclTracker_RunOnce_IndexesReadersAndAdvances(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	client.changeSets = []txn.AclChangeSet{txn.NewAclChangeSet(7, 700, 2)}
	client.aclsBySet[7] = []int64{40, 41}
	client.readers[40] = acl.NewReaders(40, 7, []string{"alice"}, nil)
	client.readers[41] = acl.NewReaders(41, 7, []string{"GROUP_staff"}, []string{"bob"})

	at := newTestAclTracker(t, client, engine, states)
	require.NoError(t, at.RunOnce(context.Background()))

	aclDoc, ok := engine.committed[document.NewKey("default", 41, document.TypeAcl).String()]
	require.True(t, ok)
	assert.Equal(t, []string{"GROUP_staff@default"}, aclDoc.fields[document.FieldReaders])
	assert.Equal(t, []string{"bob"}, aclDoc.fields[document.FieldDenied])

	_, ok = engine.committed[document.NewKey("default", 7, document.TypeAclChangeSet).String()]
	assert.True(t, ok, "change-set marker must be indexed")

	state, err := states.Load(context.Background(), testCore, tracker.KindAcl, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), state.LastIndexedID())
}

func TestAclTracker_RunOnce_DemotesPoisonedAcl(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	client.changeSets = []txn.AclChangeSet{txn.NewAclChangeSet(8, 800, 2)}
	client.aclsBySet[8] = []int64{50, 51}
	client.readers[50] = acl.NewReaders(50, 8, []string{"alice"}, nil)
	// acl 51 has no readers response; the fake returns a permanent error.

	at := newTestAclTracker(t, client, engine, states)
	require.NoError(t, at.RunOnce(context.Background()))

	_, ok := engine.committed[document.NewKey("default", 50, document.TypeAcl).String()]
	assert.True(t, ok, "healthy acl still indexes")
	_, ok = engine.committed[document.NewKey("default", 51, document.TypeErrorNode).String()]
	assert.True(t, ok, "poisoned acl demotes to an error document")

	state, err := states.Load(context.Background(), testCore, tracker.KindAcl, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), state.LastIndexedID(), "change-set still completes")
}

func TestAclTracker_RunOnce_EmptyBatchIsNoOp(t *testing.T) {
	client := newFakeClient()
	engine := newFakeEngine()
	states := newMemStateStore()

	at := newTestAclTracker(t, client, engine, states)
	require.NoError(t, at.RunOnce(context.Background()))
	assert.Zero(t, states.saves)
	assert.Zero(t, engine.commits)
}
