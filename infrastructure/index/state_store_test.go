package index_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/infrastructure/index"
	"github.com/tracksync/tracksync/internal/testdb"
)

func TestStateStore_LoadEmpty(t *testing.T) {
	ctx := context.Background()
	store := index.NewStateStore(testdb.New(t))

	state, err := store.Load(ctx, "alfresco", tracker.KindMetadata, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "alfresco", state.Core())
	assert.Equal(t, tracker.KindMetadata, state.Kind())
	assert.Equal(t, int64(0), state.LastIndexedID())
	assert.Equal(t, time.Hour, state.HoleRetention())
}

func TestStateStore_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := index.NewStateStore(testdb.New(t))

	state := tracker.NewState("alfresco", tracker.KindMetadata, time.Hour).
		WithRunStart(time.UnixMilli(5_000)).
		WithServerHighWater(120, 9_000).
		WithIndexed(100, 8_000)
	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "alfresco", tracker.KindMetadata, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(100), loaded.LastIndexedID())
	assert.Equal(t, int64(8_000), loaded.LastIndexedCommitTime())
	assert.Equal(t, int64(120), loaded.LastIDOnServer())
	assert.Equal(t, int64(9_000), loaded.LastCommitTimeOnServer())
	assert.Equal(t, int64(5_000), loaded.LastRunStart())
	assert.Equal(t, time.Hour, loaded.HoleRetention(), "stored retention wins over the default")
}

func TestStateStore_KindsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store := index.NewStateStore(testdb.New(t))

	meta := tracker.NewState("alfresco", tracker.KindMetadata, time.Hour).WithIndexed(100, 8_000)
	acl := tracker.NewState("alfresco", tracker.KindAcl, time.Hour).WithIndexed(7, 6_000)
	require.NoError(t, store.Save(ctx, meta))
	require.NoError(t, store.Save(ctx, acl))

	loadedMeta, err := store.Load(ctx, "alfresco", tracker.KindMetadata, time.Hour)
	require.NoError(t, err)
	loadedAcl, err := store.Load(ctx, "alfresco", tracker.KindAcl, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(100), loadedMeta.LastIndexedID())
	assert.Equal(t, int64(7), loadedAcl.LastIndexedID())
}

func TestStateStore_StaleWriteRejected(t *testing.T) {
	ctx := context.Background()
	store := index.NewStateStore(testdb.New(t))

	newer := tracker.NewState("alfresco", tracker.KindMetadata, time.Hour).WithIndexed(100, 8_000)
	require.NoError(t, store.Save(ctx, newer))

	stale := tracker.NewState("alfresco", tracker.KindMetadata, time.Hour).WithIndexed(90, 7_000)
	err := store.Save(ctx, stale)
	require.ErrorIs(t, err, index.ErrStaleCheckpoint)

	loaded, err := store.Load(ctx, "alfresco", tracker.KindMetadata, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(100), loaded.LastIndexedID())
}

func TestStateStore_OverwriteAllowsRollback(t *testing.T) {
	ctx := context.Background()
	store := index.NewStateStore(testdb.New(t))

	state := tracker.NewState("alfresco", tracker.KindMetadata, time.Hour).WithIndexed(100, 8_000)
	require.NoError(t, store.Save(ctx, state))

	rolled := state.Rollback(50, 4_000)
	require.NoError(t, store.Overwrite(ctx, rolled))

	loaded, err := store.Load(ctx, "alfresco", tracker.KindMetadata, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(50), loaded.LastIndexedID())
	assert.Equal(t, int64(4_000), loaded.LastIndexedCommitTime())
}
