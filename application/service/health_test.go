package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/txn"
	"github.com/tracksync/tracksync/internal/config"
)

func seedTxnMarkers(t *testing.T, engine *fakeEngine, ids ...int64) {
	t.Helper()
	syncer := NewSynchronizer("default")
	for _, id := range ids {
		doc := syncer.TxnDocument(txn.NewTransaction(id, id*100, 1, 0))
		require.NoError(t, engine.seedDocs(doc))
	}
}

func TestHealthReporter_DetectsDrift(t *testing.T) {
	engine := newFakeEngine()
	seedTxnMarkers(t, engine, 1, 2, 3, 4)
	// A second copy of transaction 3 exists in the index.
	engine.addFacetExtra(document.TypeTxn, document.FieldDBID, 3, 1)

	reporter := NewHealthReporter(engine, config.NewHealthConfig(), testLogger())
	report, err := reporter.Report(context.Background(), []int64{1, 2, 3, 5}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{4}, report.TxInIndexNotInDB())
	assert.Equal(t, []int64{5}, report.TxMissingFromIndex())
	assert.Equal(t, []int64{3}, report.TxDuplicated())
	assert.False(t, report.Clean())
	assert.NotEmpty(t, report.ID())
}

func TestHealthReporter_CleanIndex(t *testing.T) {
	engine := newFakeEngine()
	seedTxnMarkers(t, engine, 1, 2, 3)

	reporter := NewHealthReporter(engine, config.NewHealthConfig(), testLogger())
	report, err := reporter.Report(context.Background(), []int64{1, 2, 3}, nil)
	require.NoError(t, err)

	assert.True(t, report.Clean())
	assert.Zero(t, report.TotalFindings())
}

func TestHealthReporter_SmallWindowsCoverWholeRange(t *testing.T) {
	engine := newFakeEngine()
	seedTxnMarkers(t, engine, 1, 7)

	cfg := config.NewHealthConfig().WithWindowSize(2).WithParallelism(2)
	reporter := NewHealthReporter(engine, cfg, testLogger())
	report, err := reporter.Report(context.Background(), []int64{1, 4, 7}, nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{4}, report.TxMissingFromIndex())
	assert.Empty(t, report.TxInIndexNotInDB())
}

func TestHealthReporter_ReportsChangeSetDrift(t *testing.T) {
	engine := newFakeEngine()
	syncer := NewSynchronizer("default")
	cs := syncer.ChangeSetDocument(txn.NewAclChangeSet(9, 900, 2))
	require.NoError(t, engine.seedDocs(cs))

	reporter := NewHealthReporter(engine, config.NewHealthConfig(), testLogger())
	report, err := reporter.Report(context.Background(), nil, []int64{9, 10})
	require.NoError(t, err)

	assert.Equal(t, []int64{10}, report.AclMissingFromIndex())
	assert.Empty(t, report.AclInIndexNotInDB())
}

func TestHealthReporter_SurfacesDuplicateDocCounts(t *testing.T) {
	engine := newFakeEngine()
	engine.dupCounts[document.TypeNode] = 2
	engine.dupCounts[document.TypeUnindexedNode] = 1

	reporter := NewHealthReporter(engine, config.NewHealthConfig(), testLogger())
	report, err := reporter.Report(context.Background(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.DuplicatedNodeDocs())
	assert.Equal(t, int64(1), report.DuplicatedUnindexedDocs())
	assert.Zero(t, report.DuplicatedErrorDocs())
	assert.False(t, report.Clean())
}
