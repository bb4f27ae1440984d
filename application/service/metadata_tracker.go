package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/shard"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
	"github.com/tracksync/tracksync/internal/config"
)

// StateStore persists tracker checkpoints.
type StateStore interface {
	Load(ctx context.Context, core string, kind tracker.Kind, holeRetention time.Duration) (tracker.State, error)
	Save(ctx context.Context, state tracker.State) error
	Overwrite(ctx context.Context, state tracker.State) error
}

// MetadataTracker polls transactions and drives node (re)indexing.
type MetadataTracker struct {
	core     string
	client   repo.Client
	engine   domainindex.Engine
	states   StateStore
	sync     *Synchronizer
	registry *Registry
	router   shard.Router
	cascade  *CascadeTracker
	cfg      config.TrackerConfig
	logger   *slog.Logger

	processed *idCache
	now       func() time.Time
}

// NewMetadataTracker creates a MetadataTracker. The router may be nil,
// meaning this instance owns every id; cascade may be nil when cascade
// tracking is disabled.
func NewMetadataTracker(
	core string,
	client repo.Client,
	engine domainindex.Engine,
	states StateStore,
	syncer *Synchronizer,
	registry *Registry,
	router shard.Router,
	cascade *CascadeTracker,
	cfg config.TrackerConfig,
	logger *slog.Logger,
) (*MetadataTracker, error) {
	processed, err := newIDCache(cfg.CacheSize())
	if err != nil {
		return nil, fmt.Errorf("create transaction cache: %w", err)
	}
	return &MetadataTracker{
		core:      core,
		client:    client,
		engine:    engine,
		states:    states,
		sync:      syncer,
		registry:  registry,
		router:    router,
		cascade:   cascade,
		cfg:       cfg,
		logger:    logger,
		processed: processed,
		now:       time.Now,
	}, nil
}

// Kind returns the tracker kind for scheduling.
func (t *MetadataTracker) Kind() tracker.Kind { return tracker.KindMetadata }

// RunOnce executes one poll-project-commit cycle. A transient repository
// failure or an abort leaves the checkpoint untouched; the next
// scheduled run retries from it.
func (t *MetadataTracker) RunOnce(ctx context.Context) error {
	generation := t.registry.Current(t.core)

	state, err := t.states.Load(ctx, t.core, tracker.KindMetadata, t.cfg.HoleRetention())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	// The floor derives from the previous run's persisted start, so it
	// must be read before this run stamps its own.
	floor := state.LastGoodCommitTimeBeforeHoles()
	state = state.WithRunStart(t.now())

	batch := t.engine.Begin()

	txns, err := t.client.Transactions(ctx, floor, state.LastIndexedID(), t.cfg.BatchSize())
	if err != nil {
		t.logger.Warn("transaction fetch failed",
			slog.String("core", t.core),
			slog.String("error", err.Error()))
		return err
	}
	if len(txns) == 0 {
		return nil
	}

	applied := make([]txn.Transaction, 0, len(txns))
	for _, tx := range txns {
		state = state.WithServerHighWater(tx.ID(), tx.CommitTimeMs())
		if t.processed.Contains(tx.ID()) {
			continue
		}
		if err := t.applyTransaction(ctx, batch, generation, tx); err != nil {
			t.abort(ctx, batch)
			return err
		}
		applied = append(applied, tx)
	}

	if err := t.registry.Validate(t.core, generation); err != nil {
		t.abort(ctx, batch)
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		t.rollback(ctx, batch)
		return fmt.Errorf("commit transaction batch: %w", err)
	}

	for _, tx := range applied {
		state = state.WithIndexed(tx.ID(), tx.CommitTimeMs())
		t.processed.Add(tx.ID())
	}
	if err := t.states.Save(ctx, state); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	t.logger.Info("metadata pass complete",
		slog.String("core", t.core),
		slog.Int("transactions", len(applied)),
		slog.Int64("last_indexed_id", state.LastIndexedID()))
	return nil
}

// applyTransaction buffers every index mutation for one transaction:
// deletions first, then updated-node projections, the transaction
// marker, and finally the cascade repairs it triggers.
func (t *MetadataTracker) applyTransaction(ctx context.Context, batch domainindex.Batch, generation int64, tx txn.Transaction) error {
	nodes, err := t.client.Nodes(ctx, []int64{tx.ID()})
	if err != nil {
		return fmt.Errorf("fetch nodes for txn %d: %w", tx.ID(), err)
	}

	var updates []node.Node
	for _, n := range nodes {
		if n.Status().IsDelete(t.cascade != nil) {
			if err := t.deleteNode(ctx, batch, generation, n); err != nil {
				return err
			}
			continue
		}
		updates = append(updates, n)
	}

	metas, err := t.fetchMetadata(ctx, batch, generation, tx, updates)
	if err != nil {
		return err
	}

	var indexed []node.Metadata
	for _, meta := range metas {
		// A node whose effective transaction is later than the one
		// driving this run belongs to that later transaction; indexing
		// it now would apply data out of order.
		if meta.TxnID() > tx.ID() {
			continue
		}
		if err := t.indexNode(ctx, batch, generation, tx, meta); err != nil {
			return err
		}
		indexed = append(indexed, meta)
	}

	if err := t.registry.Validate(t.core, generation); err != nil {
		return err
	}
	if err := batch.Index(ctx, t.sync.TxnDocument(tx)); err != nil {
		return fmt.Errorf("index txn marker %d: %w", tx.ID(), err)
	}

	if t.cascade != nil {
		if err := t.cascade.RunForTransaction(ctx, batch, generation, tx.ID(), indexed); err != nil {
			return err
		}
	}
	return nil
}

// fetchMetadata bulk-fetches metadata for the updated nodes, falling
// back to per-item fetches when the bulk call fails for a non-transient
// reason. The fallback isolates a poisoned item: every other node still
// indexes, and the failing one is demoted to an error document.
func (t *MetadataTracker) fetchMetadata(ctx context.Context, batch domainindex.Batch, generation int64, tx txn.Transaction, updates []node.Node) ([]node.Metadata, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(updates))
	byID := make(map[int64]node.Node, len(updates))
	for _, n := range updates {
		ids = append(ids, n.ID())
		byID[n.ID()] = n
	}

	metas, err := t.client.NodeMetadata(ctx, repo.MetadataRequest{
		NodeIDs: ids,
		Options: node.FullFetch(),
	})
	if err == nil {
		return metas, nil
	}
	if repo.IsTransient(err) {
		return nil, fmt.Errorf("bulk metadata fetch for txn %d: %w", tx.ID(), err)
	}

	t.logger.Warn("bulk metadata fetch failed, retrying per node",
		slog.Int64("txn_id", tx.ID()),
		slog.Int("nodes", len(ids)),
		slog.String("error", err.Error()))

	var (
		group, groupCtx = errgroup.WithContext(ctx)
		results         = make([][]node.Metadata, len(ids))
	)
	group.SetLimit(4)
	for i, id := range ids {
		i, id := i, id
		group.Go(func() error {
			single, err := t.client.NodeMetadata(groupCtx, repo.MetadataRequest{
				NodeIDs: []int64{id},
				Options: node.FullFetch(),
			})
			if err != nil {
				if repo.IsTransient(err) {
					return err
				}
				n := byID[id]
				if verr := t.registry.Validate(t.core, generation); verr != nil {
					return verr
				}
				return batch.Index(groupCtx,
					t.sync.ErrorNodeDocument(n.Tenant(), id, tx.ID(), err))
			}
			results[i] = single
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var metas2 []node.Metadata
	for _, r := range results {
		metas2 = append(metas2, r...)
	}
	return metas2, nil
}

func (t *MetadataTracker) deleteNode(ctx context.Context, batch domainindex.Batch, generation int64, n node.Node) error {
	if err := t.registry.Validate(t.core, generation); err != nil {
		return err
	}
	// A stale error document would otherwise survive the node's removal
	// and keep the id in the retry set forever.
	if err := batch.DeleteByKey(ctx, t.sync.ErrorNodeKey(n.Tenant(), n.ID())); err != nil {
		return fmt.Errorf("purge error document for node %d: %w", n.ID(), err)
	}
	if err := batch.DeleteByQuery(ctx, document.TypeNode,
		store.WithCondition(document.FieldDBID, n.ID())); err != nil {
		return fmt.Errorf("delete node %d: %w", n.ID(), err)
	}
	if err := batch.DeleteByQuery(ctx, document.TypeUnindexedNode,
		store.WithCondition(document.FieldDBID, n.ID())); err != nil {
		return fmt.Errorf("delete unindexed stub %d: %w", n.ID(), err)
	}
	return nil
}

func (t *MetadataTracker) indexNode(ctx context.Context, batch domainindex.Batch, generation int64, tx txn.Transaction, meta node.Metadata) error {
	if err := t.registry.Validate(t.core, generation); err != nil {
		return err
	}
	if t.router != nil && !t.router.Owns(meta.ID()) {
		if t.cascade == nil {
			return nil
		}
		return batch.Index(ctx, t.sync.UnindexedNodeDocument(meta))
	}
	// Replacing the real document also retires any error document left
	// from a previous failed attempt.
	if err := batch.DeleteByKey(ctx, t.sync.ErrorNodeKey(meta.Tenant(), meta.ID())); err != nil {
		return err
	}
	if err := batch.Index(ctx, t.sync.NodeDocument(meta)); err != nil {
		return batch.Index(ctx, t.sync.ErrorNodeDocument(meta.Tenant(), meta.ID(), tx.ID(), err))
	}
	return nil
}

// abort discards the run's batch without touching the checkpoint.
func (t *MetadataTracker) abort(ctx context.Context, batch domainindex.Batch) {
	_ = batch.Rollback(ctx)
}

// rollback discards the run's batch, invalidates every in-flight run
// on the core, and drops the processed-id cache.
func (t *MetadataTracker) rollback(ctx context.Context, batch domainindex.Batch) {
	_ = batch.Rollback(ctx)
	t.registry.Invalidate(t.core)
	t.processed.Purge()
	t.logger.Warn("metadata tracker rolled back", slog.String("core", t.core))
}
