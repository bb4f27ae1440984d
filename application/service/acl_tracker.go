package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/shard"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
	"github.com/tracksync/tracksync/internal/config"
)

// AclTracker polls ACL change-sets and drives ACL (re)indexing. It is
// the permission-side mirror of the MetadataTracker.
type AclTracker struct {
	core     string
	client   repo.Client
	engine   domainindex.Engine
	states   StateStore
	sync     *Synchronizer
	registry *Registry
	router   shard.Router
	cfg      config.TrackerConfig
	logger   *slog.Logger

	processed *idCache
	now       func() time.Time
}

// NewAclTracker creates an AclTracker. The router may be nil, meaning
// this instance owns every ACL id.
func NewAclTracker(
	core string,
	client repo.Client,
	engine domainindex.Engine,
	states StateStore,
	syncer *Synchronizer,
	registry *Registry,
	router shard.Router,
	cfg config.TrackerConfig,
	logger *slog.Logger,
) (*AclTracker, error) {
	processed, err := newIDCache(cfg.CacheSize())
	if err != nil {
		return nil, fmt.Errorf("create change-set cache: %w", err)
	}
	return &AclTracker{
		core:      core,
		client:    client,
		engine:    engine,
		states:    states,
		sync:      syncer,
		registry:  registry,
		router:    router,
		cfg:       cfg,
		logger:    logger,
		processed: processed,
		now:       time.Now,
	}, nil
}

// Kind returns the tracker kind for scheduling.
func (t *AclTracker) Kind() tracker.Kind { return tracker.KindAcl }

// RunOnce executes one change-set poll-project-commit cycle.
func (t *AclTracker) RunOnce(ctx context.Context) error {
	generation := t.registry.Current(t.core)

	state, err := t.states.Load(ctx, t.core, tracker.KindAcl, t.cfg.HoleRetention())
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	// The floor derives from the previous run's persisted start, so it
	// must be read before this run stamps its own.
	floor := state.LastGoodCommitTimeBeforeHoles()
	state = state.WithRunStart(t.now())

	batch := t.engine.Begin()

	sets, err := t.client.AclChangeSets(ctx, floor, state.LastIndexedID(), t.cfg.BatchSize())
	if err != nil {
		t.logger.Warn("change-set fetch failed",
			slog.String("core", t.core),
			slog.String("error", err.Error()))
		return err
	}
	if len(sets) == 0 {
		return nil
	}

	applied := make([]txn.AclChangeSet, 0, len(sets))
	for _, cs := range sets {
		state = state.WithServerHighWater(cs.ID(), cs.CommitTimeMs())
		if t.processed.Contains(cs.ID()) {
			continue
		}
		if err := t.applyChangeSet(ctx, batch, generation, cs); err != nil {
			_ = batch.Rollback(ctx)
			return err
		}
		applied = append(applied, cs)
	}

	if err := t.registry.Validate(t.core, generation); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		t.registry.Invalidate(t.core)
		t.processed.Purge()
		t.logger.Warn("acl tracker rolled back", slog.String("core", t.core))
		return fmt.Errorf("commit change-set batch: %w", err)
	}

	for _, cs := range applied {
		state = state.WithIndexed(cs.ID(), cs.CommitTimeMs())
		t.processed.Add(cs.ID())
	}
	if err := t.states.Save(ctx, state); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}

	t.logger.Info("acl pass complete",
		slog.String("core", t.core),
		slog.Int("change_sets", len(applied)),
		slog.Int64("last_indexed_id", state.LastIndexedID()))
	return nil
}

func (t *AclTracker) applyChangeSet(ctx context.Context, batch domainindex.Batch, generation int64, cs txn.AclChangeSet) error {
	aclIDs, err := t.client.Acls(ctx, []int64{cs.ID()})
	if err != nil {
		return fmt.Errorf("fetch acls for change-set %d: %w", cs.ID(), err)
	}

	for _, aclID := range aclIDs {
		if t.router != nil && !t.router.Owns(aclID) {
			continue
		}
		readers, err := t.client.AclReaders(ctx, aclID)
		if err != nil {
			if repo.IsTransient(err) {
				return fmt.Errorf("fetch readers for acl %d: %w", aclID, err)
			}
			// A poisoned ACL must not block the change-set; it is
			// demoted and retried through the error population.
			if verr := t.registry.Validate(t.core, generation); verr != nil {
				return verr
			}
			if ierr := batch.Index(ctx, t.sync.ErrorNodeDocument(t.sync.tenant, aclID, cs.ID(), err)); ierr != nil {
				return ierr
			}
			continue
		}

		if err := t.registry.Validate(t.core, generation); err != nil {
			return err
		}
		if err := batch.Index(ctx, t.sync.AclDocument(readers)); err != nil {
			return fmt.Errorf("index acl %d: %w", aclID, err)
		}
	}

	if err := t.registry.Validate(t.core, generation); err != nil {
		return err
	}
	return batch.Index(ctx, t.sync.ChangeSetDocument(cs))
}
