package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/internal/config"
)

// contentProperty is the node property whose text is fetched by the
// content pass.
const contentProperty = "cm:content"

// ContentTracker is the decoupled text-content pass. It finds nodes
// whose incoming content version has moved past the applied one, fetches
// the transformed text, and applies a content-only partial update.
// Keeping this out of the metadata pass means a slow transform service
// degrades content freshness, not metadata latency.
type ContentTracker struct {
	core     string
	client   repo.Client
	engine   domainindex.Engine
	sync     *Synchronizer
	registry *Registry
	cfg      config.TrackerConfig
	logger   *slog.Logger
}

// NewContentTracker creates a ContentTracker.
func NewContentTracker(
	core string,
	client repo.Client,
	engine domainindex.Engine,
	syncer *Synchronizer,
	registry *Registry,
	cfg config.TrackerConfig,
	logger *slog.Logger,
) *ContentTracker {
	return &ContentTracker{
		core:     core,
		client:   client,
		engine:   engine,
		sync:     syncer,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Kind returns the tracker kind for scheduling.
func (t *ContentTracker) Kind() tracker.Kind { return tracker.KindContent }

// RunOnce fetches and applies text for one batch of outdated nodes.
func (t *ContentTracker) RunOnce(ctx context.Context) error {
	generation := t.registry.Current(t.core)

	// Outdated means the incoming marker is ahead of the applied one.
	// Comparing the two columns in the query keeps the candidate set
	// from silting up with in-sync nodes, which would starve outdated
	// nodes sitting behind them.
	candidates, err := t.engine.Find(ctx, document.TypeNode,
		store.WithGreaterThanField(document.FieldContentIncoming, document.FieldContentApplied),
		store.WithLimit(t.cfg.NodeBatchSize()))
	if err != nil {
		return fmt.Errorf("find content candidates: %w", err)
	}

	batch := t.engine.Begin()
	updated := 0
	for _, doc := range candidates {
		incoming, _ := doc.Int64Field(document.FieldContentIncoming)
		nodeID, ok := doc.Int64Field(document.FieldDBID)
		if !ok {
			continue
		}

		content, err := t.client.TextContent(ctx, nodeID, contentProperty)
		if err != nil {
			if repo.IsTransient(err) {
				_ = batch.Rollback(ctx)
				return fmt.Errorf("fetch content for node %d: %w", nodeID, err)
			}
			t.logger.Warn("content fetch failed",
				slog.Int64("node_id", nodeID),
				slog.String("error", err.Error()))
			continue
		}

		if err := t.registry.Validate(t.core, generation); err != nil {
			_ = batch.Rollback(ctx)
			return err
		}
		tenant, _ := doc.StringField(document.FieldTenant)
		if err := batch.Index(ctx, t.sync.ContentDocument(tenant, nodeID, incoming, content)); err != nil {
			_ = batch.Rollback(ctx)
			return fmt.Errorf("apply content for node %d: %w", nodeID, err)
		}
		updated++
	}

	if updated == 0 {
		return nil
	}

	if err := t.registry.Validate(t.core, generation); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		t.registry.Invalidate(t.core)
		return fmt.Errorf("commit content batch: %w", err)
	}

	t.logger.Info("content pass complete",
		slog.String("core", t.core),
		slog.Int("nodes", updated))
	return nil
}
