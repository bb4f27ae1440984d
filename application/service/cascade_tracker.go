package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/domain/tracker"
)

// Default container signals. A node can only have indexed descendants
// when its type declares child associations; these sets model that
// capability for the standard content model.
var (
	defaultContainerTypes = map[string]struct{}{
		"cm:folder":       {},
		"cm:systemfolder": {},
		"st:site":         {},
	}
	defaultContainerAspects = map[string]struct{}{
		"cm:container": {},
	}
)

// CascadeTracker repairs descendant path data after an ancestor rename
// or move. Descendants are discovered by querying the index's ancestor
// reference field; the index is the adjacency structure, there is no
// in-memory tree.
type CascadeTracker struct {
	core     string
	client   repo.Client
	engine   domainindex.Engine
	sync     *Synchronizer
	registry *Registry
	logger   *slog.Logger

	containerTypes   map[string]struct{}
	containerAspects map[string]struct{}
}

// NewCascadeTracker creates a CascadeTracker. Nil type/aspect sets fall
// back to the standard content-model containers.
func NewCascadeTracker(
	core string,
	client repo.Client,
	engine domainindex.Engine,
	syncer *Synchronizer,
	registry *Registry,
	containerTypes, containerAspects map[string]struct{},
	logger *slog.Logger,
) *CascadeTracker {
	if containerTypes == nil {
		containerTypes = defaultContainerTypes
	}
	if containerAspects == nil {
		containerAspects = defaultContainerAspects
	}
	return &CascadeTracker{
		core:             core,
		client:           client,
		engine:           engine,
		sync:             syncer,
		registry:         registry,
		logger:           logger,
		containerTypes:   containerTypes,
		containerAspects: containerAspects,
	}
}

// Kind returns the tracker kind for scheduling.
func (t *CascadeTracker) Kind() tracker.Kind { return tracker.KindCascade }

// mayHaveChildren reports whether the node's type or aspects declare
// child-association capability.
func (t *CascadeTracker) mayHaveChildren(meta node.Metadata) bool {
	if _, ok := t.containerTypes[meta.Type()]; ok {
		return true
	}
	for _, aspect := range meta.Aspects() {
		if _, ok := t.containerAspects[aspect]; ok {
			return true
		}
	}
	return false
}

// RunForTransaction buffers cascade repairs for every container touched
// by the transaction. Repairs are partial updates of path-derived fields
// only, and a descendant already rewritten by its own later transaction
// is never overwritten with stale derived data.
func (t *CascadeTracker) RunForTransaction(ctx context.Context, batch domainindex.Batch, generation int64, txnID int64, touched []node.Metadata) error {
	for _, meta := range touched {
		if !t.mayHaveChildren(meta) || meta.NodeRef() == "" {
			continue
		}
		if err := t.cascadeFrom(ctx, batch, generation, txnID, meta); err != nil {
			return err
		}
	}
	return nil
}

func (t *CascadeTracker) cascadeFrom(ctx context.Context, batch domainindex.Batch, generation int64, txnID int64, ancestor node.Metadata) error {
	descendants, err := t.engine.Find(ctx, document.TypeNode,
		store.WithCondition(document.FieldAncestorRefs, ancestor.NodeRef()))
	if err != nil {
		return fmt.Errorf("find descendants of %s: %w", ancestor.NodeRef(), err)
	}
	stubs, err := t.engine.Find(ctx, document.TypeUnindexedNode,
		store.WithCondition(document.FieldAncestorRefs, ancestor.NodeRef()))
	if err != nil {
		return fmt.Errorf("find off-shard descendants of %s: %w", ancestor.NodeRef(), err)
	}

	repaired := 0
	for _, desc := range append(descendants, stubs...) {
		id, ok := desc.Int64Field(document.FieldDBID)
		if !ok {
			continue
		}
		descTxn, _ := desc.Int64Field(document.FieldTxnID)
		if descTxn >= txnID {
			continue
		}

		// Minimal fetch: paths and ancestry only, one node at a time.
		metas, err := t.client.NodeMetadata(ctx, repo.MetadataRequest{
			NodeIDs: []int64{id},
			Options: node.CascadeFetch(),
		})
		if err != nil {
			return fmt.Errorf("fetch cascade metadata for node %d: %w", id, err)
		}
		if len(metas) == 0 {
			continue
		}

		if err := t.registry.Validate(t.core, generation); err != nil {
			return err
		}
		if err := batch.Index(ctx, t.sync.CascadeDocument(desc.Key(), metas[0])); err != nil {
			return fmt.Errorf("apply cascade update for node %d: %w", id, err)
		}
		repaired++
	}

	if repaired > 0 {
		t.logger.Debug("cascade repairs buffered",
			slog.String("ancestor", ancestor.NodeRef()),
			slog.Int64("txn_id", txnID),
			slog.Int("descendants", repaired))
	}
	return nil
}
