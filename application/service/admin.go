package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/health"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/domain/tracker"
	"github.com/tracksync/tracksync/domain/txn"
)

// summaryFetchBatch bounds how many transactions or change-sets one
// repository page pulls while building consistency reports.
const summaryFetchBatch = 2000

// TrackerSummary is one tracker's checkpoint position for reporting.
type TrackerSummary struct {
	Kind                  string `json:"kind"`
	LastIndexedID         int64  `json:"lastIndexedId"`
	LastIndexedCommitTime int64  `json:"lastIndexedCommitTime"`
	LastIDOnServer        int64  `json:"lastIdOnServer"`
	Lag                   int64  `json:"lag"`
}

// Summary is the per-core operational snapshot served by the admin
// surface.
type Summary struct {
	Core                   string            `json:"core"`
	GeneratedAt            time.Time         `json:"generatedAt"`
	Trackers               []TrackerSummary  `json:"trackers"`
	DocCounts              map[string]int64  `json:"docCounts"`
	ErrorDocCount          int64             `json:"errorDocCount"`
	ModelIncompatibilities map[string]string `json:"modelIncompatibilities,omitempty"`
}

// Admin exposes the per-core maintenance operations behind the control
// surface: consistency check and fix, reindex, purge, retry, summary.
type Admin struct {
	core     string
	client   repo.Client
	engine   domainindex.Engine
	states   StateStore
	sync     *Synchronizer
	registry *Registry
	health   *HealthReporter
	ledger   *ModelLedger
	logger   *slog.Logger
}

// NewAdmin creates an Admin service.
func NewAdmin(
	core string,
	client repo.Client,
	engine domainindex.Engine,
	states StateStore,
	syncer *Synchronizer,
	registry *Registry,
	healthReporter *HealthReporter,
	ledger *ModelLedger,
	logger *slog.Logger,
) *Admin {
	return &Admin{
		core:     core,
		client:   client,
		engine:   engine,
		states:   states,
		sync:     syncer,
		registry: registry,
		health:   healthReporter,
		ledger:   ledger,
		logger:   logger,
	}
}

// Check computes a health report without mutating anything.
func (a *Admin) Check(ctx context.Context) (health.Report, error) {
	txns, sets, err := a.collectRepositoryIDs(ctx)
	if err != nil {
		return health.Report{}, err
	}
	txIDs := make([]int64, 0, len(txns))
	for id := range txns {
		txIDs = append(txIDs, id)
	}
	csIDs := make([]int64, 0, len(sets))
	for id := range sets {
		csIDs = append(csIDs, id)
	}
	return a.health.Report(ctx, txIDs, csIDs)
}

// Fix computes a health report and repairs every finding: orphaned
// index entries are purged, missing or duplicated transactions and
// change-sets are re-fed through the projection path.
func (a *Admin) Fix(ctx context.Context) (health.Report, error) {
	txns, sets, err := a.collectRepositoryIDs(ctx)
	if err != nil {
		return health.Report{}, err
	}
	txIDs := make([]int64, 0, len(txns))
	for id := range txns {
		txIDs = append(txIDs, id)
	}
	csIDs := make([]int64, 0, len(sets))
	for id := range sets {
		csIDs = append(csIDs, id)
	}

	report, err := a.health.Report(ctx, txIDs, csIDs)
	if err != nil {
		return health.Report{}, err
	}
	if report.Clean() {
		return report, nil
	}

	// All repairs land in one batch so a partial fix never commits.
	batch := a.engine.Begin()
	if err := a.purgeInto(ctx, batch,
		[]document.DocType{document.TypeTxn}, document.FieldDBID, report.TxInIndexNotInDB()); err != nil {
		_ = batch.Rollback(ctx)
		return report, err
	}
	if err := a.purgeInto(ctx, batch,
		[]document.DocType{document.TypeAclChangeSet}, document.FieldDBID, report.AclInIndexNotInDB()); err != nil {
		_ = batch.Rollback(ctx)
		return report, err
	}

	for _, id := range append(report.TxMissingFromIndex(), report.TxDuplicated()...) {
		if tx, ok := txns[id]; ok {
			if err := a.reindexTransaction(ctx, batch, tx); err != nil {
				_ = batch.Rollback(ctx)
				return report, err
			}
		}
	}
	for _, id := range append(report.AclMissingFromIndex(), report.AclDuplicated()...) {
		if cs, ok := sets[id]; ok {
			if err := a.reindexChangeSet(ctx, batch, cs); err != nil {
				_ = batch.Rollback(ctx)
				return report, err
			}
		}
	}

	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		return report, fmt.Errorf("commit repairs: %w", err)
	}
	a.logger.Info("health repairs applied",
		slog.String("core", a.core),
		slog.String("report_id", report.ID()),
		slog.Int("findings", report.TotalFindings()))
	return report, nil
}

// Summary returns the per-core operational snapshot.
func (a *Admin) Summary(ctx context.Context) (Summary, error) {
	s := Summary{
		Core:        a.core,
		GeneratedAt: time.Now(),
		DocCounts:   map[string]int64{},
	}

	for _, kind := range []tracker.Kind{
		tracker.KindMetadata, tracker.KindAcl, tracker.KindCascade, tracker.KindContent,
	} {
		state, err := a.states.Load(ctx, a.core, kind, 0)
		if err != nil {
			return Summary{}, fmt.Errorf("load %s checkpoint: %w", kind, err)
		}
		s.Trackers = append(s.Trackers, TrackerSummary{
			Kind:                  kind.String(),
			LastIndexedID:         state.LastIndexedID(),
			LastIndexedCommitTime: state.LastIndexedCommitTime(),
			LastIDOnServer:        state.LastIDOnServer(),
			Lag:                   state.LastIDOnServer() - state.LastIndexedID(),
		})
	}

	for _, docType := range []document.DocType{
		document.TypeNode, document.TypeAcl, document.TypeTxn,
		document.TypeAclChangeSet, document.TypeErrorNode, document.TypeUnindexedNode,
	} {
		count, err := a.engine.Count(ctx, docType)
		if err != nil {
			return Summary{}, fmt.Errorf("count %s documents: %w", docType, err)
		}
		s.DocCounts[string(docType)] = count
	}
	s.ErrorDocCount = s.DocCounts[string(document.TypeErrorNode)]

	if a.ledger != nil {
		s.ModelIncompatibilities = a.ledger.Incompatibilities()
	}
	return s, nil
}

// ReindexNodes rebuilds the documents for the given node ids, resetting
// their applied content version so text is re-pulled.
func (a *Admin) ReindexNodes(ctx context.Context, nodeIDs []int64) error {
	if len(nodeIDs) == 0 {
		return nil
	}
	metas, err := a.client.NodeMetadata(ctx, repo.MetadataRequest{
		NodeIDs: nodeIDs,
		Options: node.FullFetch(),
	})
	if err != nil {
		return fmt.Errorf("fetch metadata for reindex: %w", err)
	}
	batch := a.engine.Begin()
	for _, meta := range metas {
		if err := batch.DeleteByKey(ctx, a.sync.ErrorNodeKey(meta.Tenant(), meta.ID())); err != nil {
			return err
		}
		if err := batch.Index(ctx, a.sync.ReindexNodeDocument(meta)); err != nil {
			return fmt.Errorf("reindex node %d: %w", meta.ID(), err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		return fmt.Errorf("commit node reindex: %w", err)
	}
	return nil
}

// ReindexTransactions re-feeds the given transactions through the node
// projection path.
func (a *Admin) ReindexTransactions(ctx context.Context, txnIDs []int64) error {
	if len(txnIDs) == 0 {
		return nil
	}
	wanted := make(map[int64]struct{}, len(txnIDs))
	for _, id := range txnIDs {
		wanted[id] = struct{}{}
	}
	txns, _, err := a.collectRepositoryIDs(ctx)
	if err != nil {
		return err
	}
	batch := a.engine.Begin()
	for id := range wanted {
		tx, ok := txns[id]
		if !ok {
			_ = batch.Rollback(ctx)
			return fmt.Errorf("transaction %d not known to repository", id)
		}
		if err := a.reindexTransaction(ctx, batch, tx); err != nil {
			_ = batch.Rollback(ctx)
			return err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		return fmt.Errorf("commit transaction reindex: %w", err)
	}
	return nil
}

// ReindexAcls rebuilds the documents for the given ACL ids.
func (a *Admin) ReindexAcls(ctx context.Context, aclIDs []int64) error {
	batch := a.engine.Begin()
	for _, aclID := range aclIDs {
		readers, err := a.client.AclReaders(ctx, aclID)
		if err != nil {
			_ = batch.Rollback(ctx)
			return fmt.Errorf("fetch readers for acl %d: %w", aclID, err)
		}
		if err := batch.Index(ctx, a.sync.AclDocument(readers)); err != nil {
			_ = batch.Rollback(ctx)
			return fmt.Errorf("reindex acl %d: %w", aclID, err)
		}
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		return fmt.Errorf("commit acl reindex: %w", err)
	}
	return nil
}

// PurgeNodes removes the index documents for the given node ids.
func (a *Admin) PurgeNodes(ctx context.Context, nodeIDs []int64) error {
	return a.purge(ctx, []document.DocType{
		document.TypeNode, document.TypeErrorNode, document.TypeUnindexedNode,
	}, document.FieldDBID, nodeIDs)
}

// PurgeTransactions removes transaction marker documents.
func (a *Admin) PurgeTransactions(ctx context.Context, txnIDs []int64) error {
	return a.purge(ctx, []document.DocType{document.TypeTxn}, document.FieldDBID, txnIDs)
}

// PurgeAcls removes ACL documents.
func (a *Admin) PurgeAcls(ctx context.Context, aclIDs []int64) error {
	return a.purge(ctx, []document.DocType{document.TypeAcl}, document.FieldDBID, aclIDs)
}

// PurgeChangeSets removes change-set marker documents.
func (a *Admin) PurgeChangeSets(ctx context.Context, changeSetIDs []int64) error {
	return a.purge(ctx, []document.DocType{document.TypeAclChangeSet}, document.FieldDBID, changeSetIDs)
}

// Retry re-queues every node currently parked as an error document and
// returns the retried ids.
func (a *Admin) Retry(ctx context.Context) ([]int64, error) {
	docs, err := a.engine.Find(ctx, document.TypeErrorNode)
	if err != nil {
		return nil, fmt.Errorf("find error documents: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc.Int64Field(document.FieldDBID); ok {
			ids = append(ids, id)
		}
	}
	if err := a.ReindexNodes(ctx, ids); err != nil {
		return nil, err
	}
	a.logger.Info("error documents retried",
		slog.String("core", a.core),
		slog.Int("nodes", len(ids)))
	return ids, nil
}

func (a *Admin) purge(ctx context.Context, docTypes []document.DocType, field string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	batch := a.engine.Begin()
	if err := a.purgeInto(ctx, batch, docTypes, field, ids); err != nil {
		_ = batch.Rollback(ctx)
		return err
	}
	if err := batch.Commit(ctx); err != nil {
		_ = batch.Rollback(ctx)
		return fmt.Errorf("commit purge: %w", err)
	}
	return nil
}

func (a *Admin) purgeInto(ctx context.Context, batch domainindex.Batch, docTypes []document.DocType, field string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	for _, docType := range docTypes {
		if err := batch.DeleteByQuery(ctx, docType, store.WithConditionIn(field, ids)); err != nil {
			return fmt.Errorf("purge %s documents: %w", docType, err)
		}
	}
	return nil
}

func (a *Admin) reindexTransaction(ctx context.Context, batch domainindex.Batch, tx txn.Transaction) error {
	nodes, err := a.client.Nodes(ctx, []int64{tx.ID()})
	if err != nil {
		return fmt.Errorf("fetch nodes for txn %d: %w", tx.ID(), err)
	}

	var ids []int64
	for _, n := range nodes {
		if n.Status().IsDelete(false) {
			if err := batch.DeleteByQuery(ctx, document.TypeNode,
				store.WithCondition(document.FieldDBID, n.ID())); err != nil {
				return err
			}
			continue
		}
		ids = append(ids, n.ID())
	}

	if len(ids) > 0 {
		metas, err := a.client.NodeMetadata(ctx, repo.MetadataRequest{
			NodeIDs: ids,
			Options: node.FullFetch(),
		})
		if err != nil {
			return fmt.Errorf("fetch metadata for txn %d: %w", tx.ID(), err)
		}
		for _, meta := range metas {
			if err := batch.Index(ctx, a.sync.NodeDocument(meta)); err != nil {
				return err
			}
		}
	}
	return batch.Index(ctx, a.sync.TxnDocument(tx))
}

func (a *Admin) reindexChangeSet(ctx context.Context, batch domainindex.Batch, cs txn.AclChangeSet) error {
	aclIDs, err := a.client.Acls(ctx, []int64{cs.ID()})
	if err != nil {
		return fmt.Errorf("fetch acls for change-set %d: %w", cs.ID(), err)
	}
	for _, aclID := range aclIDs {
		readers, err := a.client.AclReaders(ctx, aclID)
		if err != nil {
			return fmt.Errorf("fetch readers for acl %d: %w", aclID, err)
		}
		if err := batch.Index(ctx, a.sync.AclDocument(readers)); err != nil {
			return err
		}
	}
	return batch.Index(ctx, a.sync.ChangeSetDocument(cs))
}

// collectRepositoryIDs pages the full ordered transaction and change-set
// logs from the repository, keyed by id.
func (a *Admin) collectRepositoryIDs(ctx context.Context) (map[int64]txn.Transaction, map[int64]txn.AclChangeSet, error) {
	txns := map[int64]txn.Transaction{}
	var sinceID, sinceTime int64
	for {
		batch, err := a.client.Transactions(ctx, sinceTime, sinceID, summaryFetchBatch)
		if err != nil {
			return nil, nil, fmt.Errorf("page transactions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, tx := range batch {
			txns[tx.ID()] = tx
			if tx.ID() > sinceID {
				sinceID = tx.ID()
			}
			if tx.CommitTimeMs() > sinceTime {
				sinceTime = tx.CommitTimeMs()
			}
		}
	}

	sets := map[int64]txn.AclChangeSet{}
	sinceID, sinceTime = 0, 0
	for {
		batch, err := a.client.AclChangeSets(ctx, sinceTime, sinceID, summaryFetchBatch)
		if err != nil {
			return nil, nil, fmt.Errorf("page change-sets: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, cs := range batch {
			sets[cs.ID()] = cs
			if cs.ID() > sinceID {
				sinceID = cs.ID()
			}
			if cs.CommitTimeMs() > sinceTime {
				sinceTime = cs.CommitTimeMs()
			}
		}
	}
	return txns, sets, nil
}
