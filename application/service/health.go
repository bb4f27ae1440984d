package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/health"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/internal/config"
)

// windowFinding accumulates one id-window's worth of drift.
type windowFinding struct {
	inIndexNotInDB []int64
	missing        []int64
	duplicated     []int64
}

// HealthReporter detects drift between the set of ids the repository
// holds and the ids visible in the index. It only ever reads; a separate
// repair step consumes its reports.
type HealthReporter struct {
	engine domainindex.Engine
	cfg    config.HealthConfig
	logger *slog.Logger
}

// NewHealthReporter creates a HealthReporter.
func NewHealthReporter(engine domainindex.Engine, cfg config.HealthConfig, logger *slog.Logger) *HealthReporter {
	return &HealthReporter{engine: engine, cfg: cfg, logger: logger}
}

// Report compares the repository's transaction and change-set id sets
// against the index and returns the drift snapshot.
func (h *HealthReporter) Report(ctx context.Context, dbTxIDs, dbChangeSetIDs []int64) (health.Report, error) {
	builder := health.NewBuilder()

	txFindings, err := h.scan(ctx, document.TypeTxn, document.FieldDBID, dbTxIDs)
	if err != nil {
		return health.Report{}, fmt.Errorf("scan transactions: %w", err)
	}
	for _, id := range txFindings.inIndexNotInDB {
		builder.TxInIndexNotInDB(id)
	}
	for _, id := range txFindings.missing {
		builder.TxMissingFromIndex(id)
	}
	for _, id := range txFindings.duplicated {
		builder.TxDuplicated(id)
	}

	aclFindings, err := h.scan(ctx, document.TypeAclChangeSet, document.FieldInChangeSet, dbChangeSetIDs)
	if err != nil {
		return health.Report{}, fmt.Errorf("scan change-sets: %w", err)
	}
	for _, id := range aclFindings.inIndexNotInDB {
		builder.AclInIndexNotInDB(id)
	}
	for _, id := range aclFindings.missing {
		builder.AclMissingFromIndex(id)
	}
	for _, id := range aclFindings.duplicated {
		builder.AclDuplicated(id)
	}

	nodeDups, err := h.engine.DuplicateCount(ctx, document.TypeNode)
	if err != nil {
		return health.Report{}, fmt.Errorf("count node duplicates: %w", err)
	}
	errorDups, err := h.engine.DuplicateCount(ctx, document.TypeErrorNode)
	if err != nil {
		return health.Report{}, fmt.Errorf("count error-node duplicates: %w", err)
	}
	unindexedDups, err := h.engine.DuplicateCount(ctx, document.TypeUnindexedNode)
	if err != nil {
		return health.Report{}, fmt.Errorf("count unindexed-node duplicates: %w", err)
	}
	builder.DuplicatedDocCounts(nodeDups, errorDups, unindexedDups)

	report := builder.Build()
	h.logger.Info("health report generated",
		slog.String("report_id", report.ID()),
		slog.Int("total_findings", report.TotalFindings()))
	return report, nil
}

// scan batches the id space into fixed windows and facets the identity
// field over each window with a minimum count of one, so only ids
// actually present come back. Windows run in parallel; each window's
// findings are independent.
func (h *HealthReporter) scan(ctx context.Context, docType document.DocType, field string, dbIDs []int64) (windowFinding, error) {
	if len(dbIDs) == 0 {
		return windowFinding{}, nil
	}

	expected := make(map[int64]struct{}, len(dbIDs))
	minID, maxID := dbIDs[0], dbIDs[0]
	for _, id := range dbIDs {
		expected[id] = struct{}{}
		if id < minID {
			minID = id
		}
		if id > maxID {
			maxID = id
		}
	}

	windowSize := h.cfg.WindowSize()
	if windowSize <= 0 {
		windowSize = 1
	}

	var (
		mu       sync.Mutex
		findings windowFinding
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(h.cfg.Parallelism())

	for lo := minID; lo <= maxID; lo += windowSize {
		lo := lo
		hi := lo + windowSize
		if hi > maxID+1 {
			hi = maxID + 1
		}
		group.Go(func() error {
			counts, err := h.engine.FacetCounts(groupCtx, docType, field,
				domainindex.FacetWindow{Lo: lo, Hi: hi}, 1)
			if err != nil {
				return err
			}

			var local windowFinding
			for id, count := range counts {
				if _, ok := expected[id]; !ok {
					local.inIndexNotInDB = append(local.inIndexNotInDB, id)
				}
				if count > 1 {
					local.duplicated = append(local.duplicated, id)
				}
			}
			for id := range expected {
				if id < lo || id >= hi {
					continue
				}
				if _, ok := counts[id]; !ok {
					local.missing = append(local.missing, id)
				}
			}

			mu.Lock()
			findings.inIndexNotInDB = append(findings.inIndexNotInDB, local.inIndexNotInDB...)
			findings.missing = append(findings.missing, local.missing...)
			findings.duplicated = append(findings.duplicated, local.duplicated...)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return windowFinding{}, err
	}

	for _, ids := range [][]int64{findings.inIndexNotInDB, findings.missing, findings.duplicated} {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return findings, nil
}
