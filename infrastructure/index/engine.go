package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/domain/store"
	"github.com/tracksync/tracksync/internal/database"
)

// mutationKind discriminates buffered mutations.
type mutationKind int

const (
	mutIndex mutationKind = iota
	mutDeleteKey
	mutDeleteQuery
)

// mutation is one buffered write, applied in order at commit time.
type mutation struct {
	kind    mutationKind
	doc     document.Document
	key     document.Key
	docType document.DocType
	options []store.Option
}

// Engine is the GORM-backed implementation of the index engine. Every
// run opens its own Batch; mutations accumulate there and are flushed
// inside a single database transaction on Commit, so a failed run
// leaves the committed index untouched and concurrent runs never
// discard each other's buffered writes.
type Engine struct {
	db     database.Database
	logger *slog.Logger
}

var _ domainindex.Engine = (*Engine)(nil)

// NewEngine creates an Engine on the given database.
func NewEngine(db database.Database, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{db: db, logger: logger}
}

// Begin opens a new empty mutation batch.
func (e *Engine) Begin() domainindex.Batch {
	return &Batch{engine: e}
}

// Batch is one run's private mutation buffer. The buffer is guarded by
// a mutex because a run may buffer writes from parallel goroutines.
type Batch struct {
	engine *Engine

	mu      sync.Mutex
	pending []mutation
}

var _ domainindex.Batch = (*Batch)(nil)

// Index buffers a document write.
func (b *Batch) Index(_ context.Context, doc document.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, mutation{kind: mutIndex, doc: doc})
	return nil
}

// DeleteByKey buffers removal of the document under the key.
func (b *Batch) DeleteByKey(_ context.Context, key document.Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, mutation{kind: mutDeleteKey, key: key})
	return nil
}

// DeleteByQuery buffers removal of every document of the given type
// matching the field conditions.
func (b *Batch) DeleteByQuery(_ context.Context, docType document.DocType, options ...store.Option) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, mutation{kind: mutDeleteQuery, docType: docType, options: options})
	return nil
}

// Commit applies this batch's buffered mutations inside one transaction.
func (b *Batch) Commit(ctx context.Context) error {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	e := b.engine
	err := database.WithTransaction(ctx, e.db, func(tx *gorm.DB) error {
		for _, m := range pending {
			if err := e.apply(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit index mutations: %w", err)
	}

	e.logger.Debug("index commit", slog.Int("mutations", len(pending)))
	return nil
}

// Rollback discards this batch's buffered mutations.
func (b *Batch) Rollback(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		b.engine.logger.Debug("index rollback", slog.Int("discarded", len(b.pending)))
	}
	b.pending = nil
	return nil
}

func (e *Engine) apply(tx *gorm.DB, m mutation) error {
	switch m.kind {
	case mutIndex:
		return e.applyIndex(tx, m.doc)
	case mutDeleteKey:
		return tx.Where("tenant = ? AND doc_type = ? AND doc_id = ?",
			m.key.Tenant(), string(m.key.Type()), m.key.ID()).
			Delete(&DocumentModel{}).Error
	case mutDeleteQuery:
		scoped := tx.Where("doc_type = ?", string(m.docType))
		scoped, err := applyFieldConditions(scoped, m.options...)
		if err != nil {
			return err
		}
		return scoped.Delete(&DocumentModel{}).Error
	default:
		return fmt.Errorf("unknown mutation kind %d", m.kind)
	}
}

// applyIndex materializes one document write. Partial updates merge into
// the stored fields; full replacements discard them (except for fields
// the write says to keep). Writing always collapses the key back to a
// single row, so a duplicate fault heals on the next write to its key.
func (e *Engine) applyIndex(tx *gorm.DB, doc document.Document) error {
	key := doc.Key()

	var rows []DocumentModel
	err := tx.Where("tenant = ? AND doc_type = ? AND doc_id = ?",
		key.Tenant(), string(key.Type()), key.ID()).
		Order("pk ASC").Find(&rows).Error
	if err != nil {
		return fmt.Errorf("read stored document %s: %w", key, err)
	}

	stored := map[string]any{}
	if len(rows) > 0 {
		existing, err := toStored(rows[0])
		if err != nil {
			return err
		}
		stored = existing.Fields()
	}

	merged := doc.Merge(stored)
	model, err := toModel(key, merged)
	if err != nil {
		return err
	}

	if len(rows) == 1 {
		model.PK = rows[0].PK
		return tx.Save(&model).Error
	}
	if len(rows) > 1 {
		err := tx.Where("tenant = ? AND doc_type = ? AND doc_id = ?",
			key.Tenant(), string(key.Type()), key.ID()).
			Delete(&DocumentModel{}).Error
		if err != nil {
			return fmt.Errorf("collapse duplicates for %s: %w", key, err)
		}
	}
	return tx.Create(&model).Error
}

// Get returns the committed document under the key, if present.
func (e *Engine) Get(ctx context.Context, key document.Key) (domainindex.StoredDoc, bool, error) {
	var rows []DocumentModel
	err := e.db.Session(ctx).
		Where("tenant = ? AND doc_type = ? AND doc_id = ?",
			key.Tenant(), string(key.Type()), key.ID()).
		Order("pk ASC").Limit(1).Find(&rows).Error
	if err != nil {
		return domainindex.StoredDoc{}, false, fmt.Errorf("get document %s: %w", key, err)
	}
	if len(rows) == 0 {
		return domainindex.StoredDoc{}, false, nil
	}
	doc, err := toStored(rows[0])
	if err != nil {
		return domainindex.StoredDoc{}, false, err
	}
	return doc, true, nil
}

// Find returns committed documents of the given type matching the
// field conditions.
func (e *Engine) Find(ctx context.Context, docType document.DocType, options ...store.Option) ([]domainindex.StoredDoc, error) {
	session := e.db.Session(ctx).Where("doc_type = ?", string(docType))
	session, err := applyFieldConditions(session, options...)
	if err != nil {
		return nil, err
	}
	session = applyPagination(session, options...)

	var rows []DocumentModel
	if err := session.Order("pk ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("find %s documents: %w", docType, err)
	}

	docs := make([]domainindex.StoredDoc, 0, len(rows))
	for _, row := range rows {
		doc, err := toStored(row)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// FacetCounts counts committed documents grouped by a numeric column,
// restricted to a half-open window.
func (e *Engine) FacetCounts(ctx context.Context, docType document.DocType, field string, window domainindex.FacetWindow, minCount int) (map[int64]int, error) {
	qc, ok := queryColumns[field]
	if !ok || qc.multi {
		return nil, fmt.Errorf("field %q is not facetable", field)
	}

	type bucket struct {
		Value int64 `gorm:"column:value"`
		Count int   `gorm:"column:count"`
	}
	var buckets []bucket
	err := e.db.Session(ctx).Model(&DocumentModel{}).
		Select(qc.column+" AS value, COUNT(*) AS count").
		Where("doc_type = ?", string(docType)).
		Where(qc.column+" >= ? AND "+qc.column+" < ?", window.Lo, window.Hi).
		Group(qc.column).
		Having("COUNT(*) >= ?", minCount).
		Scan(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("facet %s over %s: %w", field, docType, err)
	}

	counts := make(map[int64]int, len(buckets))
	for _, b := range buckets {
		counts[b.Value] = b.Count
	}
	return counts, nil
}

// Count returns the number of committed documents of the given type
// matching the conditions.
func (e *Engine) Count(ctx context.Context, docType document.DocType, options ...store.Option) (int64, error) {
	session := e.db.Session(ctx).Model(&DocumentModel{}).
		Where("doc_type = ?", string(docType))
	session, err := applyFieldConditions(session, options...)
	if err != nil {
		return 0, err
	}

	var count int64
	if err := session.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count %s documents: %w", docType, err)
	}
	return count, nil
}

// DuplicateCount returns how many committed documents of the given type
// share a logical key with at least one other document.
func (e *Engine) DuplicateCount(ctx context.Context, docType document.DocType) (int64, error) {
	var count int64
	err := e.db.Session(ctx).Raw(`
		SELECT COALESCE(SUM(c), 0) FROM (
			SELECT COUNT(*) AS c FROM documents
			WHERE doc_type = ?
			GROUP BY tenant, doc_id
			HAVING COUNT(*) > 1
		) dup`, string(docType)).Scan(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count duplicate %s documents: %w", docType, err)
	}
	return count, nil
}

// MaxField returns the maximum committed value of a numeric field over
// the given document type, or 0 when empty.
func (e *Engine) MaxField(ctx context.Context, docType document.DocType, field string) (int64, error) {
	qc, ok := queryColumns[field]
	if !ok || qc.multi {
		return 0, fmt.Errorf("field %q is not queryable", field)
	}

	var max int64
	err := e.db.Session(ctx).Model(&DocumentModel{}).
		Select("COALESCE(MAX("+qc.column+"), 0)").
		Where("doc_type = ?", string(docType)).
		Scan(&max).Error
	if err != nil {
		return 0, fmt.Errorf("max %s over %s: %w", field, docType, err)
	}
	return max, nil
}

// Cap hard-deletes every document of the given type whose id exceeds
// max, in its own transaction independent of the pending buffer.
func (e *Engine) Cap(ctx context.Context, docType document.DocType, max int64) error {
	err := e.db.Session(ctx).
		Where("doc_type = ? AND doc_id > ?", string(docType), max).
		Delete(&DocumentModel{}).Error
	if err != nil {
		return fmt.Errorf("cap %s documents at %d: %w", docType, max, err)
	}
	return nil
}

// applyFieldConditions translates document field conditions into WHERE
// clauses on the promoted columns.
func applyFieldConditions(session *gorm.DB, options ...store.Option) (*gorm.DB, error) {
	q := store.Build(options...)
	for _, cond := range q.Conditions() {
		qc, ok := queryColumns[cond.Field()]
		if !ok {
			return nil, fmt.Errorf("field %q is not queryable", cond.Field())
		}
		if qc.multi {
			if cond.Compare() != store.CompareEqual {
				return nil, fmt.Errorf("field %q supports only containment queries", cond.Field())
			}
			ref := stringValue(cond.Value())
			session = session.Where(qc.column+" LIKE ?", "%"+refSeparator+ref+refSeparator+"%")
			continue
		}
		switch cond.Compare() {
		case store.CompareGreaterThanField:
			other, ok := queryColumns[stringValue(cond.Value())]
			if !ok || other.multi {
				return nil, fmt.Errorf("field %q is not queryable", cond.Value())
			}
			session = session.Where(qc.column + " > " + other.column)
		case store.CompareIn:
			session = session.Where(qc.column+" IN ?", cond.Value())
		case store.CompareGreaterThan:
			session = session.Where(qc.column+" > ?", cond.Value())
		case store.CompareGreaterOrEqual:
			session = session.Where(qc.column+" >= ?", cond.Value())
		case store.CompareLessThan:
			session = session.Where(qc.column+" < ?", cond.Value())
		case store.CompareLessOrEqual:
			session = session.Where(qc.column+" <= ?", cond.Value())
		default:
			session = session.Where(qc.column+" = ?", cond.Value())
		}
	}
	return session, nil
}

func applyPagination(session *gorm.DB, options ...store.Option) *gorm.DB {
	q := store.Build(options...)
	if q.LimitValue() > 0 {
		session = session.Limit(q.LimitValue())
	}
	if q.OffsetValue() > 0 {
		session = session.Offset(q.OffsetValue())
	}
	return session
}
