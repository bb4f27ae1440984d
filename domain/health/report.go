// Package health provides the drift-detection report comparing the set
// of ids known to the database against the ids visible in the index.
package health

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Report is a derived, read-only snapshot of index drift. It is never
// persisted; callers recompute it on demand.
type Report struct {
	id          string
	generatedAt time.Time

	txInIndexNotInDB   []int64
	txMissingFromIndex []int64
	txDuplicated       []int64

	aclInIndexNotInDB   []int64
	aclMissingFromIndex []int64
	aclDuplicated       []int64

	duplicatedNodeDocs      int64
	duplicatedErrorDocs     int64
	duplicatedUnindexedDocs int64
}

// Builder accumulates drift findings into a Report.
type Builder struct {
	r Report
}

// NewBuilder starts a report builder with a fresh report id.
func NewBuilder() *Builder {
	return &Builder{r: Report{
		id:          uuid.NewString(),
		generatedAt: time.Now(),
	}}
}

// TxInIndexNotInDB records a transaction id present in the index but
// absent from the database.
func (b *Builder) TxInIndexNotInDB(id int64) *Builder {
	b.r.txInIndexNotInDB = append(b.r.txInIndexNotInDB, id)
	return b
}

// TxMissingFromIndex records a transaction id the database expects but
// the index does not hold.
func (b *Builder) TxMissingFromIndex(id int64) *Builder {
	b.r.txMissingFromIndex = append(b.r.txMissingFromIndex, id)
	return b
}

// TxDuplicated records a transaction id with more than one live document.
func (b *Builder) TxDuplicated(id int64) *Builder {
	b.r.txDuplicated = append(b.r.txDuplicated, id)
	return b
}

// AclInIndexNotInDB records a change-set id present only in the index.
func (b *Builder) AclInIndexNotInDB(id int64) *Builder {
	b.r.aclInIndexNotInDB = append(b.r.aclInIndexNotInDB, id)
	return b
}

// AclMissingFromIndex records a change-set id missing from the index.
func (b *Builder) AclMissingFromIndex(id int64) *Builder {
	b.r.aclMissingFromIndex = append(b.r.aclMissingFromIndex, id)
	return b
}

// AclDuplicated records a duplicated change-set id.
func (b *Builder) AclDuplicated(id int64) *Builder {
	b.r.aclDuplicated = append(b.r.aclDuplicated, id)
	return b
}

// DuplicatedDocCounts records document-type-level duplicate counts for
// node, error, and unindexed-node projections.
func (b *Builder) DuplicatedDocCounts(nodes, errors, unindexed int64) *Builder {
	b.r.duplicatedNodeDocs = nodes
	b.r.duplicatedErrorDocs = errors
	b.r.duplicatedUnindexedDocs = unindexed
	return b
}

// Build sorts the id sets and returns the finished Report.
func (b *Builder) Build() Report {
	for _, ids := range [][]int64{
		b.r.txInIndexNotInDB, b.r.txMissingFromIndex, b.r.txDuplicated,
		b.r.aclInIndexNotInDB, b.r.aclMissingFromIndex, b.r.aclDuplicated,
	} {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	}
	return b.r
}

// ID returns the report id.
func (r Report) ID() string { return r.id }

// GeneratedAt returns when the report was computed.
func (r Report) GeneratedAt() time.Time { return r.generatedAt }

// TxInIndexNotInDB returns transaction ids present only in the index.
func (r Report) TxInIndexNotInDB() []int64 {
	return append([]int64(nil), r.txInIndexNotInDB...)
}

// TxMissingFromIndex returns transaction ids missing from the index.
func (r Report) TxMissingFromIndex() []int64 {
	return append([]int64(nil), r.txMissingFromIndex...)
}

// TxDuplicated returns transaction ids with duplicate documents.
func (r Report) TxDuplicated() []int64 {
	return append([]int64(nil), r.txDuplicated...)
}

// AclInIndexNotInDB returns change-set ids present only in the index.
func (r Report) AclInIndexNotInDB() []int64 {
	return append([]int64(nil), r.aclInIndexNotInDB...)
}

// AclMissingFromIndex returns change-set ids missing from the index.
func (r Report) AclMissingFromIndex() []int64 {
	return append([]int64(nil), r.aclMissingFromIndex...)
}

// AclDuplicated returns change-set ids with duplicate documents.
func (r Report) AclDuplicated() []int64 {
	return append([]int64(nil), r.aclDuplicated...)
}

// DuplicatedNodeDocs returns the count of duplicated node documents.
func (r Report) DuplicatedNodeDocs() int64 { return r.duplicatedNodeDocs }

// DuplicatedErrorDocs returns the count of duplicated error documents.
func (r Report) DuplicatedErrorDocs() int64 { return r.duplicatedErrorDocs }

// DuplicatedUnindexedDocs returns the count of duplicated unindexed-node
// documents.
func (r Report) DuplicatedUnindexedDocs() int64 { return r.duplicatedUnindexedDocs }

// Clean reports whether no drift of any kind was found.
func (r Report) Clean() bool {
	return len(r.txInIndexNotInDB) == 0 &&
		len(r.txMissingFromIndex) == 0 &&
		len(r.txDuplicated) == 0 &&
		len(r.aclInIndexNotInDB) == 0 &&
		len(r.aclMissingFromIndex) == 0 &&
		len(r.aclDuplicated) == 0 &&
		r.duplicatedNodeDocs == 0 &&
		r.duplicatedErrorDocs == 0 &&
		r.duplicatedUnindexedDocs == 0
}

// TotalFindings returns the aggregate count of drift findings.
func (r Report) TotalFindings() int {
	return len(r.txInIndexNotInDB) + len(r.txMissingFromIndex) + len(r.txDuplicated) +
		len(r.aclInIndexNotInDB) + len(r.aclMissingFromIndex) + len(r.aclDuplicated) +
		int(r.duplicatedNodeDocs) + int(r.duplicatedErrorDocs) + int(r.duplicatedUnindexedDocs)
}
