// Package index defines the contract with the underlying document index
// engine: buffered writes with commit/rollback, delete-by-query, faceted
// counting, and numeric range queries. The engine itself is a generic
// document store; everything about ordering and consistency lives in
// the trackers above it.
package index

import (
	"context"

	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/store"
)

// StoredDoc is a document as read back from the index.
type StoredDoc struct {
	key    document.Key
	fields map[string]any
}

// NewStoredDoc creates a StoredDoc.
func NewStoredDoc(key document.Key, fields map[string]any) StoredDoc {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return StoredDoc{key: key, fields: cp}
}

// Key returns the document key.
func (d StoredDoc) Key() document.Key { return d.key }

// Fields returns the stored field values.
func (d StoredDoc) Fields() map[string]any {
	cp := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		cp[k] = v
	}
	return cp
}

// Field returns one stored field value.
func (d StoredDoc) Field(name string) (any, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Int64Field returns a stored field coerced to int64.
func (d StoredDoc) Int64Field(name string) (int64, bool) {
	v, ok := d.fields[name]
	if !ok {
		return 0, false
	}
	switch vv := v.(type) {
	case int64:
		return vv, true
	case int:
		return int64(vv), true
	case float64:
		return int64(vv), true
	default:
		return 0, false
	}
}

// StringField returns a stored field coerced to string.
func (d StoredDoc) StringField(name string) (string, bool) {
	v, ok := d.fields[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// FacetWindow restricts a faceted count to a half-open id window.
type FacetWindow struct {
	Lo int64 // inclusive
	Hi int64 // exclusive
}

// Batch is one run's private mutation buffer. Mutations accumulate in
// the batch and hit the index only on Commit; Rollback discards them.
// Each run owns its batch, so concurrent runs against one engine never
// see or discard each other's pending writes.
type Batch interface {
	// Index buffers a document write. Full-replace documents overwrite;
	// partial documents merge per their FieldWrite modifiers.
	Index(ctx context.Context, doc document.Document) error

	// DeleteByKey buffers removal of the document under the key.
	DeleteByKey(ctx context.Context, key document.Key) error

	// DeleteByQuery buffers removal of every document of the given type
	// matching the field conditions.
	DeleteByQuery(ctx context.Context, docType document.DocType, options ...store.Option) error

	// Commit applies this batch's buffered mutations atomically.
	Commit(ctx context.Context) error

	// Rollback discards this batch's buffered mutations.
	Rollback(ctx context.Context) error
}

// Engine is the document index engine. Writes go through per-run
// batches opened with Begin; reads see only committed state.
type Engine interface {
	// Begin opens a new empty mutation batch.
	Begin() Batch

	// Get returns the committed document under the key, if present.
	// When duplicates exist the first is returned; use FacetCounts to
	// detect the fault.
	Get(ctx context.Context, key document.Key) (StoredDoc, bool, error)

	// Find returns committed documents of the given type matching the
	// field conditions.
	Find(ctx context.Context, docType document.DocType, options ...store.Option) ([]StoredDoc, error)

	// FacetCounts counts committed documents of the given type grouped
	// by a numeric field, restricted to the window, dropping groups
	// below minCount.
	FacetCounts(ctx context.Context, docType document.DocType, field string, window FacetWindow, minCount int) (map[int64]int, error)

	// Count returns the number of committed documents of the given type
	// matching the conditions.
	Count(ctx context.Context, docType document.DocType, options ...store.Option) (int64, error)

	// DuplicateCount returns how many committed documents of the given
	// type share a key with at least one other document.
	DuplicateCount(ctx context.Context, docType document.DocType) (int64, error)

	// MaxField returns the maximum committed value of a numeric field
	// over the given document type, or 0 when empty.
	MaxField(ctx context.Context, docType document.DocType, field string) (int64, error)

	// Cap hard-deletes every document of the given type whose id exceeds
	// max, then commits. Used by range expansion to bound the index
	// before the new end range is recorded.
	Cap(ctx context.Context, docType document.DocType, max int64) error
}
