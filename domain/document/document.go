// Package document defines the index projection unit: typed document
// keys, field-level write modifiers, and the merge semantics used for
// non-destructive partial updates.
package document

import "fmt"

// DocType discriminates the document populations sharing the index.
type DocType string

// DocType values.
const (
	TypeNode          DocType = "node"
	TypeAcl           DocType = "acl"
	TypeTxn           DocType = "txn"
	TypeAclChangeSet  DocType = "acl-changeset"
	TypeState         DocType = "state"
	TypeErrorNode     DocType = "error-node"
	TypeUnindexedNode DocType = "unindexed-node"
)

// Key is the composite identity of an index document: at most one live
// document may exist per Key; duplicates are a detectable fault, not a
// storage invariant.
type Key struct {
	tenant  string
	id      int64
	docType DocType
}

// NewKey creates a document Key.
func NewKey(tenant string, id int64, docType DocType) Key {
	return Key{tenant: tenant, id: id, docType: docType}
}

// Tenant returns the tenant component.
func (k Key) Tenant() string { return k.tenant }

// ID returns the numeric identity component.
func (k Key) ID() int64 { return k.id }

// Type returns the document type discriminator.
func (k Key) Type() DocType { return k.docType }

// String renders the key in its stored form: "tenant!type!id".
func (k Key) String() string {
	return fmt.Sprintf("%s!%s!%d", k.tenant, k.docType, k.id)
}

// Common index field names.
const (
	FieldDBID            = "db_id"
	FieldTxnID           = "txn_id"
	FieldAclID           = "acl_id"
	FieldAclTxnID        = "acl_txn_id"
	FieldInChangeSet     = "in_changeset"
	FieldTenant          = "tenant"
	FieldType            = "type"
	FieldAspects         = "aspects"
	FieldNodeRef         = "node_ref"
	FieldParentRef       = "parent_ref"
	FieldAncestorRefs    = "ancestor_refs"
	FieldPath            = "path"
	FieldAncestorPaths   = "ancestor_paths"
	FieldNamePaths       = "name_paths"
	FieldOwner           = "owner"
	FieldReaders         = "readers"
	FieldDenied          = "denied"
	FieldProperties      = "properties"
	FieldContent         = "content"
	FieldCommitTimeMs    = "commit_time_ms"
	FieldDocCount        = "doc_count"
	FieldErrorMessage    = "error_message"
	FieldErrorStack      = "error_stack"
	FieldContentApplied  = "content_version_applied"
	FieldContentIncoming = "content_version_incoming"
	FieldTransformStatus = "transform_status"
	FieldTransformTimeMs = "transform_time_ms"
	FieldTransformError  = "transform_error"
	FieldFingerprint     = "content_fingerprint"
)

// Document is one pending index write: a key plus field writes, applied
// either as a full replacement or merged into the stored document.
type Document struct {
	key     Key
	fields  map[string]FieldWrite
	partial bool
}

// NewDocument creates a full-replace document: on commit it overwrites
// whatever the index holds under the key.
func NewDocument(key Key) Document {
	return Document{key: key, fields: map[string]FieldWrite{}}
}

// NewPartialUpdate creates a merge-in document: unnamed fields keep their
// stored values and named fields are applied per their FieldWrite.
func NewPartialUpdate(key Key) Document {
	return Document{key: key, fields: map[string]FieldWrite{}, partial: true}
}

// Key returns the document key.
func (d Document) Key() Key { return d.key }

// Partial reports whether this is a merge-in update.
func (d Document) Partial() bool { return d.partial }

// With adds a field write, returning the document for chaining.
func (d Document) With(field string, write FieldWrite) Document {
	d.fields[field] = write
	return d
}

// Fields returns the field writes.
func (d Document) Fields() map[string]FieldWrite {
	cp := make(map[string]FieldWrite, len(d.fields))
	for k, v := range d.fields {
		cp[k] = v
	}
	return cp
}

// Merge applies the document's field writes to the stored field values
// and returns the resulting fields. For a full-replace document the
// stored values are discarded except where a write says Keep. For a
// partial update, stored fields not named by any write pass through
// unchanged.
func (d Document) Merge(stored map[string]any) map[string]any {
	out := map[string]any{}
	if d.partial {
		for k, v := range stored {
			out[k] = v
		}
	}
	for field, write := range d.fields {
		switch write.Op() {
		case OpSet:
			out[field] = write.Value()
		case OpAdd:
			out[field] = appendValues(out[field], write.Value())
		case OpKeep:
			if v, ok := stored[field]; ok {
				out[field] = v
			} else {
				delete(out, field)
			}
		}
	}
	return out
}

// appendValues appends the incoming value(s) to the existing value,
// normalizing both sides to a slice.
func appendValues(existing, incoming any) any {
	out := toSlice(existing)
	out = append(out, toSlice(incoming)...)
	return out
}

func toSlice(v any) []any {
	switch vv := v.(type) {
	case nil:
		return nil
	case []any:
		return vv
	case []string:
		out := make([]any, len(vv))
		for i, s := range vv {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
