package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/tracksync/tracksync/domain/acl"
	"github.com/tracksync/tracksync/domain/document"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/repo"
	"github.com/tracksync/tracksync/domain/txn"
)

// Synchronizer maps repository metadata into index documents. Metadata
// writes are full replacements that explicitly keep the content fields;
// content and cascade writes are partial updates naming only the fields
// they own. The split is what lets the expensive content pass run on its
// own cadence without racing metadata indexing.
type Synchronizer struct {
	tenant string
}

// NewSynchronizer creates a Synchronizer for the given default tenant.
func NewSynchronizer(tenant string) *Synchronizer {
	return &Synchronizer{tenant: tenant}
}

func (s *Synchronizer) tenantFor(t string) string {
	if t != "" {
		return t
	}
	return s.tenant
}

// NodeKey returns the index key for a node id.
func (s *Synchronizer) NodeKey(tenant string, id int64) document.Key {
	return document.NewKey(s.tenantFor(tenant), id, document.TypeNode)
}

// ErrorNodeKey returns the index key for a node's error document.
func (s *Synchronizer) ErrorNodeKey(tenant string, id int64) document.Key {
	return document.NewKey(s.tenantFor(tenant), id, document.TypeErrorNode)
}

// NodeDocument builds the full-replace projection of one node. Content
// and transform-outcome fields are kept verbatim so an unrelated
// metadata update never clears text that the content pass already
// applied; only the incoming content version moves, which is what flags
// the node for the next content pass.
func (s *Synchronizer) NodeDocument(meta node.Metadata) document.Document {
	doc := document.NewDocument(s.NodeKey(meta.Tenant(), meta.ID())).
		With(document.FieldDBID, document.Set(meta.ID())).
		With(document.FieldTxnID, document.Set(meta.TxnID())).
		With(document.FieldAclID, document.Set(meta.AclID())).
		With(document.FieldTenant, document.Set(s.tenantFor(meta.Tenant()))).
		With(document.FieldType, document.Set(meta.Type())).
		With(document.FieldNodeRef, document.Set(meta.NodeRef())).
		With(document.FieldParentRef, document.Set(meta.ParentRef())).
		With(document.FieldPath, document.Set(meta.Path())).
		With(document.FieldAncestorPaths, document.Set(ancestorPaths(meta.Path()))).
		With(document.FieldNamePaths, document.Set(joinNamePaths(meta.NamePaths()))).
		With(document.FieldAncestorRefs, document.Set(meta.Ancestors())).
		With(document.FieldOwner, document.Set(meta.Owner())).
		With(document.FieldAspects, document.Set(meta.Aspects())).
		With(document.FieldProperties, document.Set(flattenProperties(meta.Properties()))).
		With(document.FieldContentIncoming, document.Set(incomingContentVersion(meta))).
		With(document.FieldContent, document.Keep()).
		With(document.FieldContentApplied, document.Keep()).
		With(document.FieldTransformStatus, document.Keep()).
		With(document.FieldTransformTimeMs, document.Keep()).
		With(document.FieldTransformError, document.Keep()).
		With(document.FieldFingerprint, document.Keep())
	return doc
}

// ReindexNodeDocument builds the projection used by an explicit reindex
// request: like NodeDocument, but the applied content version is reset
// so the content pass re-pulls text even when the version looks current.
func (s *Synchronizer) ReindexNodeDocument(meta node.Metadata) document.Document {
	return s.NodeDocument(meta).
		With(document.FieldContentApplied, document.Set(int64(0)))
}

// UnindexedNodeDocument builds the minimal stub written for a node this
// shard does not own. It carries just enough ancestry for the owning
// shard's cascade pass to locate the node.
func (s *Synchronizer) UnindexedNodeDocument(meta node.Metadata) document.Document {
	return document.NewDocument(document.NewKey(s.tenantFor(meta.Tenant()), meta.ID(), document.TypeUnindexedNode)).
		With(document.FieldDBID, document.Set(meta.ID())).
		With(document.FieldTxnID, document.Set(meta.TxnID())).
		With(document.FieldNodeRef, document.Set(meta.NodeRef())).
		With(document.FieldParentRef, document.Set(meta.ParentRef())).
		With(document.FieldAncestorRefs, document.Set(meta.Ancestors()))
}

// CascadeDocument builds the partial update repairing a descendant's
// derived path data after an ancestor rename. Only path-derived fields
// are named; everything else passes through untouched. The key is the
// descendant document's own key, so an off-shard stub is repaired in
// place instead of growing a phantom node document.
func (s *Synchronizer) CascadeDocument(key document.Key, meta node.Metadata) document.Document {
	return document.NewPartialUpdate(key).
		With(document.FieldPath, document.Set(meta.Path())).
		With(document.FieldAncestorPaths, document.Set(ancestorPaths(meta.Path()))).
		With(document.FieldNamePaths, document.Set(joinNamePaths(meta.NamePaths()))).
		With(document.FieldAncestorRefs, document.Set(meta.Ancestors()))
}

// ContentDocument builds the partial update applying fetched text
// content and its transform outcome, stamping the applied version so
// the node drops out of the content-pass candidate set.
func (s *Synchronizer) ContentDocument(tenant string, nodeID, appliedVersion int64, content repo.TextContent) document.Document {
	return document.NewPartialUpdate(s.NodeKey(tenant, nodeID)).
		With(document.FieldContent, document.Set(content.Text())).
		With(document.FieldTransformStatus, document.Set(content.TransformStatus())).
		With(document.FieldTransformError, document.Set(content.TransformError())).
		With(document.FieldTransformTimeMs, document.Set(content.TransformDurationMs())).
		With(document.FieldContentApplied, document.Set(appliedVersion)).
		With(document.FieldFingerprint, document.Set(Fingerprint(content.Text())))
}

// ErrorNodeDocument builds the placeholder written when a node fails to
// project. The id stays retryable through the error-document population.
func (s *Synchronizer) ErrorNodeDocument(tenant string, nodeID, txnID int64, cause error) document.Document {
	return document.NewDocument(s.ErrorNodeKey(tenant, nodeID)).
		With(document.FieldDBID, document.Set(nodeID)).
		With(document.FieldTxnID, document.Set(txnID)).
		With(document.FieldErrorMessage, document.Set(cause.Error())).
		With(document.FieldErrorStack, document.Set(fmt.Sprintf("%+v", cause)))
}

// TxnDocument builds the marker document recording a fully applied
// transaction, which the health reporter facets over.
func (s *Synchronizer) TxnDocument(t txn.Transaction) document.Document {
	return document.NewDocument(document.NewKey(s.tenant, t.ID(), document.TypeTxn)).
		With(document.FieldDBID, document.Set(t.ID())).
		With(document.FieldCommitTimeMs, document.Set(t.CommitTimeMs())).
		With(document.FieldDocCount, document.Set(t.Updates()+t.Deletes()))
}

// ChangeSetDocument builds the marker document for an applied ACL
// change-set. The set's own id doubles as the in-changeset field so the
// health reporter can run the same symmetric-difference facet query it
// uses for transactions.
func (s *Synchronizer) ChangeSetDocument(cs txn.AclChangeSet) document.Document {
	return document.NewDocument(document.NewKey(s.tenant, cs.ID(), document.TypeAclChangeSet)).
		With(document.FieldDBID, document.Set(cs.ID())).
		With(document.FieldInChangeSet, document.Set(cs.ID())).
		With(document.FieldCommitTimeMs, document.Set(cs.CommitTimeMs())).
		With(document.FieldDocCount, document.Set(cs.AclCount()))
}

// AclDocument builds the projection of one ACL's authority lists, with
// group/guest/everyone authorities tenant-qualified.
func (s *Synchronizer) AclDocument(readers acl.Readers) document.Document {
	tenant := s.tenant
	return document.NewDocument(document.NewKey(tenant, readers.AclID(), document.TypeAcl)).
		With(document.FieldDBID, document.Set(readers.AclID())).
		With(document.FieldInChangeSet, document.Set(readers.ChangeSetID())).
		With(document.FieldReaders, document.Set(acl.QualifyAll(readers.Readers(), tenant))).
		With(document.FieldDenied, document.Set(acl.QualifyAll(readers.Denied(), tenant)))
}

// Fingerprint returns the content fingerprint for a text payload.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ancestorPaths returns every strict prefix path of the given path:
// "/a/b/c" yields ["/a", "/a/b"].
func ancestorPaths(path string) []string {
	if path == "" || path == "/" {
		return nil
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	out := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		out = append(out, "/"+strings.Join(parts[:i], "/"))
	}
	return out
}

// joinNamePaths renders each name-path element list as one path string.
func joinNamePaths(paths [][]string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, "/"+strings.Join(p, "/"))
	}
	return out
}

// flattenProperties renders all non-content property values as indexable
// strings, in stable property-name order.
func flattenProperties(props map[string]node.PropertyValue) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		for _, text := range props[name].Flatten() {
			out = append(out, name+"="+text)
		}
	}
	return out
}

// incomingContentVersion derives the incoming content version from the
// node's content-reference properties. Repository content ids change
// whenever content changes, so the largest one is the version stamp.
func incomingContentVersion(meta node.Metadata) int64 {
	var version int64
	for _, prop := range meta.Properties() {
		if prop.IsContent() && prop.ContentID() > version {
			version = prop.ContentID()
		}
	}
	return version
}
