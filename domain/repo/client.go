// Package repo defines the contract with the authoritative content
// repository. The indexing side never mutates the repository; it only
// pulls ordered deltas through this interface.
package repo

import (
	"context"
	"errors"

	"github.com/tracksync/tracksync/domain/acl"
	"github.com/tracksync/tracksync/domain/node"
	"github.com/tracksync/tracksync/domain/txn"
)

// ErrTransient marks a repository communication failure that should be
// retried on the next scheduled pass. A tracker run aborts without
// advancing its checkpoint when it sees one.
var ErrTransient = errors.New("transient repository error")

// IsTransient reports whether the error chain contains ErrTransient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// MetadataRequest selects the nodes and metadata sections to fetch.
// Either NodeIDs or the FromID/ToID range is set, never both.
type MetadataRequest struct {
	NodeIDs []int64
	FromID  int64
	ToID    int64
	Options node.FetchOptions
}

// TextContent is the result of a raw text-content fetch for one node
// property, including the transform outcome from the content service.
type TextContent struct {
	text              string
	transformStatus   string
	transformError    string
	transformDuration int64
	contentVersion    int64
}

// NewTextContent creates a TextContent result.
func NewTextContent(text, status, transformErr string, durationMs, contentVersion int64) TextContent {
	return TextContent{
		text:              text,
		transformStatus:   status,
		transformError:    transformErr,
		transformDuration: durationMs,
		contentVersion:    contentVersion,
	}
}

// Text returns the transformed plain text.
func (c TextContent) Text() string { return c.text }

// TransformStatus returns the transform service status.
func (c TextContent) TransformStatus() string { return c.transformStatus }

// TransformError returns the transform failure message, if any.
func (c TextContent) TransformError() string { return c.transformError }

// TransformDurationMs returns the transform duration in milliseconds.
func (c TextContent) TransformDurationMs() int64 { return c.transformDuration }

// ContentVersion returns the version stamp of the fetched content.
func (c TextContent) ContentVersion() int64 { return c.contentVersion }

// ModelSnapshot identifies a content model the index was built against.
type ModelSnapshot struct {
	Name     string
	Checksum int64
}

// Model diff kinds reported by the repository.
const (
	ModelDiffNew     = "NEW"
	ModelDiffChanged = "CHANGED"
	ModelDiffRemoved = "REMOVED"
)

// ModelDiff is one content-model change relative to the snapshots the
// indexer sent. The repository evaluates backward compatibility on its
// side; the indexer only records the verdict.
type ModelDiff struct {
	name       string
	kind       string
	checksum   int64
	compatible bool
}

// NewModelDiff creates a ModelDiff.
func NewModelDiff(name, kind string, checksum int64, compatible bool) ModelDiff {
	return ModelDiff{name: name, kind: kind, checksum: checksum, compatible: compatible}
}

// Name returns the qualified model name.
func (d ModelDiff) Name() string { return d.name }

// Kind returns the diff kind.
func (d ModelDiff) Kind() string { return d.kind }

// Checksum returns the model's current checksum.
func (d ModelDiff) Checksum() int64 { return d.checksum }

// Compatible reports whether a changed model stays backward compatible.
func (d ModelDiff) Compatible() bool { return d.compatible }

// Client is the repository pull API.
type Client interface {
	// Transactions returns the next ordered batch of transactions with
	// commit time >= sinceCommitTime and id > sinceID.
	Transactions(ctx context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.Transaction, error)

	// AclChangeSets returns the next ordered batch of ACL change-sets.
	AclChangeSets(ctx context.Context, sinceCommitTime, sinceID int64, maxResults int) ([]txn.AclChangeSet, error)

	// Nodes returns the node references touched by the given transactions.
	Nodes(ctx context.Context, txnIDs []int64) ([]node.Node, error)

	// NodeMetadata fetches metadata for the selected nodes. The request
	// options control which sections are populated.
	NodeMetadata(ctx context.Context, req MetadataRequest) ([]node.Metadata, error)

	// Acls returns the ACL ids committed in the given change-sets.
	Acls(ctx context.Context, changeSetIDs []int64) ([]int64, error)

	// AclReaders returns the authority lists for one ACL.
	AclReaders(ctx context.Context, aclID int64) (acl.Readers, error)

	// TextContent fetches the transformed text for one node property.
	TextContent(ctx context.Context, nodeID int64, property string) (TextContent, error)

	// ModelDiffs compares the given model snapshots against the
	// repository's current content models.
	ModelDiffs(ctx context.Context, known []ModelSnapshot) ([]ModelDiff, error)
}
