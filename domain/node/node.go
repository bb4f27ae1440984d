// Package node provides repository node entities and their metadata as
// pulled from the content repository. Node records are transient: they are
// sourced fresh from the repository on every poll and never persisted
// locally outside the index projection.
package node

// Status describes what happened to a node in its owning transaction.
type Status string

// Status values.
const (
	StatusUpdated         Status = "u"
	StatusDeleted         Status = "d"
	StatusUnknown         Status = "unknown"
	StatusNonShardUpdated Status = "non-shard-updated"
	StatusNonShardDeleted Status = "non-shard-deleted"
)

// ParseStatus maps a repository wire value to a Status. Unrecognized
// values map to StatusUnknown, which is treated like an update so the
// node is re-fetched rather than silently dropped.
func ParseStatus(s string) Status {
	switch s {
	case "u", "updated":
		return StatusUpdated
	case "d", "deleted":
		return StatusDeleted
	case "non-shard-updated":
		return StatusNonShardUpdated
	case "non-shard-deleted":
		return StatusNonShardDeleted
	default:
		return StatusUnknown
	}
}

// IsDelete reports whether this status removes the node from the index.
// Non-shard statuses only count as deletions when cascade tracking is
// enabled: without cascade tracking a node that moved off-shard has no
// stub record to clean up.
func (s Status) IsDelete(cascadeTracking bool) bool {
	switch s {
	case StatusDeleted:
		return true
	case StatusNonShardDeleted, StatusNonShardUpdated:
		return cascadeTracking
	default:
		return false
	}
}

// Node identifies a node touched by a transaction, before its metadata
// is fetched.
type Node struct {
	id     int64
	txnID  int64
	aclID  int64
	status Status
	tenant string
}

// NewNode creates a Node reference from transaction data.
func NewNode(id, txnID, aclID int64, status Status, tenant string) Node {
	return Node{
		id:     id,
		txnID:  txnID,
		aclID:  aclID,
		status: status,
		tenant: tenant,
	}
}

// ID returns the repository-assigned node id.
func (n Node) ID() int64 { return n.id }

// TxnID returns the id of the transaction that touched this node.
func (n Node) TxnID() int64 { return n.txnID }

// AclID returns the id of the ACL governing this node.
func (n Node) AclID() int64 { return n.aclID }

// Status returns the node status within its owning transaction.
func (n Node) Status() Status { return n.status }

// Tenant returns the tenant domain owning the node.
func (n Node) Tenant() string { return n.tenant }
