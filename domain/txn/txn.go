// Package txn provides the ordered change units pulled from the content
// repository: content transactions and ACL change-sets.
package txn

import "time"

// Transaction is an atomic, ordered unit of committed content changes.
// Transactions are immutable once committed upstream; ids are monotonic.
type Transaction struct {
	id           int64
	commitTimeMs int64
	updates      int64
	deletes      int64
}

// NewTransaction creates a Transaction from repository data.
func NewTransaction(id, commitTimeMs, updates, deletes int64) Transaction {
	return Transaction{
		id:           id,
		commitTimeMs: commitTimeMs,
		updates:      updates,
		deletes:      deletes,
	}
}

// ID returns the transaction id.
func (t Transaction) ID() int64 { return t.id }

// CommitTimeMs returns the commit time in milliseconds since the epoch.
func (t Transaction) CommitTimeMs() int64 { return t.commitTimeMs }

// CommitTime returns the commit time as a time.Time.
func (t Transaction) CommitTime() time.Time {
	return time.UnixMilli(t.commitTimeMs)
}

// Updates returns the number of node updates committed in this transaction.
func (t Transaction) Updates() int64 { return t.updates }

// Deletes returns the number of node deletions committed in this transaction.
func (t Transaction) Deletes() int64 { return t.deletes }

// AclChangeSet is an atomic, ordered unit of committed permission changes.
type AclChangeSet struct {
	id           int64
	commitTimeMs int64
	aclCount     int64
}

// NewAclChangeSet creates an AclChangeSet from repository data.
func NewAclChangeSet(id, commitTimeMs, aclCount int64) AclChangeSet {
	return AclChangeSet{
		id:           id,
		commitTimeMs: commitTimeMs,
		aclCount:     aclCount,
	}
}

// ID returns the change-set id.
func (c AclChangeSet) ID() int64 { return c.id }

// CommitTimeMs returns the commit time in milliseconds since the epoch.
func (c AclChangeSet) CommitTimeMs() int64 { return c.commitTimeMs }

// CommitTime returns the commit time as a time.Time.
func (c AclChangeSet) CommitTime() time.Time {
	return time.UnixMilli(c.commitTimeMs)
}

// AclCount returns the number of ACLs committed in this change-set.
func (c AclChangeSet) AclCount() int64 { return c.aclCount }

// MaxTxnID is the sentinel id marking a node as fully fetched during an
// explicit reindex. A node carrying this id has no later transaction to
// defer to, so cached clean-content markers for its owning transaction
// must be invalidated.
const MaxTxnID = int64(^uint64(0) >> 1)
