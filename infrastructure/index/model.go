// Package index provides the GORM-backed document index engine. Every
// projection (node, acl, txn, changeset, checkpoint, error marker) is a
// row in one documents table: common numeric fields are promoted to
// typed columns so that delete-by-query, faceting, and range scans stay
// plain SQL, while the full field set lives in a JSON blob.
package index

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tracksync/tracksync/domain/document"
	domainindex "github.com/tracksync/tracksync/domain/index"
	"github.com/tracksync/tracksync/internal/database"
)

// DocumentModel is the GORM model for one index document. The surrogate
// primary key makes duplicate logical keys representable: the key
// columns carry a non-unique composite index, and DuplicateCount reports
// rows that share one.
type DocumentModel struct {
	PK           int64     `gorm:"column:pk;primaryKey;autoIncrement"`
	Tenant       string    `gorm:"column:tenant;size:255;index:idx_documents_key,priority:1"`
	DocType      string    `gorm:"column:doc_type;size:32;index:idx_documents_key,priority:2"`
	DocID        int64     `gorm:"column:doc_id;index:idx_documents_key,priority:3"`
	DBID         int64     `gorm:"column:db_id;index:idx_documents_db_id"`
	TxnID        int64     `gorm:"column:txn_id;index:idx_documents_txn_id"`
	AclID        int64     `gorm:"column:acl_id"`
	AclTxnID     int64     `gorm:"column:acl_txn_id"`
	InChangeSet  int64     `gorm:"column:in_changeset"`
	CommitTimeMs int64     `gorm:"column:commit_time_ms"`
	ContentIn    int64     `gorm:"column:content_version_incoming"`
	ContentOut   int64     `gorm:"column:content_version_applied"`
	Owner        string    `gorm:"column:owner;size:255"`
	ParentRef    string    `gorm:"column:parent_ref;size:255"`
	Path         string    `gorm:"column:path"`
	AncestorRefs string    `gorm:"column:ancestor_refs"`
	Fields       string    `gorm:"column:fields"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name for GORM.
func (DocumentModel) TableName() string { return "documents" }

// AutoMigrate runs GORM auto migration for the index schema.
func AutoMigrate(db database.Database) error {
	if err := db.GORM().AutoMigrate(&DocumentModel{}); err != nil {
		return fmt.Errorf("auto migrate documents: %w", err)
	}
	return nil
}

// refSeparator delimits multi-valued ref columns. Values are stored as
// "|a|b|" so a containment check is a single LIKE.
const refSeparator = "|"

// queryColumn describes how a document field maps onto a table column.
type queryColumn struct {
	column string
	multi  bool
}

// queryColumns lists the fields usable in engine queries. Conditions on
// any other field are a programming error, not a silent JSON scan.
var queryColumns = map[string]queryColumn{
	document.FieldDBID:            {column: "db_id"},
	document.FieldTxnID:           {column: "txn_id"},
	document.FieldAclID:           {column: "acl_id"},
	document.FieldAclTxnID:        {column: "acl_txn_id"},
	document.FieldInChangeSet:     {column: "in_changeset"},
	document.FieldCommitTimeMs:    {column: "commit_time_ms"},
	document.FieldContentIncoming: {column: "content_version_incoming"},
	document.FieldContentApplied:  {column: "content_version_applied"},
	document.FieldOwner:           {column: "owner"},
	document.FieldParentRef:       {column: "parent_ref"},
	document.FieldPath:            {column: "path"},
	document.FieldAncestorRefs:    {column: "ancestor_refs", multi: true},
	document.FieldTenant:          {column: "tenant"},
}

// toModel flattens a key plus merged field values into a row.
func toModel(key document.Key, fields map[string]any) (DocumentModel, error) {
	blob, err := json.Marshal(fields)
	if err != nil {
		return DocumentModel{}, fmt.Errorf("marshal document fields: %w", err)
	}
	return DocumentModel{
		Tenant:       key.Tenant(),
		DocType:      string(key.Type()),
		DocID:        key.ID(),
		DBID:         int64Value(fields[document.FieldDBID]),
		TxnID:        int64Value(fields[document.FieldTxnID]),
		AclID:        int64Value(fields[document.FieldAclID]),
		AclTxnID:     int64Value(fields[document.FieldAclTxnID]),
		InChangeSet:  int64Value(fields[document.FieldInChangeSet]),
		CommitTimeMs: int64Value(fields[document.FieldCommitTimeMs]),
		ContentIn:    int64Value(fields[document.FieldContentIncoming]),
		ContentOut:   int64Value(fields[document.FieldContentApplied]),
		Owner:        stringValue(fields[document.FieldOwner]),
		ParentRef:    stringValue(fields[document.FieldParentRef]),
		Path:         stringValue(fields[document.FieldPath]),
		AncestorRefs: joinRefs(fields[document.FieldAncestorRefs]),
		Fields:       string(blob),
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// toStored rebuilds a StoredDoc from a row.
func toStored(m DocumentModel) (domainindex.StoredDoc, error) {
	fields := map[string]any{}
	if m.Fields != "" {
		if err := json.Unmarshal([]byte(m.Fields), &fields); err != nil {
			return domainindex.StoredDoc{}, fmt.Errorf("unmarshal document fields: %w", err)
		}
	}
	key := document.NewKey(m.Tenant, m.DocID, document.DocType(m.DocType))
	return domainindex.NewStoredDoc(key, fields), nil
}

func int64Value(v any) int64 {
	switch vv := v.(type) {
	case int64:
		return vv
	case int:
		return int64(vv)
	case float64:
		return int64(vv)
	default:
		return 0
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// joinRefs renders a multi-valued ref field as "|a|b|".
func joinRefs(v any) string {
	var refs []string
	switch vv := v.(type) {
	case []string:
		refs = vv
	case []any:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				refs = append(refs, s)
			}
		}
	case string:
		if vv != "" {
			refs = []string{vv}
		}
	}
	if len(refs) == 0 {
		return ""
	}
	return refSeparator + strings.Join(refs, refSeparator) + refSeparator
}
