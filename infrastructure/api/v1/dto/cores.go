// Package dto defines the JSON request and response shapes of the v1
// admin API.
package dto

import (
	"time"

	"github.com/tracksync/tracksync/application/service"
	"github.com/tracksync/tracksync/domain/health"
	"github.com/tracksync/tracksync/domain/shard"
)

// ActionRequest is the optional JSON body of a core action. Which
// fields apply depends on the action: reindex and purge take id lists,
// expand takes the extra range width.
type ActionRequest struct {
	NodeIDs      []int64 `json:"nodeIds,omitempty"`
	TxIDs        []int64 `json:"txIds,omitempty"`
	AclIDs       []int64 `json:"aclIds,omitempty"`
	ChangeSetIDs []int64 `json:"changeSetIds,omitempty"`
	Add          int64   `json:"add,omitempty"`
}

// ReportResponse is the consistency report payload.
type ReportResponse struct {
	ID                      string    `json:"id"`
	GeneratedAt             time.Time `json:"generatedAt"`
	Clean                   bool      `json:"clean"`
	TxInIndexNotInDB        []int64   `json:"txInIndexNotInDb"`
	TxMissingFromIndex      []int64   `json:"txMissingFromIndex"`
	TxDuplicated            []int64   `json:"txDuplicated"`
	AclInIndexNotInDB       []int64   `json:"aclInIndexNotInDb"`
	AclMissingFromIndex     []int64   `json:"aclMissingFromIndex"`
	AclDuplicated           []int64   `json:"aclDuplicated"`
	DuplicatedNodeDocs      int64     `json:"duplicatedNodeDocs"`
	DuplicatedErrorDocs     int64     `json:"duplicatedErrorDocs"`
	DuplicatedUnindexedDocs int64     `json:"duplicatedUnindexedDocs"`
}

// ReportToDTO maps a health report to its response shape.
func ReportToDTO(r health.Report) ReportResponse {
	return ReportResponse{
		ID:                      r.ID(),
		GeneratedAt:             r.GeneratedAt(),
		Clean:                   r.Clean(),
		TxInIndexNotInDB:        r.TxInIndexNotInDB(),
		TxMissingFromIndex:      r.TxMissingFromIndex(),
		TxDuplicated:            r.TxDuplicated(),
		AclInIndexNotInDB:       r.AclInIndexNotInDB(),
		AclMissingFromIndex:     r.AclMissingFromIndex(),
		AclDuplicated:           r.AclDuplicated(),
		DuplicatedNodeDocs:      r.DuplicatedNodeDocs(),
		DuplicatedErrorDocs:     r.DuplicatedErrorDocs(),
		DuplicatedUnindexedDocs: r.DuplicatedUnindexedDocs(),
	}
}

// ActionResponse acknowledges an action that returns no report.
type ActionResponse struct {
	Action string  `json:"action"`
	Core   string  `json:"core"`
	Status string  `json:"status"`
	IDs    []int64 `json:"ids,omitempty"`
}

// SummaryResponse wraps the per-core operational snapshot.
type SummaryResponse struct {
	Summary service.Summary `json:"summary"`
}

// RangeCheckResponse is the payload of a RANGECHECK action.
type RangeCheckResponse struct {
	Outcome string `json:"outcome"`
	Extra   int64  `json:"extra"`
}

// RangeCheckToDTO maps a shard check result to its response shape.
func RangeCheckToDTO(r shard.CheckResult) RangeCheckResponse {
	outcome := "noAction"
	switch r.Outcome() {
	case shard.CheckRecommendExpansion:
		outcome = "recommendExpansion"
	case shard.CheckTooLate:
		outcome = "tooLate"
	case shard.CheckSaturated:
		outcome = "saturated"
	}
	return RangeCheckResponse{Outcome: outcome, Extra: r.Extra()}
}

// RangeResponse is the payload of an EXPAND action.
type RangeResponse struct {
	Start    int64 `json:"start"`
	End      int64 `json:"end"`
	Expanded bool  `json:"expanded"`
}

// RangeToDTO maps a range policy to its response shape.
func RangeToDTO(p shard.RangePolicy) RangeResponse {
	return RangeResponse{Start: p.Start(), End: p.End(), Expanded: p.Expanded()}
}
