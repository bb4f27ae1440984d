// Package v1 provides the v1 admin API routes.
package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tracksync/tracksync/application/service"
	"github.com/tracksync/tracksync/domain/health"
	"github.com/tracksync/tracksync/domain/shard"
	"github.com/tracksync/tracksync/infrastructure/api/middleware"
	"github.com/tracksync/tracksync/infrastructure/api/v1/dto"
)

// AdminService is the per-core maintenance surface behind the action
// endpoint.
type AdminService interface {
	Check(ctx context.Context) (health.Report, error)
	Fix(ctx context.Context) (health.Report, error)
	Summary(ctx context.Context) (service.Summary, error)
	ReindexNodes(ctx context.Context, nodeIDs []int64) error
	ReindexTransactions(ctx context.Context, txnIDs []int64) error
	ReindexAcls(ctx context.Context, aclIDs []int64) error
	PurgeNodes(ctx context.Context, nodeIDs []int64) error
	PurgeTransactions(ctx context.Context, txnIDs []int64) error
	PurgeAcls(ctx context.Context, aclIDs []int64) error
	PurgeChangeSets(ctx context.Context, changeSetIDs []int64) error
	Retry(ctx context.Context) ([]int64, error)
}

// ShardService is the shard range management surface.
type ShardService interface {
	RangeCheck(ctx context.Context) (shard.CheckResult, error)
	Expand(ctx context.Context, add int64) (shard.RangePolicy, error)
}

// Core bundles the services of one index core.
type Core struct {
	Admin  AdminService
	Shards ShardService
}

// CoresRouter handles the per-core action endpoints.
type CoresRouter struct {
	cores  map[string]Core
	logger *slog.Logger
}

// NewCoresRouter creates a CoresRouter over the given cores.
func NewCoresRouter(cores map[string]Core, logger *slog.Logger) *CoresRouter {
	return &CoresRouter{cores: cores, logger: logger}
}

// Routes returns the chi router for core endpoints.
func (c *CoresRouter) Routes() chi.Router {
	router := chi.NewRouter()
	router.Get("/", c.List)
	router.Post("/{core}/action/{action}", c.Action)
	return router
}

// List handles GET /api/v1/cores.
func (c *CoresRouter) List(w http.ResponseWriter, req *http.Request) {
	names := make([]string, 0, len(c.cores))
	for name := range c.cores {
		names = append(names, name)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string][]string{"cores": names})
}

// Action handles POST /api/v1/cores/{core}/action/{action}.
func (c *CoresRouter) Action(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	coreName := chi.URLParam(req, "core")
	core, ok := c.cores[coreName]
	if !ok {
		middleware.WriteError(w, req,
			middleware.NewAPIError(http.StatusNotFound, fmt.Sprintf("unknown core %q", coreName), nil),
			c.logger)
		return
	}

	var body dto.ActionRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		middleware.WriteError(w, req,
			middleware.NewAPIError(http.StatusBadRequest, "malformed request body", err),
			c.logger)
		return
	}

	action := strings.ToUpper(chi.URLParam(req, "action"))
	switch action {
	case "CHECK", "REPORT":
		report, err := core.Admin.Check(ctx)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, dto.ReportToDTO(report))

	case "FIX":
		report, err := core.Admin.Fix(ctx)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, dto.ReportToDTO(report))

	case "SUMMARY":
		summary, err := core.Admin.Summary(ctx)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, dto.SummaryResponse{Summary: summary})

	case "REINDEX":
		if err := c.reindex(ctx, core, body); err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK,
			dto.ActionResponse{Action: action, Core: coreName, Status: "ok"})

	case "PURGE":
		if err := c.purge(ctx, core, body); err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK,
			dto.ActionResponse{Action: action, Core: coreName, Status: "ok"})

	case "RETRY":
		ids, err := core.Admin.Retry(ctx)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK,
			dto.ActionResponse{Action: action, Core: coreName, Status: "ok", IDs: ids})

	case "RANGECHECK":
		result, err := c.rangeCheck(ctx, core)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, result)

	case "EXPAND":
		policy, err := c.expand(ctx, core, body.Add)
		if err != nil {
			middleware.WriteError(w, req, err, c.logger)
			return
		}
		middleware.WriteJSON(w, http.StatusOK, policy)

	default:
		middleware.WriteError(w, req,
			middleware.NewAPIError(http.StatusBadRequest, fmt.Sprintf("unknown action %q", action), nil),
			c.logger)
	}
}

func (c *CoresRouter) reindex(ctx context.Context, core Core, body dto.ActionRequest) error {
	if err := core.Admin.ReindexNodes(ctx, body.NodeIDs); err != nil {
		return err
	}
	if err := core.Admin.ReindexTransactions(ctx, body.TxIDs); err != nil {
		return err
	}
	return core.Admin.ReindexAcls(ctx, body.AclIDs)
}

func (c *CoresRouter) purge(ctx context.Context, core Core, body dto.ActionRequest) error {
	if err := core.Admin.PurgeNodes(ctx, body.NodeIDs); err != nil {
		return err
	}
	if err := core.Admin.PurgeTransactions(ctx, body.TxIDs); err != nil {
		return err
	}
	if err := core.Admin.PurgeAcls(ctx, body.AclIDs); err != nil {
		return err
	}
	return core.Admin.PurgeChangeSets(ctx, body.ChangeSetIDs)
}

func (c *CoresRouter) rangeCheck(ctx context.Context, core Core) (dto.RangeCheckResponse, error) {
	if core.Shards == nil {
		return dto.RangeCheckResponse{},
			middleware.NewAPIError(http.StatusConflict, "core is not range sharded", service.ErrNoRangePolicy)
	}
	result, err := core.Shards.RangeCheck(ctx)
	if err != nil {
		if errors.Is(err, service.ErrNoRangePolicy) {
			return dto.RangeCheckResponse{},
				middleware.NewAPIError(http.StatusConflict, err.Error(), err)
		}
		return dto.RangeCheckResponse{}, err
	}
	return dto.RangeCheckToDTO(result), nil
}

func (c *CoresRouter) expand(ctx context.Context, core Core, add int64) (dto.RangeResponse, error) {
	if core.Shards == nil {
		return dto.RangeResponse{},
			middleware.NewAPIError(http.StatusConflict, "core is not range sharded", service.ErrNoRangePolicy)
	}
	if add <= 0 {
		return dto.RangeResponse{},
			middleware.NewAPIError(http.StatusBadRequest, "add must be positive", nil)
	}
	policy, err := core.Shards.Expand(ctx, add)
	if err != nil {
		if errors.Is(err, shard.ErrAlreadyExpanded) ||
			errors.Is(err, shard.ErrUnsafeToExpand) ||
			errors.Is(err, shard.ErrNotExpandable) ||
			errors.Is(err, service.ErrNoRangePolicy) {
			return dto.RangeResponse{},
				middleware.NewAPIError(http.StatusConflict, err.Error(), err)
		}
		return dto.RangeResponse{}, err
	}
	return dto.RangeToDTO(policy), nil
}
