package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	apimiddleware "github.com/tracksync/tracksync/infrastructure/api/middleware"
	v1 "github.com/tracksync/tracksync/infrastructure/api/v1"
)

// AdminServer exposes the per-core maintenance actions over HTTP.
// apiKeys configures write protection: every action is a mutating POST
// and requires a valid key when keys are configured.
type AdminServer struct {
	cores        map[string]v1.Core
	apiKeys      []string
	server       *Server
	router       chi.Router
	routerCalled bool
	logger       *slog.Logger
}

// NewAdminServer creates an AdminServer over the given cores.
func NewAdminServer(cores map[string]v1.Core, apiKeys []string, logger *slog.Logger) *AdminServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminServer{
		cores:   cores,
		apiKeys: apiKeys,
		logger:  logger,
	}
}

// Router returns the chi router for customization before starting.
// Call this first, add custom middleware with router.Use(), then call
// MountRoutes. If not called, ListenAndServe creates a default router.
func (a *AdminServer) Router() chi.Router {
	if a.router != nil {
		return a.router
	}
	a.router = chi.NewRouter()
	a.routerCalled = true
	return a.router
}

// MountRoutes wires up the v1 routes on the router.
func (a *AdminServer) MountRoutes() {
	if a.router == nil {
		a.Router()
	}
	a.mountRoutes(a.router)
}

func (a *AdminServer) mountRoutes(router chi.Router) {
	coresRouter := v1.NewCoresRouter(a.cores, a.logger)

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Group(func(r chi.Router) {
			r.Use(apimiddleware.WriteProtectAuth(a.apiKeys))
			r.Mount("/cores", coresRouter.Routes())
		})
	})
}

// ListenAndServe starts the HTTP server on the given address.
func (a *AdminServer) ListenAndServe(addr string) error {
	server := NewServer(addr, a.logger)
	a.server = &server

	if a.routerCalled && a.router != nil {
		server.Router().Mount("/", a.router)
	} else {
		a.mountRoutes(server.Router())
	}

	return server.Start()
}

// Shutdown gracefully shuts down the server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
