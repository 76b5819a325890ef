// Package api wires the HTTP surface of the sync server:
//
//	GET  /api/v1/health     store reachability (public)
//	POST /api/v1/sync/pull  delta pull (bearer)
//	POST /api/v1/sync/push  batch push (bearer)
//	POST /api/v1/sync/full  full reconciliation (bearer)
package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/apierror"
	healthAPI "receiptvault/internal/app/server/api/http/health"
	"receiptvault/internal/app/server/api/http/middleware"
	"receiptvault/internal/app/server/api/http/middleware/auth"
	"receiptvault/internal/app/server/api/http/middleware/logger"
	syncAPI "receiptvault/internal/app/server/api/http/sync"
	"receiptvault/internal/app/server/config"
	"receiptvault/internal/domain/sync"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Store  healthAPI.Pinger
	Sync   sync.Servicer
	Config *config.Config
	Log    *slog.Logger
}

type Handlers struct {
	Health *healthAPI.Handler
	Sync   *syncAPI.Handler
}

// New builds the router with every operation registered.
func New(deps Deps) *chi.Mux {
	apierror.Install()

	mux := chi.NewMux()
	mux.Use(chimw.Recoverer)
	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierror.Write(w, apierror.New(http.StatusNotFound, apierror.CodeNotFound, "no such route"))
	})
	mux.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apierror.Write(w, apierror.New(http.StatusMethodNotAllowed, apierror.CodeNotFound, "method not allowed"))
	})

	cfg := huma.DefaultConfig("ReceiptVault Sync API", "1.0.0")
	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
	}
	// Bodies carry exactly the documented fields, no $schema links.
	cfg.CreateHooks = nil

	API := humachi.New(mux, cfg)

	h := handlers(deps)
	h.Health.SetupRoutes(API)
	h.Sync.SetupRoutes(API)

	return mux
}

func handlers(deps Deps) *Handlers {
	authMW := auth.New(deps.Config.Auth.Secret, deps.Log)
	loggerMW := logger.New(deps.Log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(deps.Store, deps.Config.Store.Driver, deps.Log, middlewares.GetAllAndClear())

	middlewares.Add(loggerMW.Middleware())
	middlewares.Add(authMW.Middleware())
	syncHandler := syncAPI.NewHandler(deps.Sync, deps.Log, middlewares.GetAllAndClear())

	return &Handlers{
		Health: healthHandler,
		Sync:   syncHandler,
	}
}
