package health

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/apierror"
)

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	store      Pinger
	driver     string
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(store Pinger, driver string, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		store:      store,
		driver:     driver,
		log:        log.With("component", "health_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	if err := h.store.Ping(ctx); err != nil {
		h.log.Error("store ping failed", "driver", h.driver, "error", err)
		return nil, apierror.StoreUnavailable()
	}

	return &Output{
		Body: Response{
			Status: "OK",
			Store:  h.driver,
		},
	}, nil
}
