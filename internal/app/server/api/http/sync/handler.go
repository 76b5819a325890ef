package sync

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"receiptvault/internal/app/server/api/http/apierror"
	"receiptvault/internal/app/server/api/http/middleware/auth"
	"receiptvault/internal/domain/sync"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log.With("component", "sync_handler"),
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.pullOp(), h.pull)
	huma.Register(api, h.pushOp(), h.push)
	huma.Register(api, h.fullOp(), h.full)
}

func (h *Handler) pull(ctx context.Context, input *pullInput) (*snapshotOutput, error) {
	owner, ok := auth.GetOwnerID(ctx)
	if !ok {
		return nil, apierror.Unauthorized()
	}

	resp, err := h.service.Pull(ctx, sync.PullRequest{OwnerID: owner, Cursor: input.Body.Cursor})
	if err != nil {
		return nil, h.toAPIError("pull", owner, err)
	}

	return &snapshotOutput{Body: toSnapshot(resp)}, nil
}

func (h *Handler) push(ctx context.Context, input *pushInput) (*pushOutput, error) {
	owner, ok := auth.GetOwnerID(ctx)
	if !ok {
		return nil, apierror.Unauthorized()
	}

	items, err := toClientRecords(input.Body.Items)
	if err != nil {
		return nil, h.toAPIError("push", owner, err)
	}

	resp, err := h.service.Push(ctx, sync.PushRequest{OwnerID: owner, Items: items})
	if err != nil {
		return nil, h.toAPIError("push", owner, err)
	}

	return &pushOutput{Body: PushResponse{Outcomes: toOutcomes(resp)}}, nil
}

func (h *Handler) full(ctx context.Context, _ *fullInput) (*snapshotOutput, error) {
	owner, ok := auth.GetOwnerID(ctx)
	if !ok {
		return nil, apierror.Unauthorized()
	}

	resp, err := h.service.Full(ctx, sync.FullRequest{OwnerID: owner})
	if err != nil {
		return nil, h.toAPIError("full", owner, err)
	}

	return &snapshotOutput{Body: toSnapshot(resp)}, nil
}

// toAPIError maps engine errors to the envelope. Only validation messages
// reach the caller verbatim.
func (h *Handler) toAPIError(action, owner string, err error) error {
	var verr *sync.ValidationError
	switch {
	case errors.As(err, &verr):
		return apierror.Validation(verr.Error())
	case errors.Is(err, sync.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		h.log.Warn("store unavailable", "action", action, "owner", owner, "error", err)
		return apierror.StoreUnavailable()
	default:
		h.log.Error("sync failed", "action", action, "owner", owner, "error", err)
		return apierror.Internal()
	}
}
