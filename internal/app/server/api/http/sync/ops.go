package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var security = []map[string][]string{{"bearer": {}}}

func (h *Handler) pullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-pull",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/pull",
		Summary:     "Delta pull",
		Description: "Returns every receipt modified after the cursor together with the cursor for the next pull",
		Tags:        []string{"sync"},
		Security:    security,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pushOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-push",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/push",
		Summary:     "Batch push",
		Description: "Applies device changes record by record and reports one outcome per item",
		Tags:        []string{"sync"},
		Security:    security,
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
		Middlewares: h.middleware,
	}
}

func (h *Handler) fullOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-full",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync/full",
		Summary:     "Full reconciliation",
		Description: "Returns the complete receipt set of the owner",
		Tags:        []string{"sync"},
		Security:    security,
		Errors:      []int{http.StatusUnauthorized},
		Middlewares: h.middleware,
	}
}
