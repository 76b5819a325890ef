// Package apierror renders every API failure as
// {"error":{"code":"...","message":"..."}}.
package apierror

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeInternal         = "INTERNAL_ERROR"
)

type Body struct {
	Code    string `json:"code" example:"VALIDATION_ERROR"`
	Message string `json:"message" example:"cursor: is required"`
}

// Error is the envelope huma writes for any StatusError.
type Error struct {
	status int
	Body   Body `json:"error"`
}

func (e *Error) Error() string { return e.Body.Message }
func (e *Error) GetStatus() int { return e.status }

func New(status int, code, message string) *Error {
	return &Error{status: status, Body: Body{Code: code, Message: message}}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, message)
}

func Unauthorized() *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token")
}

func StoreUnavailable() *Error {
	return New(http.StatusServiceUnavailable, CodeStoreUnavailable, "record store is temporarily unavailable, retry later")
}

func Internal() *Error {
	return New(http.StatusInternalServerError, CodeInternal, "internal server error")
}

// CodeFor maps an HTTP status to the envelope code.
func CodeFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeUnauthorized
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return CodeStoreUnavailable
	default:
		return CodeInternal
	}
}

// Install replaces huma's default problem+json errors. Request validation
// failures are reported as 400 with the validator's details.
func Install() {
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			return Internal()
		}

		details := make([]string, 0, len(errs))
		for _, err := range errs {
			if err != nil {
				details = append(details, err.Error())
			}
		}
		if len(details) > 0 {
			msg = msg + ": " + strings.Join(details, "; ")
		}
		return New(status, CodeFor(status), msg)
	}
}

// Write sends the envelope from places that run outside an operation,
// such as middleware and router fallbacks.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.status)
	_ = json.NewEncoder(w).Encode(e)
}

// WriteHuma is Write for huma middleware.
func WriteHuma(ctx huma.Context, e *Error) {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(e.status)
	_ = json.NewEncoder(ctx.BodyWriter()).Encode(e)
}
