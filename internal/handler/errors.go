package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/preorder/internal/domain/auth"
	"github.com/xenking/preorder/internal/domain/order"
	"github.com/xenking/preorder/internal/domain/promotion"
	"github.com/xenking/preorder/pkg/httpmiddleware"
)

// apiError is an error with a fixed HTTP rendering.
type apiError struct {
	status    int
	code      string
	message   string
	retryable bool
}

func (e *apiError) Error() string { return e.message }

var (
	errUnauthorized     = &apiError{status: http.StatusUnauthorized, code: "unauthorized", message: "invalid api key"}
	errRouteNotFound    = &apiError{status: http.StatusNotFound, code: "not_found", message: "route not found"}
	errMethodNotAllowed = &apiError{status: http.StatusMethodNotAllowed, code: "method_not_allowed", message: "method not allowed"}
	errRetentionOff     = &apiError{status: http.StatusNotFound, code: "not_found", message: "retention is disabled"}
)

// badRequest reports a body or query that could not be decoded.
func badRequest(err error) error {
	return &apiError{status: http.StatusBadRequest, code: "bad_request", message: err.Error()}
}

// writeError maps domain errors onto status codes:
//
//	ValidationError, ConfigError   400
//	operator guard                 403
//	ErrNotFound                    404
//	InvalidTransitionError         409
//	ErrConflict                    409, retryable
//	lost storage connectivity      503, retryable
//	anything else                  500
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		apiErr  *apiError
		vErr    *order.ValidationError
		cfgErr  *promotion.ConfigError
		itErr   *order.InvalidTransitionError
		message = err.Error()
	)
	switch {
	case errors.As(err, &apiErr):
		httpmiddleware.WriteError(w, apiErr.status, apiErr.code, apiErr.message, apiErr.retryable)
	case errors.As(err, &vErr), errors.As(err, &cfgErr):
		httpmiddleware.WriteError(w, http.StatusBadRequest, "validation_failed", message, false)
	case errors.Is(err, auth.ErrOperatorRequired):
		httpmiddleware.WriteError(w, http.StatusForbidden, "operator_required", "operator api key required", false)
	case errors.Is(err, order.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, "not_found", message, false)
	case errors.As(err, &itErr):
		httpmiddleware.WriteError(w, http.StatusConflict, "invalid_transition", message, false)
	case errors.Is(err, order.ErrConflict):
		httpmiddleware.WriteError(w, http.StatusConflict, "conflict", message, true)
	case order.IsUnavailable(err):
		zctx.From(r.Context()).Warn("Storage unavailable", zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "unavailable", "storage unavailable", true)
	default:
		zctx.From(r.Context()).Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal", "internal server error", false)
	}
}
