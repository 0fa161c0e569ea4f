package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/telemetry"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// apiVersion is stamped into every envelope's meta block.
const apiVersion = "v1"

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was ready.
const statusClientClosedRequest = 499

// ResponseEnvelope wraps every JSON body the gateway serves, success or
// failure, so clients always unmarshal the same shape.
type ResponseEnvelope struct {
	Success bool         `json:"success"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorBody   `json:"error,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

// ErrorBody is the wire form of a failed request.
type ErrorBody struct {
	Type      string                 `json:"type"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	// Attempts carries the per-provider failure trail when every eligible
	// carrier was tried and none could serve the request.
	Attempts []dispatch.Attempt `json:"attempts,omitempty"`
}

// ResponseMeta carries correlation data on every envelope.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

func newMeta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
		Version:   apiVersion,
	}
}

// writeData serves a success envelope with the given status.
func writeData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeEnvelope(w, status, ResponseEnvelope{Success: true, Data: data, Meta: newMeta(r)})
}

// writeError maps err onto an HTTP status and error body. Unrecognized
// errors are served as an opaque 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, body := mapError(err)
	if status >= http.StatusInternalServerError && status != statusClientClosedRequest {
		telemetry.WithTrace(r.Context(), logger).Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeEnvelope(w, status, ResponseEnvelope{Success: false, Error: body, Meta: newMeta(r)})
}

func writeEnvelope(w http.ResponseWriter, status int, env ResponseEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

// mapError translates the dispatch layer's error taxonomy to HTTP.
func mapError(err error) (int, *ErrorBody) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode, &ErrorBody{
			Type:      string(appErr.Type),
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			Retryable: appErr.Retryable,
		}
	}

	var exhausted *dispatch.AllProvidersFailedError
	if stderrors.As(err, &exhausted) {
		return http.StatusBadGateway, &ErrorBody{
			Type:      string(errors.ErrorTypeExternal),
			Code:      "ALL_PROVIDERS_FAILED",
			Message:   exhausted.Error(),
			Retryable: true,
			Attempts:  exhausted.Attempts,
		}
	}

	var provErr *provider.Error
	if stderrors.As(err, &provErr) {
		return statusForProviderError(provErr), &ErrorBody{
			Type:      string(errors.ErrorTypeExternal),
			Code:      provErr.Code,
			Message:   provErr.Message,
			Details:   map[string]interface{}{"provider_id": provErr.ProviderID},
			Retryable: provErr.Retryable,
		}
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, &ErrorBody{
			Type:      string(errors.ErrorTypeExternal),
			Code:      "GATEWAY_TIMEOUT",
			Message:   "request timed out",
			Retryable: true,
		}
	}

	if stderrors.Is(err, context.Canceled) {
		return statusClientClosedRequest, &ErrorBody{
			Type:    string(errors.ErrorTypeInternal),
			Code:    "REQUEST_CANCELLED",
			Message: "request cancelled by caller",
		}
	}

	return http.StatusInternalServerError, &ErrorBody{
		Type:    string(errors.ErrorTypeInternal),
		Code:    "INTERNAL_ERROR",
		Message: "an unexpected error occurred",
	}
}

// statusForProviderError maps carrier failures surfaced by pinned calls.
// Transport faults read as a bad gateway; carrier-side rejections keep a
// semantic status.
func statusForProviderError(e *provider.Error) int {
	switch e.Code {
	case provider.ErrCodeCircuitOpen, provider.ErrCodeRateLimited:
		return http.StatusServiceUnavailable
	case provider.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case provider.ErrCodeInvalidRequest:
		return http.StatusUnprocessableEntity
	case provider.ErrCodeNotAvailable:
		return http.StatusConflict
	case provider.ErrCodeNotFound:
		return http.StatusNotFound
	case provider.ErrCodeCancelled:
		return statusClientClosedRequest
	default:
		return http.StatusBadGateway
	}
}
