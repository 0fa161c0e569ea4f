package rest

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

func TestMapError_AppError(t *testing.T) {
	err := errors.NewValidationError("INVALID_COUNTRY", "unknown country").
		WithDetails(map[string]interface{}{"country_code": "ZZ"})

	status, body := mapError(err)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", body.Type)
	assert.Equal(t, "INVALID_COUNTRY", body.Code)
	assert.Equal(t, "unknown country", body.Message)
	assert.Equal(t, "ZZ", body.Details["country_code"])
	assert.False(t, body.Retryable)
}

func TestMapError_WrappedAppError(t *testing.T) {
	err := fmt.Errorf("reserve number: %w", errors.ErrProviderNotFound)

	status, body := mapError(err)

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "RESOURCE_NOT_FOUND", body.Code)
}

func TestMapError_AllProvidersFailed(t *testing.T) {
	err := &dispatch.AllProvidersFailedError{
		Operation: "number_search",
		Attempts: []dispatch.Attempt{
			{ProviderID: "twilio", Err: provider.NewTransportError("twilio", provider.ErrCodeConnectionFailed, "dial tcp: refused")},
		},
	}

	status, body := mapError(err)

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "ALL_PROVIDERS_FAILED", body.Code)
	assert.Equal(t, "external", body.Type)
	assert.True(t, body.Retryable)
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, "twilio", body.Attempts[0].ProviderID)
}

func TestMapError_ProviderErrorStatuses(t *testing.T) {
	tests := []struct {
		code       string
		wantStatus int
	}{
		{provider.ErrCodeCircuitOpen, http.StatusServiceUnavailable},
		{provider.ErrCodeRateLimited, http.StatusServiceUnavailable},
		{provider.ErrCodeTimeout, http.StatusGatewayTimeout},
		{provider.ErrCodeInvalidRequest, http.StatusUnprocessableEntity},
		{provider.ErrCodeNotAvailable, http.StatusConflict},
		{provider.ErrCodeNotFound, http.StatusNotFound},
		{provider.ErrCodeCancelled, statusClientClosedRequest},
		{provider.ErrCodeConnectionFailed, http.StatusBadGateway},
		{provider.ErrCodeServerError, http.StatusBadGateway},
		{provider.ErrCodeUnauthorized, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := &provider.Error{Code: tt.code, Message: "carrier said no", ProviderID: "twilio"}

			status, body := mapError(err)

			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, "twilio", body.Details["provider_id"])
		})
	}
}

func TestMapError_ContextDeadline(t *testing.T) {
	status, body := mapError(fmt.Errorf("search: %w", context.DeadlineExceeded))

	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.Equal(t, "GATEWAY_TIMEOUT", body.Code)
	assert.True(t, body.Retryable)
}

func TestMapError_ContextCancelled(t *testing.T) {
	status, body := mapError(context.Canceled)

	assert.Equal(t, statusClientClosedRequest, status)
	assert.Equal(t, "REQUEST_CANCELLED", body.Code)
}

func TestMapError_OpaqueErrorsDoNotLeak(t *testing.T) {
	status, body := mapError(fmt.Errorf("pq: password authentication failed for user admin"))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "an unexpected error occurred", body.Message)
	assert.NotContains(t, body.Message, "password")
}
