package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error codes normalized at the adapter boundary
const (
	ErrCodeConnectionFailed = "CONNECTION_FAILED"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeRateLimited      = "RATE_LIMITED"
	ErrCodeServerError      = "SERVER_ERROR"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeNotAvailable     = "NOT_AVAILABLE"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeCircuitOpen      = "CIRCUIT_OPEN"
	ErrCodeCancelled        = "CANCELLED"
)

// Error is the typed failure every adapter operation is normalized to.
// Retryable=true lets the dispatcher continue failover to the next provider.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ProviderID string `json:"provider_id"`
	Retryable  bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s error [%s]: %s", e.ProviderID, e.Code, e.Message)
}

// NewTransportError marks network-level failures: timeouts, 5xx, rate limits.
// These count against the provider's circuit breaker.
func NewTransportError(providerID, code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		ProviderID: providerID,
		Retryable:  true,
	}
}

// NewBusinessError marks carrier-side semantic rejections (4xx).
// Non-retryable against the same provider; search and porting move on to
// the next carrier, pinned operations surface it.
func NewBusinessError(providerID, code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		ProviderID: providerID,
		Retryable:  false,
	}
}

// NewCircuitOpenError is returned when a call is rejected without reaching
// the carrier because the provider's breaker is open.
func NewCircuitOpenError(providerID string) *Error {
	return &Error{
		Code:       ErrCodeCircuitOpen,
		Message:    "circuit breaker is open",
		ProviderID: providerID,
		Retryable:  true,
	}
}

// OutcomeKind discriminates the result of one adapter attempt
type OutcomeKind int

const (
	// OutcomeSuccess: the adapter returned a response. The response itself
	// may carry a business failure status; that still counts as success here.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetryable: transport-level failure. The breaker records a
	// failure and failover continues.
	OutcomeRetryable
	// OutcomeTerminal: the carrier understood and rejected the request.
	// Thrown errors count against the breaker either way; failover
	// continues for multi-candidate operations, pinned operations surface
	// the error.
	OutcomeTerminal
	// OutcomeCancelled: the caller abandoned the request; not counted
	// against the breaker.
	OutcomeCancelled
)

// Outcome is the sum type the dispatcher's failover decision matches on
type Outcome struct {
	Kind OutcomeKind
	Err  *Error
}

// Classify normalizes an adapter error into an Outcome. Unknown error
// types count as transport failures.
func Classify(providerID string, err error) Outcome {
	if err == nil {
		return Outcome{Kind: OutcomeSuccess}
	}

	if errors.Is(err, context.Canceled) {
		return Outcome{
			Kind: OutcomeCancelled,
			Err:  &Error{Code: ErrCodeCancelled, Message: "request cancelled by caller", ProviderID: providerID, Retryable: false},
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Outcome{
			Kind: OutcomeRetryable,
			Err:  NewTransportError(providerID, ErrCodeTimeout, "request deadline exceeded"),
		}
	}

	var provErr *Error
	if errors.As(err, &provErr) {
		if provErr.Retryable {
			return Outcome{Kind: OutcomeRetryable, Err: provErr}
		}
		return Outcome{Kind: OutcomeTerminal, Err: provErr}
	}

	return Outcome{
		Kind: OutcomeRetryable,
		Err:  NewTransportError(providerID, ErrCodeConnectionFailed, err.Error()),
	}
}
