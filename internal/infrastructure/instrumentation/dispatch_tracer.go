// Package instrumentation decorates service interfaces with OpenTelemetry
// tracing and metrics so the service packages stay free of observability
// concerns.
package instrumentation

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
	"github.com/davidleathers/number-provisioning-gateway/internal/metrics"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// Outcome labels beyond plain success/error. Declines and rejections are
// carrier verdicts, not faults, and are counted apart from transport errors.
const (
	outcomeSuccess   = "success"
	outcomeDeclined  = "declined"
	outcomeRejected  = "rejected"
	outcomeExhausted = "exhausted"
	outcomeError     = "error"
)

// TracedDispatcher wraps a dispatch.Service with per-operation spans and
// metrics. Snapshot and breaker-control methods pass through untouched.
type TracedDispatcher struct {
	service dispatch.Service
	tracer  trace.Tracer
	metrics *metrics.Registry
}

// NewTracedDispatcher instruments the given dispatcher. The registry must be
// built against the installed global meter provider.
func NewTracedDispatcher(service dispatch.Service, registry *metrics.Registry) *TracedDispatcher {
	return &TracedDispatcher{
		service: service,
		tracer:  otel.Tracer("npg.dispatch"),
		metrics: registry,
	}
}

var _ dispatch.Service = (*TracedDispatcher)(nil)

// SearchNumbers instruments the search operation, including cache hit/miss
// accounting from the response's Cached marker.
func (s *TracedDispatcher) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.number_search", trace.WithAttributes(
		attribute.String("number.country_code", req.CountryCode),
		attribute.Int("number.limit", req.Limit),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.service.SearchNumbers(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "number_search", elapsed, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("provider.id", resp.Provider),
		attribute.Int("number.result_count", resp.TotalCount),
		attribute.Bool("cache.hit", resp.Cached),
	)
	s.metrics.RecordCacheResult(ctx, resp.Cached)
	s.metrics.RecordOperation(ctx, "number_search", outcomeSuccess, elapsed)
	return resp, nil
}

// ReserveNumber instruments the reservation operation. A carrier decline is
// a successful dispatch with outcome "declined".
func (s *TracedDispatcher) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.number_reservation", trace.WithAttributes(
		attribute.String("provider.id", req.ProviderID),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.service.ReserveNumber(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "number_reservation", elapsed, err)
		return nil, err
	}

	outcome := outcomeSuccess
	if resp.Failed() {
		outcome = outcomeDeclined
	}
	span.SetAttributes(
		attribute.String("reservation.id", resp.ReservationID),
		attribute.String("reservation.status", string(resp.Status)),
	)
	s.metrics.RecordOperation(ctx, "number_reservation", outcome, elapsed)
	return resp, nil
}

// PurchaseNumber instruments the purchase operation.
func (s *TracedDispatcher) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.number_purchase", trace.WithAttributes(
		attribute.String("provider.id", req.ProviderID),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.service.PurchaseNumber(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "number_purchase", elapsed, err)
		return nil, err
	}

	outcome := outcomeSuccess
	if resp.Failed() {
		outcome = outcomeDeclined
	}
	span.SetAttributes(
		attribute.String("purchase.id", resp.PurchaseID),
		attribute.String("purchase.status", string(resp.Status)),
	)
	s.metrics.RecordOperation(ctx, "number_purchase", outcome, elapsed)
	return resp, nil
}

// PortNumber instruments the porting operation. Gaining-carrier rejections
// count as outcome "rejected".
func (s *TracedDispatcher) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.number_porting", trace.WithAttributes(
		attribute.String("porting.current_provider", req.CurrentProvider),
	))
	defer span.End()

	start := time.Now()
	resp, err := s.service.PortNumber(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "number_porting", elapsed, err)
		return nil, err
	}

	outcome := outcomeSuccess
	if resp.Rejected() {
		outcome = outcomeRejected
	}
	span.SetAttributes(
		attribute.String("provider.id", resp.Provider),
		attribute.String("porting.id", resp.PortingID),
		attribute.String("porting.status", string(resp.Status)),
	)
	s.metrics.RecordOperation(ctx, "number_porting", outcome, elapsed)
	return resp, nil
}

// CheckNumberAvailability instruments the availability check. An unavailable
// number is still a successful check.
func (s *TracedDispatcher) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (*number.AvailabilityResult, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.availability_check")
	defer span.End()

	start := time.Now()
	result, err := s.service.CheckNumberAvailability(ctx, phoneNumber)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "availability_check", elapsed, err)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("provider.id", result.ProviderID),
		attribute.Bool("number.available", result.Available),
	)
	s.metrics.RecordOperation(ctx, "availability_check", outcomeSuccess, elapsed)
	return result, nil
}

// ReleaseReservation instruments the release operation.
func (s *TracedDispatcher) ReleaseReservation(ctx context.Context, providerID, reservationID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "dispatch.reservation_release", trace.WithAttributes(
		attribute.String("provider.id", providerID),
		attribute.String("reservation.id", reservationID),
	))
	defer span.End()

	start := time.Now()
	released, err := s.service.ReleaseReservation(ctx, providerID, reservationID)
	elapsed := time.Since(start)

	if err != nil {
		s.finishError(ctx, span, "reservation_release", elapsed, err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("reservation.released", released))
	s.metrics.RecordOperation(ctx, "reservation_release", outcomeSuccess, elapsed)
	return released, nil
}

func (s *TracedDispatcher) ProviderHealth() map[string]provider.Health {
	return s.service.ProviderHealth()
}

func (s *TracedDispatcher) ProviderMetrics() map[string]provider.Metrics {
	return s.service.ProviderMetrics()
}

func (s *TracedDispatcher) BreakerStates() map[string]dispatch.BreakerSnapshot {
	return s.service.BreakerStates()
}

func (s *TracedDispatcher) ForceBreakerOpen(providerID string) error {
	return s.service.ForceBreakerOpen(providerID)
}

func (s *TracedDispatcher) ForceBreakerClose(providerID string) error {
	return s.service.ForceBreakerClose(providerID)
}

func (s *TracedDispatcher) ResetBreaker(providerID string) error {
	return s.service.ResetBreaker(providerID)
}

func (s *TracedDispatcher) finishError(ctx context.Context, span trace.Span, operation string, elapsed time.Duration, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("error.type", outcomeLabel(err)))
	s.metrics.RecordOperation(ctx, operation, outcomeLabel(err), elapsed)
}

// outcomeLabel maps an error to a bounded metric label. Provider codes and
// AppError types are closed sets; anything else collapses to "error".
func outcomeLabel(err error) string {
	var exhausted *dispatch.AllProvidersFailedError
	if stderrors.As(err, &exhausted) {
		return outcomeExhausted
	}
	var provErr *provider.Error
	if stderrors.As(err, &provErr) {
		return strings.ToLower(provErr.Code)
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return string(appErr.Type)
	}
	return outcomeError
}
