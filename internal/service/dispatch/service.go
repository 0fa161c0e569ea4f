package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// Operation names carried on failover errors, logs, and events.
const (
	opSearch       = "number_search"
	opReserve      = "number_reservation"
	opPurchase     = "number_purchase"
	opPorting      = "number_porting"
	opAvailability = "availability_check"
	opRelease      = "reservation_release"
)

// Config tunes the failover pass. Zero values mean no retry cap and no
// pause between attempts.
type Config struct {
	// MaxRetries caps how many additional adapters are tried after the
	// first attempt fails. Zero or negative tries every eligible adapter.
	MaxRetries int `json:"max_retries"`
	// RetryDelay pauses between consecutive failover attempts.
	RetryDelay time.Duration `json:"retry_delay"`
}

type service struct {
	logger    *zap.Logger
	cfg       Config
	registry  *Registry
	cache     SearchCache
	porting   PortingStore
	publisher EventPublisher
	now       func() time.Time
}

var _ Service = (*service)(nil)

// NewService wires the dispatcher over a registry. cache, portingStore,
// and publisher may be nil to disable caching, porting persistence, and
// event fan-out respectively. The breaker transition handler is installed
// here, before any traffic flows.
func NewService(
	logger *zap.Logger,
	cfg Config,
	registry *Registry,
	cache SearchCache,
	portingStore PortingStore,
	publisher EventPublisher,
) (Service, error) {
	return newService(logger, cfg, registry, cache, portingStore, publisher, time.Now)
}

func newService(
	logger *zap.Logger,
	cfg Config,
	registry *Registry,
	cache SearchCache,
	portingStore PortingStore,
	publisher EventPublisher,
	now func() time.Time,
) (*service, error) {
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}
	if registry == nil {
		return nil, errors.NewInternalError("registry is required")
	}
	if registry.Len() == 0 {
		return nil, errors.NewInternalError("registry has no providers")
	}
	if now == nil {
		now = time.Now
	}

	s := &service{
		logger:    logger,
		cfg:       cfg,
		registry:  registry,
		cache:     cache,
		porting:   portingStore,
		publisher: publisher,
		now:       now,
	}
	registry.setTransitionHandler(s.onBreakerTransition)
	return s, nil
}

func (s *service) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "search request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, req); ok {
			s.logger.Debug("search served from cache",
				zap.String("country_code", req.CountryCode),
				zap.String("search_id", cached.SearchID))
			return cached, nil
		}
	}

	var resp *number.SearchResponse
	providerID, elapsed, err := s.failover(ctx, opSearch, provider.FeatureNumberSearch, req.CountryCode,
		func(ctx context.Context, adapter Adapter) error {
			r, err := adapter.SearchNumbers(ctx, req)
			if err != nil {
				return err
			}
			if r == nil {
				return provider.NewTransportError(adapter.Descriptor().ID,
					provider.ErrCodeServerError, "adapter returned an empty search response")
			}
			resp = r
			return nil
		})
	if err != nil {
		return nil, err
	}

	resp.Provider = providerID
	resp.ResponseTimeMs = elapsed.Milliseconds()
	resp.Cached = false
	if resp.SearchID == "" {
		resp.SearchID = uuid.New().String()
	}
	if resp.TotalCount < len(resp.Numbers) {
		resp.TotalCount = len(resp.Numbers)
	}

	if s.cache != nil {
		// Zero means the cache's configured default TTL.
		s.cache.Set(ctx, req, resp, 0)
	}
	return resp, nil
}

func (s *service) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "reservation request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter, st, err := s.pinned(req.ProviderID)
	if err != nil {
		return nil, err
	}

	var resp *number.ReservationResponse
	err = s.pinnedCall(ctx, opReserve, adapter, st, func(callCtx context.Context) error {
		r, err := adapter.ReserveNumber(callCtx, req)
		if err != nil {
			return err
		}
		if r == nil {
			return provider.NewTransportError(req.ProviderID,
				provider.ErrCodeServerError, "adapter returned an empty reservation response")
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Provider = req.ProviderID
	if resp.Failed() {
		s.logger.Info("reservation declined by carrier",
			zap.String("provider_id", req.ProviderID),
			zap.String("reason", resp.FailureReason))
	}
	return resp, nil
}

func (s *service) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "purchase request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	adapter, st, err := s.pinned(req.ProviderID)
	if err != nil {
		return nil, err
	}

	var resp *number.PurchaseResponse
	err = s.pinnedCall(ctx, opPurchase, adapter, st, func(callCtx context.Context) error {
		r, err := adapter.PurchaseNumber(callCtx, req)
		if err != nil {
			return err
		}
		if r == nil {
			return provider.NewTransportError(req.ProviderID,
				provider.ErrCodeServerError, "adapter returned an empty purchase response")
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Provider = req.ProviderID
	if resp.Failed() {
		s.logger.Info("purchase declined by carrier",
			zap.String("provider_id", req.ProviderID),
			zap.String("phone_number", req.PhoneNumber),
			zap.String("reason", resp.FailureReason))
	}
	return resp, nil
}

func (s *service) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	if req == nil {
		return nil, errors.NewValidationError("INVALID_REQUEST", "porting request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	phone, err := values.NewPhoneNumberE164(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	country, err := phone.Country()
	if err != nil {
		return nil, errors.NewValidationError("UNKNOWN_COUNTRY",
			"cannot infer porting region from phone number").WithCause(err)
	}

	var resp *number.PortingResponse
	providerID, _, err := s.failover(ctx, opPorting, provider.FeatureNumberPorting, country,
		func(ctx context.Context, adapter Adapter) error {
			r, err := adapter.PortNumber(ctx, req)
			if err != nil {
				return err
			}
			if r == nil {
				return provider.NewTransportError(adapter.Descriptor().ID,
					provider.ErrCodeServerError, "adapter returned an empty porting response")
			}
			resp = r
			return nil
		})
	if err != nil {
		return nil, err
	}

	resp.Provider = providerID
	if resp.Rejected() {
		s.logger.Info("porting rejected by gaining carrier",
			zap.String("provider_id", providerID),
			zap.String("reason", resp.RejectionReason))
	}
	s.savePorting(ctx, req, resp)
	return resp, nil
}

func (s *service) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (*number.AvailabilityResult, error) {
	if phoneNumber.IsEmpty() {
		return nil, errors.NewValidationError("INVALID_PHONE", "phone number is required")
	}
	country, err := phoneNumber.Country()
	if err != nil {
		return nil, errors.NewValidationError("UNKNOWN_COUNTRY",
			"cannot infer availability region from phone number").WithCause(err)
	}

	candidates := selectCandidates(s.registry, provider.FeatureNumberSearch, country)
	if len(candidates) == 0 {
		s.logger.Warn("no eligible providers",
			zap.String("operation", opAvailability),
			zap.String("region", country))
		return nil, newAllProvidersFailed(opAvailability, nil)
	}

	// Unlike the other failover ops a successful "not available" answer
	// keeps the pass going; the next carrier may still hold the number.
	var attempts []Attempt
	answered := false
	for i, cand := range candidates {
		if s.cfg.MaxRetries > 0 && i > s.cfg.MaxRetries {
			break
		}
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				return nil, err
			}
		}

		id := cand.adapter.Descriptor().ID
		var available bool
		outcome := cand.state.execute(ctx, func() error {
			callCtx, cancel := s.callContext(ctx, cand.adapter)
			defer cancel()
			ok, err := cand.adapter.CheckNumberAvailability(callCtx, phoneNumber)
			if err != nil {
				return err
			}
			available = ok
			return nil
		})

		switch outcome.Kind {
		case provider.OutcomeSuccess:
			answered = true
			if available {
				return &number.AvailabilityResult{
					PhoneNumber: phoneNumber.String(),
					Available:   true,
					ProviderID:  id,
				}, nil
			}
		case provider.OutcomeCancelled:
			if cerr := ctx.Err(); cerr != nil {
				return nil, cerr
			}
			return nil, outcome.Err
		default:
			attempts = append(attempts, Attempt{ProviderID: id, Err: outcome.Err})
			s.logAttemptFailure(opAvailability, id, outcome.Err)
		}
	}

	if answered {
		return &number.AvailabilityResult{PhoneNumber: phoneNumber.String(), Available: false}, nil
	}
	return nil, newAllProvidersFailed(opAvailability, attempts)
}

func (s *service) ReleaseReservation(ctx context.Context, providerID, reservationID string) (bool, error) {
	providerID = strings.ToLower(strings.TrimSpace(providerID))
	reservationID = strings.TrimSpace(reservationID)
	if providerID == "" {
		return false, errors.NewValidationError("INVALID_PROVIDER", "provider id is required")
	}
	if reservationID == "" {
		return false, errors.NewValidationError("INVALID_RESERVATION", "reservation id is required")
	}

	adapter, st, err := s.pinned(providerID)
	if err != nil {
		return false, err
	}

	var released bool
	err = s.pinnedCall(ctx, opRelease, adapter, st, func(callCtx context.Context) error {
		ok, err := adapter.ReleaseReservation(callCtx, reservationID)
		if err != nil {
			return err
		}
		released = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

func (s *service) ProviderHealth() map[string]provider.Health {
	out := make(map[string]provider.Health, s.registry.Len())
	for _, id := range s.registry.IDs() {
		if st, ok := s.registry.state(id); ok {
			out[id] = st.healthSnapshot()
		}
	}
	return out
}

func (s *service) ProviderMetrics() map[string]provider.Metrics {
	out := make(map[string]provider.Metrics, s.registry.Len())
	for _, id := range s.registry.IDs() {
		if st, ok := s.registry.state(id); ok {
			out[id] = st.metricsSnapshot()
		}
	}
	return out
}

func (s *service) BreakerStates() map[string]BreakerSnapshot {
	out := make(map[string]BreakerSnapshot, s.registry.Len())
	for _, id := range s.registry.IDs() {
		if st, ok := s.registry.state(id); ok {
			out[id] = st.breakerSnapshot()
		}
	}
	return out
}

func (s *service) ForceBreakerOpen(providerID string) error {
	st, err := s.operatorState(providerID)
	if err != nil {
		return err
	}
	st.forceOpen()
	return nil
}

func (s *service) ForceBreakerClose(providerID string) error {
	st, err := s.operatorState(providerID)
	if err != nil {
		return err
	}
	st.forceClose()
	return nil
}

func (s *service) ResetBreaker(providerID string) error {
	st, err := s.operatorState(providerID)
	if err != nil {
		return err
	}
	st.reset()
	return nil
}

// failover runs one sequential pass over the eligible adapters for
// feature/region in selector order. invoke receives a context already
// bounded by the adapter's descriptor timeout; it must return the
// adapter's error unwrapped so classification sees it.
func (s *service) failover(
	ctx context.Context,
	operation string,
	feature provider.Feature,
	region string,
	invoke func(context.Context, Adapter) error,
) (string, time.Duration, error) {
	candidates := selectCandidates(s.registry, feature, region)
	if len(candidates) == 0 {
		s.logger.Warn("no eligible providers",
			zap.String("operation", operation),
			zap.String("feature", string(feature)),
			zap.String("region", region))
		return "", 0, newAllProvidersFailed(operation, nil)
	}

	var attempts []Attempt
	for i, cand := range candidates {
		if s.cfg.MaxRetries > 0 && i > s.cfg.MaxRetries {
			break
		}
		if i > 0 {
			if err := s.pause(ctx); err != nil {
				return "", 0, err
			}
		}

		id := cand.adapter.Descriptor().ID
		start := time.Now()
		outcome := cand.state.execute(ctx, func() error {
			callCtx, cancel := s.callContext(ctx, cand.adapter)
			defer cancel()
			return invoke(callCtx, cand.adapter)
		})
		elapsed := time.Since(start)

		switch outcome.Kind {
		case provider.OutcomeSuccess:
			if len(attempts) > 0 {
				s.logger.Info("failover succeeded",
					zap.String("operation", operation),
					zap.String("provider_id", id),
					zap.Int("failed_attempts", len(attempts)))
			}
			return id, elapsed, nil
		case provider.OutcomeCancelled:
			if cerr := ctx.Err(); cerr != nil {
				return "", 0, cerr
			}
			return "", 0, outcome.Err
		default:
			attempts = append(attempts, Attempt{ProviderID: id, Err: outcome.Err})
			s.logAttemptFailure(operation, id, outcome.Err)
		}
	}

	s.logger.Error("all providers failed",
		zap.String("operation", operation),
		zap.String("region", region),
		zap.Int("attempted", len(attempts)))
	return "", 0, newAllProvidersFailed(operation, attempts)
}

// pinned resolves the adapter and state for provider-pinned operations.
// Pinned calls never fail over, but a disabled provider is refused up
// front rather than dialed.
func (s *service) pinned(providerID string) (Adapter, *providerState, error) {
	adapter, err := s.registry.Get(providerID)
	if err != nil {
		return nil, nil, err
	}
	if !adapter.Descriptor().Enabled {
		return nil, nil, errors.NewUnavailableError("PROVIDER_DISABLED",
			fmt.Sprintf("provider %s is disabled", providerID))
	}
	st, _ := s.registry.state(providerID)
	return adapter, st, nil
}

// pinnedCall runs one breaker-wrapped call against a pinned provider and
// maps the outcome to the caller-facing error. Pinned failures surface
// directly; there is no second adapter to try.
func (s *service) pinnedCall(ctx context.Context, operation string, adapter Adapter, st *providerState, fn func(context.Context) error) error {
	outcome := st.execute(ctx, func() error {
		callCtx, cancel := s.callContext(ctx, adapter)
		defer cancel()
		return fn(callCtx)
	})

	switch outcome.Kind {
	case provider.OutcomeSuccess:
		return nil
	case provider.OutcomeCancelled:
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return outcome.Err
	default:
		s.logAttemptFailure(operation, adapter.Descriptor().ID, outcome.Err)
		return outcome.Err
	}
}

func (s *service) operatorState(providerID string) (*providerState, error) {
	st, ok := s.registry.state(strings.ToLower(strings.TrimSpace(providerID)))
	if !ok {
		return nil, errors.NewNotFoundError("provider").
			WithDetails(map[string]interface{}{"provider_id": providerID})
	}
	return st, nil
}

// callContext bounds one adapter call with the descriptor timeout. The
// parent stays observable so caller cancellation is still told apart from
// a per-call deadline.
func (s *service) callContext(ctx context.Context, adapter Adapter) (context.Context, context.CancelFunc) {
	timeout := adapter.Descriptor().Timeout
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *service) pause(ctx context.Context) error {
	if s.cfg.RetryDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *service) savePorting(ctx context.Context, req *number.PortingRequest, resp *number.PortingResponse) {
	if s.porting == nil {
		return
	}
	if err := s.porting.SavePortingRequest(ctx, req, resp); err != nil {
		s.logger.Error("failed to persist porting request",
			zap.String("porting_id", resp.PortingID),
			zap.String("provider_id", resp.Provider),
			zap.Error(err))
	}
}

func (s *service) logAttemptFailure(operation, providerID string, perr *provider.Error) {
	s.logger.Warn("provider attempt failed",
		zap.String("operation", operation),
		zap.String("provider_id", providerID),
		zap.String("error_code", perr.Code),
		zap.Bool("retryable", perr.Retryable),
		zap.Error(perr))
}

// onBreakerTransition runs on a dedicated goroutine per transition; see
// providerState.notify.
func (s *service) onBreakerTransition(providerID string, from, to BreakerState, reason string) {
	s.logger.Warn("circuit breaker transition",
		zap.String("provider_id", providerID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	if s.publisher != nil {
		s.publisher.PublishProviderEvent(ProviderEvent{
			Type:       EventBreakerTransition,
			ProviderID: providerID,
			From:       string(from),
			To:         string(to),
			Reason:     reason,
			OccurredAt: s.now(),
		})
	}
}
