package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

// Breaker transition reasons carried on provider events.
const (
	reasonFailures        = "failure threshold exceeded"
	reasonProbeFailed     = "half-open probe failed"
	reasonRecovered       = "half-open probes succeeded"
	reasonRecoveryElapsed = "recovery timeout elapsed"
	reasonForcedOpen      = "forced open by operator"
	reasonForcedClose     = "forced close by operator"
	reasonReset           = "reset by operator"
)

// providerState bundles one adapter's breaker, health, and metrics behind a
// single mutex. Unrelated providers never contend on each other's lock.
type providerState struct {
	id  string
	now func() time.Time

	// onTransition fires on its own goroutine for every breaker state
	// change, organic or forced. Installed once before traffic flows.
	onTransition func(providerID string, from, to BreakerState, reason string)

	mu      sync.Mutex
	breaker *breaker
	health  provider.Health
	metrics provider.Metrics
}

func newProviderState(id string, cfg BreakerConfig, now func() time.Time) *providerState {
	if now == nil {
		now = time.Now
	}
	return &providerState{
		id:      id,
		now:     now,
		breaker: newBreaker(cfg, now),
		health:  provider.NewHealth(),
	}
}

// execute wraps one adapter call in the provider's breaker: admit under the
// lock, run fn without it, record under the lock. The adapter call must
// capture ctx; execute consults it afterwards to tell caller cancellation
// apart from provider failure.
func (ps *providerState) execute(ctx context.Context, fn func() error) provider.Outcome {
	ps.mu.Lock()
	if !ps.breaker.admit() {
		ps.mu.Unlock()
		return provider.Outcome{
			Kind: provider.OutcomeRetryable,
			Err:  provider.NewCircuitOpenError(ps.id),
		}
	}
	ps.mu.Unlock()

	start := ps.now()
	err := fn()
	elapsed := ps.now().Sub(start)

	var outcome provider.Outcome
	if err != nil && ctx.Err() == context.Canceled {
		outcome = provider.Outcome{
			Kind: provider.OutcomeCancelled,
			Err: &provider.Error{
				Code:       provider.ErrCodeCancelled,
				Message:    "request cancelled by caller",
				ProviderID: ps.id,
			},
		}
	} else {
		outcome = provider.Classify(ps.id, err)
	}

	ps.mu.Lock()
	var from, to BreakerState
	var changed bool
	switch outcome.Kind {
	case provider.OutcomeSuccess:
		from, to, changed = ps.breaker.record(true, false)
		ps.health.RecordCallSuccess(elapsed)
		ps.metrics.RecordCall(true, elapsed, "", ps.now())
	case provider.OutcomeCancelled:
		// Completes the breaker bookkeeping without counting the call.
		from, to, changed = ps.breaker.record(false, true)
	default:
		from, to, changed = ps.breaker.record(false, false)
		ps.health.RecordCallFailure()
		ps.metrics.RecordCall(false, elapsed, outcome.Err.Message, ps.now())
	}
	ps.mu.Unlock()

	if changed {
		reason := reasonFailures
		switch {
		case from == BreakerHalfOpen && to == BreakerOpen:
			reason = reasonProbeFailed
		case from == BreakerHalfOpen && to == BreakerClosed:
			reason = reasonRecovered
		}
		ps.notify(from, to, reason)
	}
	return outcome
}

// gate is the selector's per-provider check: breaker admission and health
// eligibility read under one lock acquisition. An elapsed OPEN breaker
// flips to HALF_OPEN here, the only mutation selection performs.
func (ps *providerState) gate() bool {
	ps.mu.Lock()
	eligible, flipped := ps.breaker.gate()
	healthy := ps.health.Eligible()
	ps.mu.Unlock()

	if flipped {
		ps.notify(BreakerOpen, BreakerHalfOpen, reasonRecoveryElapsed)
	}
	return eligible && healthy
}

// recordProbe applies a health-probe result. Probes never touch the
// breaker. Returns the status flip, if any, for event publication.
func (ps *providerState) recordProbe(ok bool, elapsed time.Duration) (from, to provider.HealthStatus, changed bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	from = ps.health.Status
	ps.health.RecordProbe(ok, elapsed, ps.now())
	to = ps.health.Status
	return from, to, from != to
}

func (ps *providerState) forceOpen() {
	ps.mu.Lock()
	from, to, changed := ps.breaker.forceOpen()
	ps.mu.Unlock()
	if changed {
		ps.notify(from, to, reasonForcedOpen)
	}
}

func (ps *providerState) forceClose() {
	ps.mu.Lock()
	from, to, changed := ps.breaker.forceClose()
	ps.mu.Unlock()
	if changed {
		ps.notify(from, to, reasonForcedClose)
	}
}

func (ps *providerState) reset() {
	ps.mu.Lock()
	from, to, changed := ps.breaker.reset()
	ps.mu.Unlock()
	if changed {
		ps.notify(from, to, reasonReset)
	}
}

func (ps *providerState) healthSnapshot() provider.Health {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.health
}

func (ps *providerState) metricsSnapshot() provider.Metrics {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.metrics.Snapshot()
}

func (ps *providerState) breakerSnapshot() BreakerSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.breaker.snapshot()
}

func (ps *providerState) notify(from, to BreakerState, reason string) {
	if ps.onTransition != nil {
		go ps.onTransition(ps.id, from, to, reason)
	}
}
