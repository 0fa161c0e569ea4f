package dispatch

import (
	"time"
)

// BreakerState is the circuit position of one provider.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the per-provider circuit breaker. Zero values fall
// back to the defaults below.
type BreakerConfig struct {
	FailureThreshold      int           `json:"failure_threshold"`
	RecoveryTimeout       time.Duration `json:"recovery_timeout"`
	MonitoringPeriod      time.Duration `json:"monitoring_period"`
	VolumeThreshold       int           `json:"volume_threshold"`
	ErrorThresholdPercent float64       `json:"error_threshold_percent"`
	HalfOpenMaxCalls      int           `json:"half_open_max_calls"`
}

// DefaultBreakerConfig returns the stock tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{}.withDefaults()
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.MonitoringPeriod <= 0 {
		c.MonitoringPeriod = 60 * time.Second
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = 10
	}
	if c.ErrorThresholdPercent <= 0 {
		c.ErrorThresholdPercent = 50
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 3
	}
	return c
}

// BreakerSnapshot is a point-in-time view of one provider's circuit state.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalRequests       int64        `json:"total_requests"`
	WindowedSuccesses   int          `json:"windowed_successes"`
	WindowedFailures    int          `json:"windowed_failures"`
	LastFailureAt       time.Time    `json:"last_failure_at"`
	NextAttemptAt       time.Time    `json:"next_attempt_at"`
	HalfOpenInFlight    int          `json:"half_open_in_flight"`
}

// windowSample is one completed call in the monitoring window.
type windowSample struct {
	at      time.Time
	success bool
}

// breakerWindowCapacity bounds the monitoring ring. Old samples are
// overwritten once the ring wraps.
const breakerWindowCapacity = 128

// breaker is the per-provider circuit state machine. It is not
// self-synchronizing: the owning providerState mutex guards every method.
type breaker struct {
	cfg BreakerConfig
	now func() time.Time

	state               BreakerState
	consecutiveFailures int
	totalRequests       int64
	lastFailureAt       time.Time
	nextAttemptAt       time.Time
	halfOpenInFlight    int
	halfOpenSuccesses   int

	window [breakerWindowCapacity]windowSample
	head   int
	count  int
}

func newBreaker(cfg BreakerConfig, now func() time.Time) *breaker {
	if now == nil {
		now = time.Now
	}
	return &breaker{
		cfg:   cfg.withDefaults(),
		now:   now,
		state: BreakerClosed,
	}
}

// gate reports whether selection may include this provider. An OPEN breaker
// whose NextAttemptAt has passed flips to HALF_OPEN here; this is the only
// mutation selection performs.
func (b *breaker) gate() (eligible, flipped bool) {
	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true, false
	case BreakerOpen:
		if b.now().Before(b.nextAttemptAt) {
			return false, false
		}
		b.state = BreakerHalfOpen
		b.halfOpenInFlight = 0
		b.halfOpenSuccesses = 0
		return true, true
	}
	return false, false
}

// admit reserves an execution slot. OPEN always rejects; recovery flips
// happen at selection time, never here. HALF_OPEN caps concurrent probes
// at HalfOpenMaxCalls.
func (b *breaker) admit() bool {
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxCalls {
			return false
		}
		b.halfOpenInFlight++
		return true
	default:
		return false
	}
}

// record completes the slot reserved by admit. A cancelled call releases
// the slot without counting either way. Returns the transition performed,
// if any.
func (b *breaker) record(success, cancelled bool) (from, to BreakerState, changed bool) {
	if b.state == BreakerHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
	if cancelled {
		return b.state, b.state, false
	}

	b.totalRequests++
	b.push(windowSample{at: b.now(), success: success})

	if success {
		return b.recordSuccess()
	}
	return b.recordFailure()
}

func (b *breaker) recordSuccess() (from, to BreakerState, changed bool) {
	from = b.state
	b.consecutiveFailures = 0

	if b.state == BreakerHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.HalfOpenMaxCalls {
			b.close()
			return from, BreakerClosed, true
		}
	}
	return from, b.state, false
}

func (b *breaker) recordFailure() (from, to BreakerState, changed bool) {
	from = b.state
	b.consecutiveFailures++
	b.lastFailureAt = b.now()

	switch b.state {
	case BreakerHalfOpen:
		b.open()
		return from, BreakerOpen, true
	case BreakerClosed:
		if b.shouldOpen() {
			b.open()
			return from, BreakerOpen, true
		}
	}
	return from, b.state, false
}

// shouldOpen applies the volume gate: the breaker never opens before
// VolumeThreshold lifetime requests, and then only on a consecutive-failure
// run or a windowed error rate at or above the threshold.
func (b *breaker) shouldOpen() bool {
	if b.totalRequests < int64(b.cfg.VolumeThreshold) {
		return false
	}
	if b.consecutiveFailures >= b.cfg.FailureThreshold {
		return true
	}

	successes, failures := b.windowCounts()
	total := successes + failures
	if total == 0 {
		return false
	}
	return float64(failures)/float64(total)*100 >= b.cfg.ErrorThresholdPercent
}

func (b *breaker) open() {
	b.state = BreakerOpen
	b.nextAttemptAt = b.now().Add(b.cfg.RecoveryTimeout)
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
}

func (b *breaker) close() {
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
	b.nextAttemptAt = time.Time{}
	// A recovered provider starts with a clean window; pre-outage failures
	// must not re-trip the rate gate.
	b.head = 0
	b.count = 0
}

// forceOpen trips the breaker by operator request. Already-open breakers
// get a fresh NextAttemptAt.
func (b *breaker) forceOpen() (from, to BreakerState, changed bool) {
	from = b.state
	if from == BreakerOpen {
		b.nextAttemptAt = b.now().Add(b.cfg.RecoveryTimeout)
		return from, BreakerOpen, false
	}
	b.open()
	return from, BreakerOpen, true
}

func (b *breaker) forceClose() (from, to BreakerState, changed bool) {
	from = b.state
	if from == BreakerClosed {
		return from, BreakerClosed, false
	}
	b.close()
	return from, BreakerClosed, true
}

// reset returns the breaker to its boot state, zeroing lifetime counters.
func (b *breaker) reset() (from, to BreakerState, changed bool) {
	from = b.state
	b.state = BreakerClosed
	b.consecutiveFailures = 0
	b.totalRequests = 0
	b.lastFailureAt = time.Time{}
	b.nextAttemptAt = time.Time{}
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
	b.head = 0
	b.count = 0
	return from, BreakerClosed, from != BreakerClosed
}

func (b *breaker) push(s windowSample) {
	b.window[b.head] = s
	b.head = (b.head + 1) % breakerWindowCapacity
	if b.count < breakerWindowCapacity {
		b.count++
	}
}

// windowCounts tallies samples no older than MonitoringPeriod.
func (b *breaker) windowCounts() (successes, failures int) {
	cutoff := b.now().Add(-b.cfg.MonitoringPeriod)
	for i := 0; i < b.count; i++ {
		idx := (b.head - b.count + i + breakerWindowCapacity) % breakerWindowCapacity
		s := b.window[idx]
		if s.at.Before(cutoff) {
			continue
		}
		if s.success {
			successes++
		} else {
			failures++
		}
	}
	return successes, failures
}

func (b *breaker) snapshot() BreakerSnapshot {
	successes, failures := b.windowCounts()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		TotalRequests:       b.totalRequests,
		WindowedSuccesses:   successes,
		WindowedFailures:    failures,
		LastFailureAt:       b.lastFailureAt,
		NextAttemptAt:       b.nextAttemptAt,
		HalfOpenInFlight:    b.halfOpenInFlight,
	}
}
