package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

const (
	defaultProbeInterval    = 60 * time.Second
	defaultProbeTimeout     = 10 * time.Second
	defaultProbeConcurrency = 4
)

// Health transition reasons carried on provider events.
const (
	reasonProbeSucceeded = "health probe succeeded"
	reasonProbeFailure   = "health probe failed"
)

// MonitorConfig tunes the background health monitor. Zero values fall
// back to the defaults above.
type MonitorConfig struct {
	Interval      time.Duration `json:"interval"`
	ProbeTimeout  time.Duration `json:"probe_timeout"`
	MaxConcurrent int           `json:"max_concurrent"`
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.Interval <= 0 {
		c.Interval = defaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultProbeConcurrency
	}
	return c
}

// HealthMonitor probes every registered adapter on a fixed interval and
// applies the results to provider health. Probes adjust health only; they
// never touch breaker state.
type HealthMonitor struct {
	logger    *zap.Logger
	registry  *Registry
	cfg       MonitorConfig
	publisher EventPublisher
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealthMonitor wires a monitor over the registry. publisher may be
// nil to disable health-transition fan-out.
func NewHealthMonitor(logger *zap.Logger, cfg MonitorConfig, registry *Registry, publisher EventPublisher) (*HealthMonitor, error) {
	if logger == nil {
		return nil, errors.NewInternalError("logger is required")
	}
	if registry == nil {
		return nil, errors.NewInternalError("registry is required")
	}
	return &HealthMonitor{
		logger:    logger,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		publisher: publisher,
		now:       time.Now,
	}, nil
}

// Start launches the probe loop on a background goroutine. The first
// round runs immediately so providers are classified before the first
// interval elapses. Start fails if the monitor is already running.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return errors.NewConflictError("health monitor already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(runCtx, m.done)
	return nil
}

// Stop cancels the loop and waits for in-flight probes to drain, bounded
// by ctx. Stopping a monitor that is not running is a no-op.
func (m *HealthMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.logger.Info("health monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Int("providers", m.registry.Len()))

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("health monitor stopped")
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

// probeAll runs one probe per adapter in parallel under the concurrency
// bound. The round waits for every probe before returning, so rounds
// never overlap and each adapter has at most one probe in flight.
func (m *HealthMonitor) probeAll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrent)
	for _, adapter := range m.registry.All() {
		g.Go(func() error {
			m.probe(ctx, adapter)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *HealthMonitor) probe(ctx context.Context, adapter Adapter) {
	id := adapter.Descriptor().ID
	st, ok := m.registry.state(id)
	if !ok {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := m.now()
	err := adapter.HealthProbe(probeCtx)
	elapsed := m.now().Sub(start)

	from, to, changed := st.recordProbe(err == nil, elapsed)
	if err != nil {
		m.logger.Warn("health probe failed",
			zap.String("provider_id", id),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	}
	if !changed {
		return
	}

	reason := reasonProbeSucceeded
	if err != nil {
		reason = reasonProbeFailure
	}
	m.logger.Warn("provider health transition",
		zap.String("provider_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))

	if m.publisher != nil {
		m.publisher.PublishProviderEvent(ProviderEvent{
			Type:       EventHealthTransition,
			ProviderID: id,
			From:       string(from),
			To:         string(to),
			Reason:     reason,
			OccurredAt: m.now(),
		})
	}
}
