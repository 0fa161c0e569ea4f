package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

func TestMonitorConfig_Defaults(t *testing.T) {
	cfg := MonitorConfig{}.withDefaults()

	assert.Equal(t, 60*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 4, cfg.MaxConcurrent)
}

func TestNewHealthMonitor_Validation(t *testing.T) {
	clock := newFakeClock()
	registry, err := newRegistry(BreakerConfig{}, clock.Now, newStubAdapter(t, "alpha", 0))
	require.NoError(t, err)

	_, err = NewHealthMonitor(nil, MonitorConfig{}, registry, nil)
	require.Error(t, err)

	_, err = NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{}, nil, nil)
	require.Error(t, err)
}

func TestHealthMonitor_ProbesAllProvidersOnStart(t *testing.T) {
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)
	f := newServiceFixture(t, Config{}, BreakerConfig{}, alpha, bravo)

	// A long interval isolates the immediate first round.
	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{Interval: time.Hour}, f.registry, f.publisher)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, monitor.Start(ctx))
	defer func() { require.NoError(t, monitor.Stop(ctx)) }()

	require.Eventually(t, func() bool {
		return alpha.callCount("probe") == 1 && bravo.callCount("probe") == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, f.state(t, "alpha").healthSnapshot().LastCheckAt.IsZero())
	assert.False(t, f.state(t, "bravo").healthSnapshot().LastCheckAt.IsZero())
}

func TestHealthMonitor_FlagsUnhealthyProvider(t *testing.T) {
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)

	var alphaUp atomic.Bool
	alpha.probeFn = func(ctx context.Context) error {
		if alphaUp.Load() {
			return nil
		}
		return provider.NewTransportError("alpha", provider.ErrCodeServerError, "maintenance window")
	}
	f := newServiceFixture(t, Config{}, BreakerConfig{}, alpha, bravo)

	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{
		Interval:     20 * time.Millisecond,
		ProbeTimeout: time.Second,
	}, f.registry, f.publisher)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, monitor.Start(ctx))
	defer func() { require.NoError(t, monitor.Stop(ctx)) }()

	require.Eventually(t, func() bool {
		return f.state(t, "alpha").healthSnapshot().Status == provider.HealthStatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond)

	// Unhealthy providers drop out of selection while the other keeps
	// serving.
	resp, err := f.svc.SearchNumbers(ctx, searchRequest())
	require.NoError(t, err)
	assert.Equal(t, "bravo", resp.Provider)

	// Probes adjust health only; alpha's breaker never saw a request.
	snap := f.state(t, "alpha").breakerSnapshot()
	assert.Equal(t, BreakerClosed, snap.State)
	assert.Equal(t, int64(0), snap.TotalRequests)

	require.Eventually(t, func() bool {
		return f.publisher.countType(EventHealthTransition) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Recovery flips the status back and publishes a second transition.
	alphaUp.Store(true)
	require.Eventually(t, func() bool {
		return f.state(t, "alpha").healthSnapshot().Status == provider.HealthStatusHealthy
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return f.publisher.countType(EventHealthTransition) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	var down, up bool
	for _, e := range f.publisher.snapshot() {
		if e.Type != EventHealthTransition || e.ProviderID != "alpha" {
			continue
		}
		switch {
		case e.From == "healthy" && e.To == "unhealthy":
			down = true
			assert.Equal(t, "health probe failed", e.Reason)
		case e.From == "unhealthy" && e.To == "healthy":
			up = true
			assert.Equal(t, "health probe succeeded", e.Reason)
		}
	}
	assert.True(t, down)
	assert.True(t, up)
}

func TestHealthMonitor_ProbeTimeoutApplies(t *testing.T) {
	alpha := newStubAdapter(t, "alpha", 0)
	alpha.probeFn = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	f := newServiceFixture(t, Config{}, BreakerConfig{}, alpha)

	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{
		Interval:     time.Hour,
		ProbeTimeout: 30 * time.Millisecond,
	}, f.registry, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, monitor.Start(ctx))
	defer func() { require.NoError(t, monitor.Stop(ctx)) }()

	require.Eventually(t, func() bool {
		return f.state(t, "alpha").healthSnapshot().Status == provider.HealthStatusUnhealthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealthMonitor_StartTwice(t *testing.T) {
	f := newServiceFixture(t, Config{}, BreakerConfig{}, newStubAdapter(t, "alpha", 0))
	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{Interval: time.Hour}, f.registry, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, monitor.Start(ctx))

	err = monitor.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, monitor.Start(ctx), "a stopped monitor can be restarted")
	require.NoError(t, monitor.Stop(ctx))
}

func TestHealthMonitor_StopIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, Config{}, BreakerConfig{}, newStubAdapter(t, "alpha", 0))
	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{Interval: time.Hour}, f.registry, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, monitor.Stop(ctx), "stopping before start is a no-op")

	require.NoError(t, monitor.Start(ctx))
	require.NoError(t, monitor.Stop(ctx))
	require.NoError(t, monitor.Stop(ctx))
}

func TestHealthMonitor_StopHonorsContext(t *testing.T) {
	alpha := newStubAdapter(t, "alpha", 0)
	started := make(chan struct{}, 1)
	alpha.probeFn = func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		// Deliberately ignores cancellation to hold the drain open.
		time.Sleep(300 * time.Millisecond)
		return nil
	}
	f := newServiceFixture(t, Config{}, BreakerConfig{}, alpha)

	monitor, err := NewHealthMonitor(zaptest.NewLogger(t), MonitorConfig{
		Interval:     time.Hour,
		ProbeTimeout: time.Second,
	}, f.registry, nil)
	require.NoError(t, err)

	require.NoError(t, monitor.Start(context.Background()))
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = monitor.Stop(stopCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
