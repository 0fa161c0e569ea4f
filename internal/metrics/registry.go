package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

// Registry holds the gateway's domain metrics. Counters and histograms are
// recorded at call sites; provider-level gauges observe snapshot sources
// installed with the Set*Source methods.
type Registry struct {
	meter metric.Meter

	// Dispatch metrics
	OperationDuration metric.Float64Histogram
	OperationCounter  metric.Int64Counter
	CacheHitCounter   metric.Int64Counter
	CacheMissCounter  metric.Int64Counter

	// Provider state metrics
	TransitionCounter  metric.Int64Counter
	OpenBreakers       metric.Int64ObservableGauge
	HealthyProviders   metric.Int64ObservableGauge
	ProviderUptime     metric.Float64ObservableGauge
	ProviderErrorRate  metric.Float64ObservableGauge
	ProviderAvgLatency metric.Float64ObservableGauge

	// API metrics
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	// Snapshot sources for the observable gauges
	mu            sync.RWMutex
	healthSource  func() map[string]provider.Health
	metricsSource func() map[string]provider.Metrics
	breakerSource func() map[string]string
}

// NewRegistry creates a metrics registry on the named meter
func NewRegistry(meterName string) (*Registry, error) {
	meter := otel.Meter(meterName)
	r := &Registry{meter: meter}

	if err := r.initDispatchMetrics(); err != nil {
		return nil, err
	}
	if err := r.initProviderMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}

	return r, nil
}

// SetHealthSource installs the provider health snapshot source
func (r *Registry) SetHealthSource(fn func() map[string]provider.Health) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.healthSource = fn
}

// SetMetricsSource installs the provider call metrics snapshot source
func (r *Registry) SetMetricsSource(fn func() map[string]provider.Metrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metricsSource = fn
}

// SetBreakerSource installs the breaker state snapshot source, keyed by
// provider id with the state name as value.
func (r *Registry) SetBreakerSource(fn func() map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerSource = fn
}

// initDispatchMetrics initializes dispatch operation metrics
func (r *Registry) initDispatchMetrics() error {
	var err error

	r.OperationDuration, err = r.meter.Float64Histogram(
		"npg.dispatch.operation_duration",
		metric.WithDescription("End-to-end duration of dispatch operations in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return err
	}

	r.OperationCounter, err = r.meter.Int64Counter(
		"npg.dispatch.operations_total",
		metric.WithDescription("Total dispatch operations by outcome"),
	)
	if err != nil {
		return err
	}

	r.CacheHitCounter, err = r.meter.Int64Counter(
		"npg.dispatch.cache_hits_total",
		metric.WithDescription("Search responses served from cache"),
	)
	if err != nil {
		return err
	}

	r.CacheMissCounter, err = r.meter.Int64Counter(
		"npg.dispatch.cache_misses_total",
		metric.WithDescription("Searches dispatched to a carrier after a cache miss"),
	)
	return err
}

// initProviderMetrics initializes provider state metrics
func (r *Registry) initProviderMetrics() error {
	var err error

	r.TransitionCounter, err = r.meter.Int64Counter(
		"npg.provider.transitions_total",
		metric.WithDescription("Breaker and health transitions by provider"),
	)
	if err != nil {
		return err
	}

	r.OpenBreakers, err = r.meter.Int64ObservableGauge(
		"npg.provider.open_breakers",
		metric.WithDescription("Number of providers with an open circuit breaker"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var open int64
			for _, state := range r.breakerStates() {
				if state == "open" {
					open++
				}
			}
			o.Observe(open)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.HealthyProviders, err = r.meter.Int64ObservableGauge(
		"npg.provider.healthy_total",
		metric.WithDescription("Number of providers currently marked healthy"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			var healthy int64
			for _, h := range r.healthSnapshots() {
				if h.Status == provider.HealthStatusHealthy {
					healthy++
				}
			}
			o.Observe(healthy)
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.ProviderUptime, err = r.meter.Float64ObservableGauge(
		"npg.provider.uptime_percent",
		metric.WithDescription("Moving uptime percentage per provider"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			for id, h := range r.healthSnapshots() {
				o.Observe(h.UptimePercent, metric.WithAttributes(attribute.String("provider_id", id)))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.ProviderErrorRate, err = r.meter.Float64ObservableGauge(
		"npg.provider.error_rate_percent",
		metric.WithDescription("Cumulative error rate per provider"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			for id, m := range r.metricsSnapshots() {
				o.Observe(m.ErrorRatePercent, metric.WithAttributes(attribute.String("provider_id", id)))
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	r.ProviderAvgLatency, err = r.meter.Float64ObservableGauge(
		"npg.provider.avg_response_ms",
		metric.WithDescription("Average carrier response time per provider in milliseconds"),
		metric.WithFloat64Callback(func(ctx context.Context, o metric.Float64Observer) error {
			for id, m := range r.metricsSnapshots() {
				o.Observe(m.AvgResponseTimeMs, metric.WithAttributes(attribute.String("provider_id", id)))
			}
			return nil
		}),
	)
	return err
}

// initAPIMetrics initializes HTTP surface metrics
func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"npg.api.request_duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 250, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"npg.api.requests_total",
		metric.WithDescription("Total HTTP requests by method, route, and status"),
	)
	return err
}

// RecordOperation records one dispatch operation observed at the API boundary
func (r *Registry) RecordOperation(ctx context.Context, operation, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	r.OperationDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	r.OperationCounter.Add(ctx, 1, attrs)
}

// RecordCacheResult records whether a search was served from cache
func (r *Registry) RecordCacheResult(ctx context.Context, hit bool) {
	if hit {
		r.CacheHitCounter.Add(ctx, 1)
		return
	}
	r.CacheMissCounter.Add(ctx, 1)
}

// RecordTransition records a provider breaker or health transition
func (r *Registry) RecordTransition(ctx context.Context, eventType, providerID, from, to string) {
	r.TransitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", eventType),
		attribute.String("provider_id", providerID),
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordAPIRequest records one served HTTP request
func (r *Registry) RecordAPIRequest(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	r.APIRequestDuration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
	))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

func (r *Registry) healthSnapshots() map[string]provider.Health {
	r.mu.RLock()
	fn := r.healthSource
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (r *Registry) metricsSnapshots() map[string]provider.Metrics {
	r.mu.RLock()
	fn := r.metricsSource
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}

func (r *Registry) breakerStates() map[string]string {
	r.mu.RLock()
	fn := r.breakerSource
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn()
}
