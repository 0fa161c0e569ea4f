package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls what the gateway exports. The Prometheus scrape surface is
// always live; OTLP push and tracing activate with Enabled.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	Enabled        bool
	// SamplingRate between 0.0 and 1.0
	SamplingRate  float64
	ExportTimeout time.Duration
	BatchTimeout  time.Duration
}

// Provider bundles the configured telemetry backends. PrometheusRegistry
// backs the /metrics endpoint regardless of the OTLP setting, so a scrape
// works even where no collector is deployed.
type Provider struct {
	TracerProvider     trace.TracerProvider
	MeterProvider      metric.MeterProvider
	PrometheusRegistry *prometheus.Registry
	Resource           *resource.Resource
	shutdown           []func(context.Context) error
}

// Shutdown flushes and stops every exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// InitializeOpenTelemetry installs the global tracer and meter providers.
// Metrics always flow to the embedded Prometheus registry; with cfg.Enabled
// they are additionally pushed over OTLP alongside traces.
func InitializeOpenTelemetry(ctx context.Context, cfg *Config) (*Provider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("build telemetry resource: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bridge, err := otelprom.New(otelprom.WithRegisterer(promRegistry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus bridge: %w", err)
	}

	p := &Provider{
		TracerProvider:     noop.NewTracerProvider(),
		PrometheusRegistry: promRegistry,
		Resource:           res,
	}
	meterOpts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(bridge),
	}

	if cfg.Enabled {
		pushReader, err := newOTLPReader(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create otlp metric reader: %w", err)
		}
		meterOpts = append(meterOpts, sdkmetric.WithReader(pushReader))

		tp, err := newTraceProvider(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("create trace provider: %w", err)
		}
		p.TracerProvider = tp
		p.shutdown = append(p.shutdown, tp.Shutdown)
	}

	mp := sdkmetric.NewMeterProvider(meterOpts...)
	p.MeterProvider = mp
	p.shutdown = append(p.shutdown, mp.Shutdown)

	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return p, nil
}

func newResource(cfg *Config) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("service.namespace", "npg"),
		),
	)
}

func newTraceProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	// Collector connections are in-cluster plaintext gRPC.
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(exportTimeout(cfg)),
	))
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	), nil
}

func newOTLPReader(ctx context.Context, cfg *Config) (sdkmetric.Reader, error) {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithTimeout(exportTimeout(cfg)),
	)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second)), nil
}

func exportTimeout(cfg *Config) time.Duration {
	if cfg.ExportTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.ExportTimeout
}
