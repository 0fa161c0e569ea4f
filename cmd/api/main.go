// Command api runs the number provisioning gateway: carrier adapters,
// failover dispatch, and the HTTP surface in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/api/rest"
	"github.com/davidleathers/number-provisioning-gateway/internal/api/websocket"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/cache"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/config"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/database"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/events"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/instrumentation"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/telemetry"
	"github.com/davidleathers/number-provisioning-gateway/internal/metrics"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch/adapters"
)

const serviceName = "number-provisioning-gateway"

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gateway failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting number provisioning gateway",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address),
		zap.Int("providers", len(cfg.Providers)))

	telProvider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := telProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown incomplete", zap.Error(err))
		}
	}()

	// The instrument registry binds to the global meter provider, so it
	// must come after InitializeOpenTelemetry.
	metricsRegistry, err := metrics.NewRegistry("npg")
	if err != nil {
		return fmt.Errorf("build metrics registry: %w", err)
	}

	carrierAdapters, err := adapters.Build(cfg.Providers, logger.Named("adapters"))
	if err != nil {
		return fmt.Errorf("build carrier adapters: %w", err)
	}

	registry, err := dispatch.NewRegistry(breakerConfig(cfg.Dispatch.CircuitBreaker), carrierAdapters...)
	if err != nil {
		return fmt.Errorf("build provider registry: %w", err)
	}

	store, err := buildCacheStore(cfg, logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("build cache store: %w", err)
	}
	defer func() { _ = store.Close() }()

	searchCache, err := cache.NewSearchResultCache(store, logger.Named("cache"), cfg.Cache.SearchTTL)
	if err != nil {
		return fmt.Errorf("build search cache: %w", err)
	}

	// Interface variables stay nil unless a database is configured;
	// assigning a nil *PortingRequestRepository would make them non-nil.
	var (
		portingStore  dispatch.PortingStore
		portingReader rest.PortingReader
		readiness     []rest.ReadinessCheck
	)
	if cfg.Database.URL != "" {
		pool, err := database.NewPool(ctx, &cfg.Database, logger.Named("database"))
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		telProvider.PrometheusRegistry.MustRegister(database.NewPoolCollector(pool))

		repo := database.NewPortingRequestRepository(pool.Pgx())
		portingStore = repo
		portingReader = repo
		readiness = append(readiness, rest.ReadinessCheck{Name: "database", Check: pool.HealthCheck})
	} else {
		logger.Info("no database configured, porting history is disabled")
	}

	hub := websocket.NewHub(logger.Named("events"))
	defer hub.Close()

	publisher := events.NewFanout(logger.Named("events"), hub, events.NewMetricsSink(metricsRegistry))

	dispatcher, err := dispatch.NewService(
		logger.Named("dispatch"),
		dispatch.Config{MaxRetries: cfg.Dispatch.MaxRetries, RetryDelay: cfg.Dispatch.RetryDelay},
		registry,
		searchCache,
		portingStore,
		publisher,
	)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	monitor, err := dispatch.NewHealthMonitor(logger.Named("health"), dispatch.MonitorConfig{
		Interval:      cfg.Dispatch.HealthCheckInterval,
		ProbeTimeout:  cfg.Dispatch.ProbeTimeout,
		MaxConcurrent: cfg.Dispatch.ProbeConcurrency,
	}, registry, publisher)
	if err != nil {
		return fmt.Errorf("build health monitor: %w", err)
	}
	if err := monitor.Start(ctx); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monitor.Stop(stopCtx); err != nil {
			logger.Warn("health monitor stop timed out", zap.Error(err))
		}
	}()

	metricsRegistry.SetHealthSource(dispatcher.ProviderHealth)
	metricsRegistry.SetMetricsSource(dispatcher.ProviderMetrics)
	metricsRegistry.SetBreakerSource(breakerStateNames(dispatcher))

	traced := instrumentation.NewTracedDispatcher(dispatcher, metricsRegistry)

	srv, err := rest.NewServer(rest.Options{
		Config:     cfg,
		Logger:     logger.Named("api"),
		Dispatcher: traced,
		Porting:    portingReader,
		Metrics:    metricsRegistry,
		PromHTTP:   promhttp.HandlerFor(telProvider.PrometheusRegistry, promhttp.HandlerOpts{}),
		WebSocket:  hub,
		Readiness:  readiness,
	})
	if err != nil {
		return fmt.Errorf("build http server: %w", err)
	}

	return srv.Start(ctx)
}

func buildCacheStore(cfg *config.Config, logger *zap.Logger) (cache.Store, error) {
	if cfg.Cache.Backend == "redis" {
		return cache.NewRedisStore(&cfg.Redis, logger)
	}
	return cache.NewMemoryStore(), nil
}

func breakerConfig(cfg config.CircuitBreakerConfig) dispatch.BreakerConfig {
	return dispatch.BreakerConfig{
		FailureThreshold:      cfg.FailureThreshold,
		RecoveryTimeout:       cfg.RecoveryTimeout,
		MonitoringPeriod:      cfg.MonitoringPeriod,
		VolumeThreshold:       cfg.VolumeThreshold,
		ErrorThresholdPercent: cfg.ErrorThresholdPercent,
		HalfOpenMaxCalls:      cfg.HalfOpenMaxCalls,
	}
}

// breakerStateNames adapts the dispatcher's snapshot map to the plain
// state-name map the open-breaker gauge observes.
func breakerStateNames(svc dispatch.Service) func() map[string]string {
	return func() map[string]string {
		snapshots := svc.BreakerStates()
		states := make(map[string]string, len(snapshots))
		for id, snap := range snapshots {
			states[id] = string(snap.State)
		}
		return states
	}
}
