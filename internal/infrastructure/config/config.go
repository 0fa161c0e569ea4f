package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

// DefaultPath is where Load looks when no config file is given.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Cache     CacheConfig     `koanf:"cache"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Security  SecurityConfig  `koanf:"security"`
	Telemetry TelemetryConfig `koanf:"telemetry"`

	Providers []ProviderConfig `koanf:"providers"`
}

type ServerConfig struct {
	Address         string        `koanf:"address"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig describes the porting-request store. An empty URL runs the
// gateway without persistence.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type RedisConfig struct {
	Address         string        `koanf:"address"`
	Password        string        `koanf:"password"`
	DB              int           `koanf:"db"`
	PoolSize        int           `koanf:"pool_size"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	MaxRetries      int           `koanf:"max_retries"`
	DialTimeout     time.Duration `koanf:"dial_timeout"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type CacheConfig struct {
	Backend   string        `koanf:"backend"` // "memory" or "redis"
	SearchTTL time.Duration `koanf:"search_ttl"`
}

// DispatchConfig tunes failover, the per-provider circuit breakers, and the
// background health monitor.
type DispatchConfig struct {
	MaxRetries          int                  `koanf:"max_retries"`
	RetryDelay          time.Duration        `koanf:"retry_delay"`
	HealthCheckInterval time.Duration        `koanf:"health_check_interval"`
	ProbeTimeout        time.Duration        `koanf:"probe_timeout"`
	ProbeConcurrency    int                  `koanf:"probe_concurrency"`
	CircuitBreaker      CircuitBreakerConfig `koanf:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	FailureThreshold      int           `koanf:"failure_threshold"`
	RecoveryTimeout       time.Duration `koanf:"recovery_timeout"`
	MonitoringPeriod      time.Duration `koanf:"monitoring_period"`
	VolumeThreshold       int           `koanf:"volume_threshold"`
	ErrorThresholdPercent float64       `koanf:"error_threshold_percent"`
	HalfOpenMaxCalls      int           `koanf:"half_open_max_calls"`
}

type SecurityConfig struct {
	AuthRequired bool            `koanf:"auth_required"`
	JWTSecret    string          `koanf:"jwt_secret"`
	TokenExpiry  time.Duration   `koanf:"token_expiry"`
	RateLimit    RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	BurstSize         int `koanf:"burst_size"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// ProviderConfig is the raw configuration for one carrier. Descriptor()
// turns it into the validated domain form.
type ProviderConfig struct {
	ID            string                     `koanf:"id"`
	Name          string                     `koanf:"name"`
	Priority      int                        `koanf:"priority"`
	Enabled       bool                       `koanf:"enabled"`
	Regions       []string                   `koanf:"regions"`
	Capabilities  []provider.CapabilityEntry `koanf:"capabilities"`
	BaseURL       string                     `koanf:"base_url"`
	Timeout       time.Duration              `koanf:"timeout"`
	RetryAttempts int                        `koanf:"retry_attempts"`
	RetryDelay    time.Duration              `koanf:"retry_delay"`
	RateLimits    RateLimitsConfig           `koanf:"rate_limits"`
	Credentials   map[string]string          `koanf:"credentials"`
}

type RateLimitsConfig struct {
	PerSecond int `koanf:"per_second"`
	PerMinute int `koanf:"per_minute"`
	PerHour   int `koanf:"per_hour"`
}

// Load builds the configuration from defaults, an optional YAML file, and
// NPG_-prefixed environment variables, in that order. An empty path falls
// back to DefaultPath; a missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults
	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			DB:              0,
			PoolSize:        10,
			MinIdleConns:    2,
			MaxRetries:      3,
			DialTimeout:     5 * time.Second,
			ReadTimeout:     3 * time.Second,
			WriteTimeout:    3 * time.Second,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:   "memory",
			SearchTTL: 5 * time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxRetries:          3,
			RetryDelay:          time.Second,
			HealthCheckInterval: 60 * time.Second,
			ProbeTimeout:        10 * time.Second,
			ProbeConcurrency:    4,
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold:      5,
				RecoveryTimeout:       60 * time.Second,
				MonitoringPeriod:      60 * time.Second,
				VolumeThreshold:       10,
				ErrorThresholdPercent: 50,
				HalfOpenMaxCalls:      3,
			},
		},
		Security: SecurityConfig{
			TokenExpiry: 24 * time.Hour,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				BurstSize:         200,
			},
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file; a missing file is only tolerated at the default path
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Override with environment variables
	if err := k.Load(env.Provider("NPG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "NPG_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the gateway cannot start with. Per-provider
// business rules live in provider.NewDescriptor; this catches cross-field
// problems the descriptor cannot see.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}

	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when cache.backend is redis")
	}

	cb := c.Dispatch.CircuitBreaker
	if cb.ErrorThresholdPercent < 0 || cb.ErrorThresholdPercent > 100 {
		return fmt.Errorf("dispatch.circuit_breaker.error_threshold_percent must be within [0,100], got %v", cb.ErrorThresholdPercent)
	}

	if c.Security.AuthRequired && c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required when security.auth_required is true")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		id := strings.ToLower(strings.TrimSpace(p.ID))
		if id == "" {
			return fmt.Errorf("providers[%d].id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("duplicate provider id %q", id)
		}
		seen[id] = true
		if p.BaseURL == "" {
			return fmt.Errorf("providers[%d].base_url is required", i)
		}
	}

	return nil
}

// Descriptor converts the raw carrier entry into the validated domain form.
func (p ProviderConfig) Descriptor() (*provider.Descriptor, error) {
	desc, err := provider.NewDescriptor(strings.ToLower(strings.TrimSpace(p.ID)), p.Name, p.Priority, p.BaseURL)
	if err != nil {
		return nil, err
	}

	desc.Enabled = p.Enabled

	if len(p.Regions) > 0 {
		if err := desc.SetRegions(p.Regions); err != nil {
			return nil, err
		}
	}
	if len(p.Capabilities) > 0 {
		if err := desc.SetCapabilities(p.Capabilities); err != nil {
			return nil, err
		}
	}

	// Non-positive values keep the descriptor defaults
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = desc.Timeout
	}
	retryAttempts := p.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = desc.RetryAttempts
	}
	if err := desc.SetTransport(timeout, p.RetryDelay, retryAttempts, provider.RateLimits{
		PerSecond: p.RateLimits.PerSecond,
		PerMinute: p.RateLimits.PerMinute,
		PerHour:   p.RateLimits.PerHour,
	}); err != nil {
		return nil, err
	}

	desc.SetCredentials(p.Credentials)
	return desc, nil
}
