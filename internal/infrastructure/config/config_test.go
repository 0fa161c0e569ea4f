package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.SearchTTL)
	assert.Equal(t, 3, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.HealthCheckInterval)
	assert.Equal(t, 5, cfg.Dispatch.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, 10, cfg.Dispatch.CircuitBreaker.VolumeThreshold)
	assert.InDelta(t, 50.0, cfg.Dispatch.CircuitBreaker.ErrorThresholdPercent, 0.001)
	assert.Equal(t, 100, cfg.Security.RateLimit.RequestsPerSecond)
	assert.Empty(t, cfg.Providers)
}

func TestLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
environment: production
log_level: warn
server:
  address: ":9000"
  read_timeout: 15s
cache:
  backend: redis
  search_ttl: 2m
redis:
  address: "redis-primary:6379"
dispatch:
  max_retries: 2
  retry_delay: 250ms
  circuit_breaker:
    failure_threshold: 7
    recovery_timeout: 90s
providers:
  - id: twilio
    name: Twilio
    priority: 1
    enabled: true
    base_url: https://api.twilio.com
    timeout: 20s
    regions: ["US", "CA"]
    capabilities:
      - feature: number_search
        supported: true
      - feature: sms
        supported: true
        regions: ["US"]
    rate_limits:
      per_second: 10
    credentials:
      account_sid: AC123
      auth_token: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset keys keep defaults")
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Cache.SearchTTL)
	assert.Equal(t, 2, cfg.Dispatch.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Dispatch.RetryDelay)
	assert.Equal(t, 7, cfg.Dispatch.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 90*time.Second, cfg.Dispatch.CircuitBreaker.RecoveryTimeout)
	assert.Equal(t, 10, cfg.Dispatch.CircuitBreaker.VolumeThreshold, "unset breaker keys keep defaults")

	require.Len(t, cfg.Providers, 1)
	p := cfg.Providers[0]
	assert.Equal(t, "twilio", p.ID)
	assert.Equal(t, 1, p.Priority)
	assert.True(t, p.Enabled)
	assert.Equal(t, 20*time.Second, p.Timeout)
	assert.Equal(t, []string{"US", "CA"}, p.Regions)
	assert.Equal(t, 10, p.RateLimits.PerSecond)
	assert.Equal(t, "AC123", p.Credentials["account_sid"])
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NPG_ENVIRONMENT", "staging")
	t.Setenv("NPG_SERVER_ADDRESS", ":7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, ":7070", cfg.Server.Address)
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing server address",
			mutate:  func(c *Config) { c.Server.Address = "" },
			wantErr: "server.address",
		},
		{
			name:    "unknown cache backend",
			mutate:  func(c *Config) { c.Cache.Backend = "memcached" },
			wantErr: "cache.backend",
		},
		{
			name: "redis backend without address",
			mutate: func(c *Config) {
				c.Cache.Backend = "redis"
				c.Redis.Address = ""
			},
			wantErr: "redis.address",
		},
		{
			name: "error threshold out of range",
			mutate: func(c *Config) {
				c.Dispatch.CircuitBreaker.ErrorThresholdPercent = 101
			},
			wantErr: "error_threshold_percent",
		},
		{
			name: "auth without secret",
			mutate: func(c *Config) {
				c.Security.AuthRequired = true
				c.Security.JWTSecret = ""
			},
			wantErr: "jwt_secret",
		},
		{
			name: "provider without id",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{BaseURL: "https://x.example"}}
			},
			wantErr: "id is required",
		},
		{
			name: "provider without base url",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{{ID: "twilio"}}
			},
			wantErr: "base_url",
		},
		{
			name: "duplicate provider ids",
			mutate: func(c *Config) {
				c.Providers = []ProviderConfig{
					{ID: "twilio", BaseURL: "https://a.example"},
					{ID: "Twilio", BaseURL: "https://b.example"},
				}
			},
			wantErr: "duplicate provider id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestProviderConfig_Descriptor(t *testing.T) {
	t.Run("full conversion", func(t *testing.T) {
		pc := ProviderConfig{
			ID:       "Twilio",
			Name:     "Twilio",
			Priority: 2,
			Enabled:  true,
			Regions:  []string{"us", "ca"},
			Capabilities: []provider.CapabilityEntry{
				{Feature: "number_search", Supported: true},
				{Feature: "sms", Supported: true, Regions: []string{"US"}},
			},
			BaseURL:       "https://api.twilio.com",
			Timeout:       20 * time.Second,
			RetryAttempts: 2,
			RetryDelay:    500 * time.Millisecond,
			RateLimits:    RateLimitsConfig{PerSecond: 10, PerMinute: 300},
			Credentials:   map[string]string{"account_sid": "AC123"},
		}

		desc, err := pc.Descriptor()
		require.NoError(t, err)

		assert.Equal(t, "twilio", desc.ID)
		assert.True(t, desc.Enabled)
		assert.Equal(t, []string{"CA", "US"}, desc.Regions)
		assert.True(t, desc.SupportsFeature(provider.FeatureNumberSearch, "US"))
		assert.True(t, desc.SupportsFeature(provider.FeatureSMS, "US"))
		assert.False(t, desc.SupportsFeature(provider.FeatureSMS, "CA"))
		assert.Equal(t, 20*time.Second, desc.Timeout)
		assert.Equal(t, 2, desc.RetryAttempts)
		assert.Equal(t, 500*time.Millisecond, desc.RetryDelay)
		assert.Equal(t, 10, desc.RateLimits.PerSecond)
		assert.Equal(t, "AC123", desc.Credentials["account_sid"])
	})

	t.Run("omitted transport keeps descriptor defaults", func(t *testing.T) {
		pc := ProviderConfig{ID: "vonage", Name: "Vonage", BaseURL: "https://rest.nexmo.com"}

		desc, err := pc.Descriptor()
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, desc.Timeout)
		assert.Equal(t, 3, desc.RetryAttempts)
		assert.Equal(t, time.Second, desc.RetryDelay)
		assert.False(t, desc.Enabled, "enabled must be explicit in configuration")
	})

	t.Run("invalid base url", func(t *testing.T) {
		pc := ProviderConfig{ID: "x", Name: "X", BaseURL: "ftp://nope"}
		_, err := pc.Descriptor()
		assert.Error(t, err)
	})
}
