package provider

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

// RegionWildcard marks a provider or capability as unrestricted by region.
const RegionWildcard = "*"

// RateLimits describes the request budget a carrier grants us
type RateLimits struct {
	PerSecond int `json:"per_second"`
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
}

// Capability describes one feature a carrier exposes and where it is usable
type Capability struct {
	Feature   Feature  `json:"feature"`
	Supported bool     `json:"supported"`
	Regions   []string `json:"regions,omitempty"` // empty = unrestricted
}

// CapabilityEntry is the raw configuration form of a capability. Carrier
// configs may repeat a feature; entries for the same feature merge on load
// (supported is OR-ed, region sets are unioned).
type CapabilityEntry struct {
	Feature   string   `json:"feature" koanf:"feature"`
	Supported bool     `json:"supported" koanf:"supported"`
	Regions   []string `json:"regions" koanf:"regions"`
}

// Descriptor is the static configuration for one carrier.
// Immutable after load; lifetime = process lifetime.
type Descriptor struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Priority      int                    `json:"priority"` // Lower number = higher priority
	Enabled       bool                   `json:"enabled"`
	Regions       []string               `json:"regions"`
	Capabilities  map[Feature]Capability `json:"capabilities"`
	BaseURL       string                 `json:"base_url"`
	Timeout       time.Duration          `json:"timeout"`
	RetryAttempts int                    `json:"retry_attempts"`
	RetryDelay    time.Duration          `json:"retry_delay"`
	RateLimits    RateLimits             `json:"rate_limits"`
	Credentials   map[string]string      `json:"-"` // Sensitive, opaque to the core
}

// NewDescriptor creates a carrier descriptor with validation.
// All business rules are enforced here; the result is read-only.
func NewDescriptor(id, name string, priority int, baseURL string) (*Descriptor, error) {
	if id == "" {
		return nil, errors.NewValidationError("INVALID_PROVIDER_ID", "provider id cannot be empty")
	}
	if strings.ToLower(id) != id {
		return nil, errors.NewValidationError("INVALID_PROVIDER_ID", "provider id must be lowercase")
	}
	if name == "" {
		return nil, errors.NewValidationError("INVALID_NAME", "provider name cannot be empty")
	}
	if priority < 0 {
		return nil, errors.NewValidationError("INVALID_PRIORITY", "provider priority cannot be negative")
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_URL", "invalid base URL format").WithCause(err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.NewValidationError("INVALID_URL", "base URL must use http or https scheme")
	}

	return &Descriptor{
		ID:            id,
		Name:          name,
		Priority:      priority,
		Enabled:       true,
		Regions:       []string{RegionWildcard},
		Capabilities:  make(map[Feature]Capability),
		BaseURL:       parsedURL.String(),
		Timeout:       30 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    time.Second,
		Credentials:   make(map[string]string),
	}, nil
}

// SetRegions replaces the provider's serviceable regions
func (d *Descriptor) SetRegions(regions []string) error {
	if len(regions) == 0 {
		return errors.NewValidationError("INVALID_REGIONS", "provider must declare at least one region or the wildcard")
	}

	normalized := make([]string, 0, len(regions))
	for _, r := range regions {
		if r == RegionWildcard {
			d.Regions = []string{RegionWildcard}
			return nil
		}
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(r)))
	}
	sort.Strings(normalized)

	d.Regions = normalized
	return nil
}

// SetCapabilities loads capability entries, deduplicating repeated features.
// Duplicate entries for the same feature merge: supported flags OR together
// and region sets union, so a second entry can widen but never revoke.
func (d *Descriptor) SetCapabilities(entries []CapabilityEntry) error {
	caps := make(map[Feature]Capability, len(entries))

	for _, entry := range entries {
		feature := Feature(strings.ToLower(strings.TrimSpace(entry.Feature)))
		if !feature.IsValid() {
			return errors.NewValidationError("INVALID_CAPABILITY", "unknown capability feature: "+entry.Feature)
		}

		merged, exists := caps[feature]
		if !exists {
			merged = Capability{Feature: feature}
		}

		merged.Supported = merged.Supported || entry.Supported
		merged.Regions = unionRegions(merged.Regions, entry.Regions)
		caps[feature] = merged
	}

	d.Capabilities = caps
	return nil
}

// SetTransport applies transport tuning from configuration
func (d *Descriptor) SetTransport(timeout, retryDelay time.Duration, retryAttempts int, limits RateLimits) error {
	if timeout <= 0 {
		return errors.NewValidationError("INVALID_TIMEOUT", "provider timeout must be positive")
	}
	if retryAttempts < 0 {
		return errors.NewValidationError("INVALID_RETRY", "retry attempts cannot be negative")
	}

	d.Timeout = timeout
	d.RetryAttempts = retryAttempts
	if retryDelay > 0 {
		d.RetryDelay = retryDelay
	}
	d.RateLimits = limits
	return nil
}

// SetCredentials attaches opaque carrier credentials
func (d *Descriptor) SetCredentials(credentials map[string]string) {
	if credentials == nil {
		credentials = make(map[string]string)
	}
	d.Credentials = credentials
}

// SupportsFeature reports whether the feature is present and usable in the
// region. An empty region means "anywhere the feature is supported".
func (d *Descriptor) SupportsFeature(feature Feature, region string) bool {
	capability, ok := d.Capabilities[feature]
	if !ok || !capability.Supported {
		return false
	}

	if region == "" || len(capability.Regions) == 0 {
		return true
	}

	region = strings.ToUpper(region)
	for _, r := range capability.Regions {
		if r == RegionWildcard || r == region {
			return true
		}
	}
	return false
}

// SupportsRegion reports whether the provider services the region
func (d *Descriptor) SupportsRegion(region string) bool {
	if region == "" {
		return true
	}

	region = strings.ToUpper(region)
	for _, r := range d.Regions {
		if r == RegionWildcard || r == region {
			return true
		}
	}
	return false
}

// Features returns the supported features in stable order
func (d *Descriptor) Features() []Feature {
	features := make([]Feature, 0, len(d.Capabilities))
	for feature, capability := range d.Capabilities {
		if capability.Supported {
			features = append(features, feature)
		}
	}
	sort.Slice(features, func(i, j int) bool { return features[i] < features[j] })
	return features
}

func unionRegions(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, r := range a {
		seen[strings.ToUpper(strings.TrimSpace(r))] = true
	}
	for _, r := range b {
		r = strings.ToUpper(strings.TrimSpace(r))
		if r != "" {
			seen[r] = true
		}
	}
	delete(seen, "")

	if seen[RegionWildcard] {
		return nil // wildcard collapses to unrestricted
	}

	union := make([]string, 0, len(seen))
	for r := range seen {
		union = append(union, r)
	}
	sort.Strings(union)
	return union
}
