package provider

import "time"

// HealthStatus represents the probe-driven status of a provider
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Uptime adjustments per observed outcome, clamped to [0, 100].
const (
	uptimeSuccessDelta = 0.1
	uptimeFailureDelta = 1.0
	uptimeFloor        = 0.0
	uptimeCeiling      = 100.0

	// EligibilityUptimeThreshold is the uptime a healthy provider must keep
	// to stay selectable.
	EligibilityUptimeThreshold = 80.0
)

// Health is the dynamic per-provider state consulted on every selection.
// It is not self-synchronizing: callers hold the per-provider lock.
type Health struct {
	Status             HealthStatus `json:"status"`
	LastCheckAt        time.Time    `json:"last_check_at"`
	LastResponseTimeMs int64        `json:"last_response_time_ms"`
	UptimePercent      float64      `json:"uptime_percent"`
}

// NewHealth returns the boot state: healthy at full uptime, so a freshly
// registered provider is selectable before its first probe.
func NewHealth() Health {
	return Health{
		Status:        HealthStatusHealthy,
		UptimePercent: uptimeCeiling,
	}
}

// RecordProbe applies a health-probe result. Probes own the status flag;
// live traffic only moves the uptime needle.
func (h *Health) RecordProbe(ok bool, responseTime time.Duration, at time.Time) {
	h.LastCheckAt = at.UTC()
	h.LastResponseTimeMs = responseTime.Milliseconds()

	if ok {
		h.Status = HealthStatusHealthy
		h.creditSuccess()
	} else {
		h.Status = HealthStatusUnhealthy
		h.chargeFailure()
	}
}

// RecordCallSuccess credits a successful dispatched call
func (h *Health) RecordCallSuccess(responseTime time.Duration) {
	h.LastResponseTimeMs = responseTime.Milliseconds()
	h.creditSuccess()
}

// RecordCallFailure charges a failed dispatched call
func (h *Health) RecordCallFailure() {
	h.chargeFailure()
}

// Eligible reports whether the provider may be selected
func (h Health) Eligible() bool {
	return h.Status == HealthStatusHealthy && h.UptimePercent > EligibilityUptimeThreshold
}

func (h *Health) creditSuccess() {
	h.UptimePercent += uptimeSuccessDelta
	if h.UptimePercent > uptimeCeiling {
		h.UptimePercent = uptimeCeiling
	}
}

func (h *Health) chargeFailure() {
	h.UptimePercent -= uptimeFailureDelta
	if h.UptimePercent < uptimeFloor {
		h.UptimePercent = uptimeFloor
	}
}
