package provider

import "time"

// Metrics holds per-provider request counters and rolling averages.
// Like Health, it is guarded by the per-provider lock; reads go through
// Snapshot so callers never observe a torn update.
type Metrics struct {
	TotalRequests      int64      `json:"total_requests"`
	SuccessfulRequests int64      `json:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests"`
	AvgResponseTimeMs  float64    `json:"avg_response_time_ms"`
	ErrorRatePercent   float64    `json:"error_rate_percent"`
	LastError          string     `json:"last_error,omitempty"`
	LastSuccessAt      *time.Time `json:"last_success_at,omitempty"`
}

// RecordCall folds one dispatched call into the counters
func (m *Metrics) RecordCall(success bool, responseTime time.Duration, errMsg string, at time.Time) {
	m.TotalRequests++

	if success {
		m.SuccessfulRequests++
		ts := at.UTC()
		m.LastSuccessAt = &ts
	} else {
		m.FailedRequests++
		if errMsg != "" {
			m.LastError = errMsg
		}
	}

	// Cumulative moving average over all requests
	n := float64(m.TotalRequests)
	m.AvgResponseTimeMs += (float64(responseTime.Milliseconds()) - m.AvgResponseTimeMs) / n

	m.ErrorRatePercent = float64(m.FailedRequests) / n * 100
}

// Snapshot returns a copy safe to hand to callers
func (m Metrics) Snapshot() Metrics {
	if m.LastSuccessAt != nil {
		ts := *m.LastSuccessAt
		m.LastSuccessAt = &ts
	}
	return m
}
