package provider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordCall(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var m Metrics
	m.RecordCall(true, 100*time.Millisecond, "", now)
	m.RecordCall(true, 200*time.Millisecond, "", now.Add(time.Second))
	m.RecordCall(false, 300*time.Millisecond, "connection refused", now.Add(2*time.Second))

	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(2), m.SuccessfulRequests)
	assert.Equal(t, int64(1), m.FailedRequests)
	assert.InDelta(t, 200.0, m.AvgResponseTimeMs, 0.001)
	assert.InDelta(t, 33.333, m.ErrorRatePercent, 0.001)
	assert.Equal(t, "connection refused", m.LastError)

	require.NotNil(t, m.LastSuccessAt)
	assert.Equal(t, now.Add(time.Second), *m.LastSuccessAt)
}

func TestMetrics_RecordCall_FailureKeepsPriorError(t *testing.T) {
	var m Metrics
	m.RecordCall(false, time.Millisecond, "timeout", time.Now())
	m.RecordCall(false, time.Millisecond, "", time.Now())

	assert.Equal(t, "timeout", m.LastError)
	assert.Equal(t, 100.0, m.ErrorRatePercent)
}

func TestMetrics_Snapshot(t *testing.T) {
	now := time.Now().UTC()

	var m Metrics
	m.RecordCall(true, 50*time.Millisecond, "", now)

	snap := m.Snapshot()
	require.NotNil(t, snap.LastSuccessAt)

	// Mutating the snapshot's timestamp must not reach the original
	*snap.LastSuccessAt = snap.LastSuccessAt.Add(time.Hour)
	assert.Equal(t, now, *m.LastSuccessAt)
}
