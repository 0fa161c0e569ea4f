package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

func candidateIDs(candidates []candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.adapter.Descriptor().ID
	}
	return ids
}

func TestSelectCandidates_PriorityOrder(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 2)
	bravo := newStubAdapter(t, "bravo", 1)
	charlie := newStubAdapter(t, "charlie", 1)

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo, charlie)
	require.NoError(t, err)

	got := selectCandidates(registry, provider.FeatureNumberSearch, "US")

	// Ascending priority; the tie between bravo and charlie keeps
	// registry (ascending-id) order.
	assert.Equal(t, []string{"bravo", "charlie", "alpha"}, candidateIDs(got))
}

func TestSelectCandidates_Deterministic(t *testing.T) {
	clock := newFakeClock()
	adapters := []Adapter{
		newStubAdapter(t, "alpha", 1),
		newStubAdapter(t, "bravo", 1),
		newStubAdapter(t, "charlie", 0),
	}
	registry, err := newRegistry(BreakerConfig{}, clock.Now, adapters...)
	require.NoError(t, err)

	first := candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "US"))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "US")))
	}
}

func TestSelectCandidates_SkipsDisabled(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)
	alpha.desc.Enabled = false

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	got := selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"bravo"}, candidateIDs(got))
}

func TestSelectCandidates_SkipsOpenBreaker(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)

	registry, err := newRegistry(BreakerConfig{RecoveryTimeout: 60 * time.Second}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	st, ok := registry.state("alpha")
	require.True(t, ok)
	st.forceOpen()

	got := selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"bravo"}, candidateIDs(got))

	// Past the recovery deadline selection readmits the provider and
	// performs the OPEN to HALF_OPEN flip itself.
	clock.Advance(61 * time.Second)
	got = selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"alpha", "bravo"}, candidateIDs(got))
	assert.Equal(t, BreakerHalfOpen, st.breakerSnapshot().State)
}

func TestSelectCandidates_SkipsUnhealthy(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	st, ok := registry.state("alpha")
	require.True(t, ok)
	st.recordProbe(false, 0)

	got := selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"bravo"}, candidateIDs(got))
}

func TestSelectCandidates_SkipsLowUptime(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)

	registry, err := newRegistry(BreakerConfig{VolumeThreshold: 1000}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	// Status stays healthy (only probes flip it) but the uptime charge
	// from repeated call failures drops alpha below the 80 threshold.
	st, ok := registry.state("alpha")
	require.True(t, ok)
	st.mu.Lock()
	for i := 0; i < 25; i++ {
		st.health.RecordCallFailure()
	}
	st.mu.Unlock()

	require.Equal(t, provider.HealthStatusHealthy, st.healthSnapshot().Status)
	got := selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"bravo"}, candidateIDs(got))
}

func TestSelectCandidates_FiltersByFeature(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)
	require.NoError(t, alpha.desc.SetCapabilities([]provider.CapabilityEntry{
		{Feature: "number_search", Supported: true},
		{Feature: "number_porting", Supported: false},
	}))

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	got := selectCandidates(registry, provider.FeatureNumberPorting, "US")
	assert.Equal(t, []string{"bravo"}, candidateIDs(got))

	got = selectCandidates(registry, provider.FeatureNumberSearch, "US")
	assert.Equal(t, []string{"alpha", "bravo"}, candidateIDs(got))
}

func TestSelectCandidates_FiltersByCapabilityRegion(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)
	require.NoError(t, alpha.desc.SetCapabilities([]provider.CapabilityEntry{
		{Feature: "number_search", Supported: true, Regions: []string{"IN"}},
	}))

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	assert.Equal(t, []string{"bravo"}, candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "US")))
	assert.Equal(t, []string{"alpha", "bravo"}, candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "IN")))
}

func TestSelectCandidates_FiltersByProviderRegion(t *testing.T) {
	clock := newFakeClock()
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)
	require.NoError(t, alpha.desc.SetRegions([]string{"IN"}))

	registry, err := newRegistry(BreakerConfig{}, clock.Now, alpha, bravo)
	require.NoError(t, err)

	assert.Equal(t, []string{"bravo"}, candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "US")))

	// Empty region skips the region filters entirely.
	assert.Equal(t, []string{"alpha", "bravo"}, candidateIDs(selectCandidates(registry, provider.FeatureNumberSearch, "")))
}
