package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

func TestNewRegistry(t *testing.T) {
	charlie := newStubAdapter(t, "charlie", 2)
	alpha := newStubAdapter(t, "alpha", 0)
	bravo := newStubAdapter(t, "bravo", 1)

	registry, err := NewRegistry(BreakerConfig{}, charlie, alpha, bravo)
	require.NoError(t, err)

	assert.Equal(t, 3, registry.Len())
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, registry.IDs())

	all := registry.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Descriptor().ID)
	assert.Equal(t, "charlie", all[2].Descriptor().ID)
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	a := newStubAdapter(t, "twilio", 0)
	b := newStubAdapter(t, "twilio", 1)

	_, err := NewRegistry(BreakerConfig{}, a, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate adapter id")
}

func TestNewRegistry_RejectsNilAdapter(t *testing.T) {
	_, err := NewRegistry(BreakerConfig{}, newStubAdapter(t, "twilio", 0), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil adapter")
}

func TestRegistry_Get(t *testing.T) {
	registry, err := NewRegistry(BreakerConfig{}, newStubAdapter(t, "twilio", 0))
	require.NoError(t, err)

	adapter, err := registry.Get("twilio")
	require.NoError(t, err)
	assert.Equal(t, "twilio", adapter.Descriptor().ID)

	_, err = registry.Get("nonexistent")
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errors.ErrorTypeNotFound, appErr.Type)
	assert.Equal(t, "nonexistent", appErr.Details["provider_id"])
}

func TestRegistry_StatePerAdapter(t *testing.T) {
	registry, err := NewRegistry(BreakerConfig{}, newStubAdapter(t, "twilio", 0), newStubAdapter(t, "vonage", 1))
	require.NoError(t, err)

	twilio, ok := registry.state("twilio")
	require.True(t, ok)
	vonage, ok := registry.state("vonage")
	require.True(t, ok)
	assert.NotSame(t, twilio, vonage)

	// Tripping one provider's breaker leaves the other untouched.
	twilio.forceOpen()
	assert.Equal(t, BreakerOpen, twilio.breakerSnapshot().State)
	assert.Equal(t, BreakerClosed, vonage.breakerSnapshot().State)

	_, ok = registry.state("unknown")
	assert.False(t, ok)
}
