package instrumentation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
	"github.com/davidleathers/number-provisioning-gateway/internal/metrics"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

type fakeDispatcher struct {
	searchResp  *number.SearchResponse
	reserveResp *number.ReservationResponse
	failWith    error

	calls []string
}

var _ dispatch.Service = (*fakeDispatcher)(nil)

func (f *fakeDispatcher) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	f.calls = append(f.calls, "search")
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.searchResp, nil
}

func (f *fakeDispatcher) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	f.calls = append(f.calls, "reserve")
	if f.failWith != nil {
		return nil, f.failWith
	}
	return f.reserveResp, nil
}

func (f *fakeDispatcher) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	f.calls = append(f.calls, "purchase")
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &number.PurchaseResponse{PurchaseID: "pur-1", Provider: "twilio", Status: number.PurchaseStatusPurchased}, nil
}

func (f *fakeDispatcher) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	f.calls = append(f.calls, "port")
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &number.PortingResponse{PortingID: "port-1", Provider: "twilio", Status: number.PortingStatusSubmitted}, nil
}

func (f *fakeDispatcher) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (*number.AvailabilityResult, error) {
	f.calls = append(f.calls, "check")
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &number.AvailabilityResult{PhoneNumber: phoneNumber.String(), Available: true, ProviderID: "twilio"}, nil
}

func (f *fakeDispatcher) ReleaseReservation(ctx context.Context, providerID, reservationID string) (bool, error) {
	f.calls = append(f.calls, "release")
	if f.failWith != nil {
		return false, f.failWith
	}
	return true, nil
}

func (f *fakeDispatcher) ProviderHealth() map[string]provider.Health {
	return map[string]provider.Health{"twilio": provider.NewHealth()}
}

func (f *fakeDispatcher) ProviderMetrics() map[string]provider.Metrics {
	return map[string]provider.Metrics{"twilio": {}}
}

func (f *fakeDispatcher) BreakerStates() map[string]dispatch.BreakerSnapshot {
	return map[string]dispatch.BreakerSnapshot{"twilio": {State: dispatch.BreakerClosed}}
}

func (f *fakeDispatcher) ForceBreakerOpen(providerID string) error {
	f.calls = append(f.calls, "force-open:"+providerID)
	return nil
}

func (f *fakeDispatcher) ForceBreakerClose(providerID string) error {
	f.calls = append(f.calls, "force-close:"+providerID)
	return nil
}

func (f *fakeDispatcher) ResetBreaker(providerID string) error {
	f.calls = append(f.calls, "reset:"+providerID)
	return nil
}

func newTracedFixture(t *testing.T, fake *fakeDispatcher) *TracedDispatcher {
	t.Helper()
	registry, err := metrics.NewRegistry("npg.test")
	require.NoError(t, err)
	return NewTracedDispatcher(fake, registry)
}

func TestTracedDispatcher_ForwardsResponses(t *testing.T) {
	fake := &fakeDispatcher{
		searchResp: &number.SearchResponse{
			Numbers:    []number.AvailableNumber{{PhoneNumber: "+12125550100"}},
			TotalCount: 1,
			Provider:   "twilio",
			Cached:     true,
		},
		reserveResp: &number.ReservationResponse{
			ReservationID: "res-1",
			Provider:      "twilio",
			Status:        number.ReservationStatusReserved,
			ExpiresAt:     time.Now().Add(15 * time.Minute),
		},
	}
	traced := newTracedFixture(t, fake)
	ctx := context.Background()

	search, err := traced.SearchNumbers(ctx, &number.SearchRequest{CountryCode: "US", Limit: 5})
	require.NoError(t, err)
	assert.Same(t, fake.searchResp, search)

	reserve, err := traced.ReserveNumber(ctx, &number.ReservationRequest{PhoneNumber: "+12125550100", ProviderID: "twilio"})
	require.NoError(t, err)
	assert.Same(t, fake.reserveResp, reserve)

	purchase, err := traced.PurchaseNumber(ctx, &number.PurchaseRequest{PhoneNumber: "+12125550100", ProviderID: "twilio"})
	require.NoError(t, err)
	assert.Equal(t, "pur-1", purchase.PurchaseID)

	port, err := traced.PortNumber(ctx, &number.PortingRequest{PhoneNumber: "+12125550100", CurrentProvider: "legacy-telco"})
	require.NoError(t, err)
	assert.Equal(t, "port-1", port.PortingID)

	check, err := traced.CheckNumberAvailability(ctx, values.MustNewPhoneNumber("+12125550100"))
	require.NoError(t, err)
	assert.True(t, check.Available)

	released, err := traced.ReleaseReservation(ctx, "twilio", "res-1")
	require.NoError(t, err)
	assert.True(t, released)

	assert.Equal(t, []string{"search", "reserve", "purchase", "port", "check", "release"}, fake.calls)
}

func TestTracedDispatcher_PropagatesErrors(t *testing.T) {
	fake := &fakeDispatcher{failWith: provider.NewTransportError("twilio", provider.ErrCodeTimeout, "deadline exceeded")}
	traced := newTracedFixture(t, fake)

	_, err := traced.SearchNumbers(context.Background(), &number.SearchRequest{CountryCode: "US"})
	require.Error(t, err)

	var provErr *provider.Error
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, provider.ErrCodeTimeout, provErr.Code)
}

func TestTracedDispatcher_SnapshotsPassThrough(t *testing.T) {
	fake := &fakeDispatcher{}
	traced := newTracedFixture(t, fake)

	assert.Contains(t, traced.ProviderHealth(), "twilio")
	assert.Contains(t, traced.ProviderMetrics(), "twilio")
	assert.Contains(t, traced.BreakerStates(), "twilio")

	require.NoError(t, traced.ForceBreakerOpen("twilio"))
	require.NoError(t, traced.ForceBreakerClose("twilio"))
	require.NoError(t, traced.ResetBreaker("twilio"))
	assert.Equal(t, []string{"force-open:twilio", "force-close:twilio", "reset:twilio"}, fake.calls)
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "all providers failed",
			err:  &dispatch.AllProvidersFailedError{Operation: "number_search"},
			want: "exhausted",
		},
		{
			name: "provider error uses lowercase code",
			err:  provider.NewTransportError("vonage", provider.ErrCodeRateLimited, "slow down"),
			want: "rate_limited",
		},
		{
			name: "wrapped provider error",
			err:  fmt.Errorf("dispatch: %w", provider.NewCircuitOpenError("airtel")),
			want: "circuit_open",
		},
		{
			name: "app error uses type",
			err:  errors.NewValidationError("INVALID_COUNTRY", "bad country"),
			want: "validation",
		},
		{
			name: "opaque error",
			err:  fmt.Errorf("socket closed"),
			want: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, outcomeLabel(tt.err))
		})
	}
}
