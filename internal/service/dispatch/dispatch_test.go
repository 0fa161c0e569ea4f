package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// fakeClock drives the breaker and health timestamps in tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubAdapter is a scripted Adapter. Unset operations succeed with minimal
// canned responses; function fields override per test. Call counts are
// tracked per operation name.
type stubAdapter struct {
	desc *provider.Descriptor

	searchFn   func(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error)
	reserveFn  func(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error)
	purchaseFn func(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error)
	portFn     func(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error)
	checkFn    func(ctx context.Context, phone values.PhoneNumber) (bool, error)
	releaseFn  func(ctx context.Context, reservationID string) (bool, error)
	probeFn    func(ctx context.Context) error

	mu    sync.Mutex
	calls map[string]int
}

func newStubAdapter(t *testing.T, id string, priority int) *stubAdapter {
	t.Helper()

	desc, err := provider.NewDescriptor(id, id, priority, "https://api."+id+".example.com")
	require.NoError(t, err)
	require.NoError(t, desc.SetCapabilities([]provider.CapabilityEntry{
		{Feature: "number_search", Supported: true},
		{Feature: "number_purchase", Supported: true},
		{Feature: "number_porting", Supported: true},
	}))

	return &stubAdapter{desc: desc, calls: make(map[string]int)}
}

func (a *stubAdapter) record(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[op]++
}

func (a *stubAdapter) callCount(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *stubAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	a.record("search")
	if a.searchFn != nil {
		return a.searchFn(ctx, req)
	}
	return &number.SearchResponse{
		Numbers: []number.AvailableNumber{
			{PhoneNumber: "+12125550100", Region: req.CountryCode, ProviderID: a.desc.ID},
		},
		TotalCount: 1,
	}, nil
}

func (a *stubAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	a.record("reserve")
	if a.reserveFn != nil {
		return a.reserveFn(ctx, req)
	}
	return &number.ReservationResponse{
		ReservationID: "res-" + a.desc.ID,
		PhoneNumber:   req.PhoneNumber,
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusReserved,
	}, nil
}

func (a *stubAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	a.record("purchase")
	if a.purchaseFn != nil {
		return a.purchaseFn(ctx, req)
	}
	return &number.PurchaseResponse{
		PurchaseID:  "pur-" + a.desc.ID,
		PhoneNumber: req.PhoneNumber,
		Provider:    a.desc.ID,
		Status:      number.PurchaseStatusPurchased,
	}, nil
}

func (a *stubAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	a.record("port")
	if a.portFn != nil {
		return a.portFn(ctx, req)
	}
	return &number.PortingResponse{
		PortingID:   "port-" + a.desc.ID,
		PhoneNumber: req.PhoneNumber,
		Provider:    a.desc.ID,
		Status:      number.PortingStatusSubmitted,
	}, nil
}

func (a *stubAdapter) CheckNumberAvailability(ctx context.Context, phone values.PhoneNumber) (bool, error) {
	a.record("check")
	if a.checkFn != nil {
		return a.checkFn(ctx, phone)
	}
	return true, nil
}

func (a *stubAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	a.record("release")
	if a.releaseFn != nil {
		return a.releaseFn(ctx, reservationID)
	}
	return true, nil
}

func (a *stubAdapter) HealthProbe(ctx context.Context) error {
	a.record("probe")
	if a.probeFn != nil {
		return a.probeFn(ctx)
	}
	return nil
}

func (a *stubAdapter) Descriptor() *provider.Descriptor { return a.desc }

func (a *stubAdapter) SupportsFeature(feature provider.Feature, region string) bool {
	return a.desc.SupportsFeature(feature, region)
}

func (a *stubAdapter) SupportsRegion(region string) bool {
	return a.desc.SupportsRegion(region)
}

// capturePublisher collects provider events. Events arrive on dedicated
// goroutines, so assertions go through eventually-style polling.
type capturePublisher struct {
	mu     sync.Mutex
	events []ProviderEvent
}

func (p *capturePublisher) PublishProviderEvent(event ProviderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) snapshot() []ProviderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ProviderEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) countType(eventType EventType) int {
	n := 0
	for _, e := range p.snapshot() {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

// stubSearchCache serves one primed response and records writes.
type stubSearchCache struct {
	mu      sync.Mutex
	primed  *number.SearchResponse
	sets    int
	lastSet *number.SearchResponse
	lastTTL time.Duration
}

func (c *stubSearchCache) Get(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primed == nil {
		return nil, false
	}
	return c.primed, true
}

func (c *stubSearchCache) Set(ctx context.Context, req *number.SearchRequest, resp *number.SearchResponse, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.lastSet = resp
	c.lastTTL = ttl
}

// stubPortingStore records saves and optionally fails them.
type stubPortingStore struct {
	mu    sync.Mutex
	saved []*number.PortingResponse
	err   error
}

func (s *stubPortingStore) SavePortingRequest(ctx context.Context, req *number.PortingRequest, resp *number.PortingResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, resp)
	return nil
}

func (s *stubPortingStore) savedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

type serviceFixture struct {
	svc       *service
	registry  *Registry
	clock     *fakeClock
	cache     *stubSearchCache
	porting   *stubPortingStore
	publisher *capturePublisher
}

func newServiceFixture(t *testing.T, cfg Config, breakerCfg BreakerConfig, adapters ...Adapter) *serviceFixture {
	t.Helper()

	clock := newFakeClock()
	registry, err := newRegistry(breakerCfg, clock.Now, adapters...)
	require.NoError(t, err)

	cache := &stubSearchCache{}
	porting := &stubPortingStore{}
	publisher := &capturePublisher{}

	svc, err := newService(zaptest.NewLogger(t), cfg, registry, cache, porting, publisher, clock.Now)
	require.NoError(t, err)

	return &serviceFixture{
		svc:       svc,
		registry:  registry,
		clock:     clock,
		cache:     cache,
		porting:   porting,
		publisher: publisher,
	}
}

func (f *serviceFixture) state(t *testing.T, id string) *providerState {
	t.Helper()
	st, ok := f.registry.state(id)
	require.True(t, ok, "no state for provider %s", id)
	return st
}

func searchRequest() *number.SearchRequest {
	return &number.SearchRequest{CountryCode: "US", AreaCode: "212", Limit: 5}
}

func reservationRequest(providerID string) *number.ReservationRequest {
	return &number.ReservationRequest{
		PhoneNumber: "+12125550100",
		ProviderID:  providerID,
		Customer:    testCustomer(),
	}
}

func purchaseRequest(providerID string) *number.PurchaseRequest {
	return &number.PurchaseRequest{
		PhoneNumber: "+12125550100",
		ProviderID:  providerID,
		Customer:    testCustomer(),
	}
}

func portingRequest(phoneNumber string) *number.PortingRequest {
	return &number.PortingRequest{
		PhoneNumber:     phoneNumber,
		CurrentProvider: "legacy-telco",
		AccountNumber:   "ACC-100200",
		PIN:             "4821",
		AuthorizedName:  "Dana Whitfield",
		ServiceAddress:  testAddress(),
	}
}

func testCustomer() number.CustomerInfo {
	return number.CustomerInfo{
		Name:  "Dana Whitfield",
		Email: "dana@example.com",
	}
}

func testAddress() number.Address {
	return number.Address{
		Street:     "100 Main St",
		City:       "New York",
		State:      "NY",
		PostalCode: "10001",
		Country:    "US",
	}
}
