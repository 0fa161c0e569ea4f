package dispatch

import (
	"context"
	"time"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// Adapter is the uniform contract every carrier integration implements.
// Implementations normalize carrier errors to *provider.Error at this
// boundary and honor the context deadline on every call.
type Adapter interface {
	SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error)
	ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error)
	PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error)
	PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error)
	CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error)
	ReleaseReservation(ctx context.Context, reservationID string) (bool, error)

	// HealthProbe is a cheap, side-effect-free liveness call used by the
	// health monitor. It never feeds the circuit breaker.
	HealthProbe(ctx context.Context) error

	Descriptor() *provider.Descriptor
	SupportsFeature(feature provider.Feature, region string) bool
	SupportsRegion(region string) bool
}

// Service is the programmatic surface of the dispatch layer.
type Service interface {
	SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error)
	ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error)
	PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error)
	PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error)
	CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (*number.AvailabilityResult, error)
	ReleaseReservation(ctx context.Context, providerID, reservationID string) (bool, error)

	// ProviderHealth and ProviderMetrics return id-keyed snapshots. The
	// returned values are copies; mutating them has no effect.
	ProviderHealth() map[string]provider.Health
	ProviderMetrics() map[string]provider.Metrics
	BreakerStates() map[string]BreakerSnapshot

	// Operator controls. Forced transitions emit state-change events like
	// organic ones.
	ForceBreakerOpen(providerID string) error
	ForceBreakerClose(providerID string) error
	ResetBreaker(providerID string) error
}

// SearchCache is the dispatcher's view of the search result cache. Get
// misses on any backend error; Set failures are logged by the
// implementation and never fail the dispatch. A non-positive ttl on Set
// means the implementation's configured default.
type SearchCache interface {
	Get(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, bool)
	Set(ctx context.Context, req *number.SearchRequest, resp *number.SearchResponse, ttl time.Duration)
}

// PortingStore records porting submissions for later status lookup.
// A nil store disables persistence.
type PortingStore interface {
	SavePortingRequest(ctx context.Context, req *number.PortingRequest, resp *number.PortingResponse) error
}

// EventPublisher receives provider state transitions for fan-out to
// subscribers. Dispatch invokes it on a dedicated goroutine per event, so
// implementations may block briefly but must not panic.
type EventPublisher interface {
	PublishProviderEvent(event ProviderEvent)
}

// ProviderEvent describes a breaker or health transition on one provider.
type ProviderEvent struct {
	Type       EventType `json:"type"`
	ProviderID string    `json:"provider_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventType discriminates provider events on the feed.
type EventType string

const (
	EventBreakerTransition EventType = "breaker_transition"
	EventHealthTransition  EventType = "health_transition"
)
