package dispatch

import (
	"fmt"
	"sort"
	"time"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
)

// Registry holds the carrier adapters and owns one providerState per
// adapter. Immutable after construction; tests inject adapters through the
// constructor rather than reaching into maps.
type Registry struct {
	adapters map[string]Adapter
	states   map[string]*providerState
	ids      []string
}

// NewRegistry validates and indexes the given adapters. Adapter ids must be
// unique and non-empty; every adapter needs a descriptor.
func NewRegistry(breakerCfg BreakerConfig, adapters ...Adapter) (*Registry, error) {
	return newRegistry(breakerCfg, time.Now, adapters...)
}

func newRegistry(breakerCfg BreakerConfig, now func() time.Time, adapters ...Adapter) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(adapters)),
		states:   make(map[string]*providerState, len(adapters)),
		ids:      make([]string, 0, len(adapters)),
	}

	for _, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("registry: nil adapter")
		}
		desc := adapter.Descriptor()
		if desc == nil {
			return nil, fmt.Errorf("registry: adapter without descriptor")
		}
		if desc.ID == "" {
			return nil, fmt.Errorf("registry: adapter with empty id")
		}
		if _, exists := r.adapters[desc.ID]; exists {
			return nil, fmt.Errorf("registry: duplicate adapter id %q", desc.ID)
		}
		r.adapters[desc.ID] = adapter
		r.states[desc.ID] = newProviderState(desc.ID, breakerCfg, now)
		r.ids = append(r.ids, desc.ID)
	}

	sort.Strings(r.ids)
	return r, nil
}

// Get returns the adapter registered under id.
func (r *Registry) Get(id string) (Adapter, error) {
	adapter, ok := r.adapters[id]
	if !ok {
		return nil, errors.NewNotFoundError("provider").
			WithDetails(map[string]interface{}{"provider_id": id})
	}
	return adapter, nil
}

// All returns the adapters in ascending-id order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.adapters[id])
	}
	return out
}

// IDs returns the registered adapter ids in ascending order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Len reports the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.ids)
}

func (r *Registry) state(id string) (*providerState, bool) {
	st, ok := r.states[id]
	return st, ok
}

// setTransitionHandler installs the breaker transition callback on every
// provider state. Called once during service construction, before any
// traffic is dispatched.
func (r *Registry) setTransitionHandler(fn func(providerID string, from, to BreakerState, reason string)) {
	for _, st := range r.states {
		st.onTransition = fn
	}
}
