package dispatch

import (
	"sort"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

// candidate pairs an adapter with its per-provider state for one dispatch
// pass.
type candidate struct {
	adapter Adapter
	state   *providerState
}

// selectCandidates returns the adapters eligible for feature in region,
// sorted ascending by priority. The sort is stable, so equal priorities
// keep registry (ascending-id) order and repeated calls under unchanged
// state return the same sequence.
//
// Eligibility, applied in order per adapter: descriptor enabled, breaker
// gate (an OPEN breaker past its NextAttemptAt flips to HALF_OPEN here and
// passes), health eligibility, feature capability in region, region
// service.
func selectCandidates(r *Registry, feature provider.Feature, region string) []candidate {
	out := make([]candidate, 0, r.Len())

	for _, id := range r.ids {
		adapter := r.adapters[id]
		st := r.states[id]

		if !adapter.Descriptor().Enabled {
			continue
		}
		if !st.gate() {
			continue
		}
		if !adapter.SupportsFeature(feature, region) {
			continue
		}
		if region != "" && !adapter.SupportsRegion(region) {
			continue
		}
		out = append(out, candidate{adapter: adapter, state: st})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].adapter.Descriptor().Priority < out[j].adapter.Descriptor().Priority
	})
	return out
}
