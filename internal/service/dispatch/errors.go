package dispatch

import (
	"fmt"
	"strings"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
)

// Attempt records one failed adapter try during a failover pass.
type Attempt struct {
	ProviderID string          `json:"provider_id"`
	Err        *provider.Error `json:"error"`
}

// AllProvidersFailedError is terminal: every eligible adapter was tried
// once and none succeeded. Attempts preserves try order with each
// provider's last error.
type AllProvidersFailedError struct {
	Operation string    `json:"operation"`
	Attempts  []Attempt `json:"attempts"`
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("all providers failed for %s: no eligible provider", e.Operation)
	}
	ids := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		ids[i] = a.ProviderID
	}
	return fmt.Sprintf("all providers failed for %s: attempted %s", e.Operation, strings.Join(ids, ", "))
}

func newAllProvidersFailed(operation string, attempts []Attempt) *AllProvidersFailedError {
	return &AllProvidersFailedError{Operation: operation, Attempts: attempts}
}
