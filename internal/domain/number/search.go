// Package number holds the carrier-agnostic request and response types
// exchanged between callers, the dispatcher, and provider adapters.
package number

import (
	"strings"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

const (
	// DefaultSearchLimit applies when a search request omits limit
	DefaultSearchLimit = 10
	// MaxSearchLimit bounds the response size regardless of what was asked
	MaxSearchLimit = 100
)

// SearchRequest describes an available-number search across carriers
type SearchRequest struct {
	CountryCode string             `json:"country_code" validate:"required,len=2,alpha"`
	AreaCode    string             `json:"area_code,omitempty" validate:"omitempty,numeric,min=2,max=5"`
	City        string             `json:"city,omitempty" validate:"omitempty,max=100"`
	Region      string             `json:"region,omitempty" validate:"omitempty,max=10"`
	Pattern     string             `json:"pattern,omitempty" validate:"omitempty,max=20"`
	Features    []provider.Feature `json:"features,omitempty"`
	Limit       int                `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
}

// Validate normalizes the request in place, applies limit defaults, and
// evaluates the field constraints declared on the struct tags.
// Normalization happens first so cache keys and adapter calls see one form.
func (r *SearchRequest) Validate() error {
	r.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	if len(r.CountryCode) != 2 {
		return errors.NewValidationError("INVALID_COUNTRY", "country code must be ISO 3166-1 alpha-2")
	}

	r.AreaCode = strings.TrimSpace(r.AreaCode)
	r.City = strings.TrimSpace(r.City)
	r.Region = strings.ToUpper(strings.TrimSpace(r.Region))
	r.Pattern = strings.TrimSpace(r.Pattern)

	if r.Limit <= 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.Limit > MaxSearchLimit {
		r.Limit = MaxSearchLimit
	}

	if err := checkTags(r); err != nil {
		return err
	}

	for _, f := range r.Features {
		if !f.IsValid() {
			return errors.NewValidationError("INVALID_FEATURE", "unknown feature: "+string(f))
		}
	}
	return nil
}

// AvailableNumber is one purchasable number in a search response
type AvailableNumber struct {
	PhoneNumber string             `json:"phone_number"`
	Region      string             `json:"region,omitempty"`
	Locality    string             `json:"locality,omitempty"`
	MonthlyRate values.Money       `json:"monthly_rate"`
	SetupFee    values.Money       `json:"setup_fee"`
	Features    []provider.Feature `json:"features,omitempty"`
	ProviderID  string             `json:"provider_id"`
}

// SearchResponse is the outcome of a search dispatched to one carrier
type SearchResponse struct {
	Numbers        []AvailableNumber `json:"numbers"`
	TotalCount     int               `json:"total_count"`
	SearchID       string            `json:"search_id"`
	Provider       string            `json:"provider"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	Cached         bool              `json:"cached"`
}
