package number

import (
	"strings"
	"time"
)

// ReservationStatus is the carrier's answer to a reservation attempt
type ReservationStatus string

const (
	ReservationStatusReserved ReservationStatus = "reserved"
	ReservationStatusFailed   ReservationStatus = "failed"
)

const (
	// DefaultReservationMinutes applies when a request omits the hold duration
	DefaultReservationMinutes = 15
	// MaxReservationMinutes caps how long a number may be held unpurchased
	MaxReservationMinutes = 1440
)

// ReservationRequest asks one named provider to hold a number
type ReservationRequest struct {
	PhoneNumber     string       `json:"phone_number" validate:"required,e164"`
	ProviderID      string       `json:"provider_id" validate:"required,lowercase"`
	DurationMinutes int          `json:"duration_minutes,omitempty" validate:"omitempty,min=1,max=1440"`
	Customer        CustomerInfo `json:"customer"`
}

// Validate normalizes the request, applies the default hold duration, and
// enforces the struct tag constraints, including the nested customer.
func (r *ReservationRequest) Validate() error {
	r.ProviderID = strings.ToLower(strings.TrimSpace(r.ProviderID))
	if r.DurationMinutes <= 0 {
		r.DurationMinutes = DefaultReservationMinutes
	}
	r.Customer.normalize()

	return checkTags(r)
}

// ReservationResponse reports the hold outcome. A failed status is a
// business result from the carrier, not a transport error.
type ReservationResponse struct {
	ReservationID string            `json:"reservation_id"`
	PhoneNumber   string            `json:"phone_number"`
	Provider      string            `json:"provider"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Status        ReservationStatus `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Failed reports whether the carrier declined the reservation
func (r *ReservationResponse) Failed() bool {
	return r.Status == ReservationStatusFailed
}
