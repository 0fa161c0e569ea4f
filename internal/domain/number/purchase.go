package number

import (
	"strings"
	"time"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// PurchaseStatus is the carrier's answer to a purchase attempt
type PurchaseStatus string

const (
	PurchaseStatusPurchased PurchaseStatus = "purchased"
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusFailed    PurchaseStatus = "failed"
)

// PurchaseRequest buys a number from one named provider, optionally
// converting an existing reservation.
type PurchaseRequest struct {
	PhoneNumber   string       `json:"phone_number" validate:"required,e164"`
	ProviderID    string       `json:"provider_id" validate:"required,lowercase"`
	ReservationID string       `json:"reservation_id,omitempty" validate:"omitempty,max=255"`
	Customer      CustomerInfo `json:"customer"`
	Billing       *BillingInfo `json:"billing,omitempty"`
}

// Validate normalizes the request and enforces the struct tag constraints,
// including the nested customer and optional billing block.
func (r *PurchaseRequest) Validate() error {
	r.ProviderID = strings.ToLower(strings.TrimSpace(r.ProviderID))
	r.ReservationID = strings.TrimSpace(r.ReservationID)
	r.Customer.normalize()
	if r.Billing != nil {
		r.Billing.normalize()
	}

	return checkTags(r)
}

// PurchaseResponse reports the purchase outcome with carrier pricing.
// Failed and pending are business results, not transport errors.
type PurchaseResponse struct {
	PurchaseID     string             `json:"purchase_id"`
	PhoneNumber    string             `json:"phone_number"`
	Provider       string             `json:"provider"`
	Status         PurchaseStatus     `json:"status"`
	ActivationDate *time.Time         `json:"activation_date,omitempty"`
	MonthlyRate    values.Money       `json:"monthly_rate"`
	SetupFee       values.Money       `json:"setup_fee"`
	Features       []provider.Feature `json:"features,omitempty"`
	FailureReason  string             `json:"failure_reason,omitempty"`
}

// Failed reports whether the carrier declined the purchase
func (r *PurchaseResponse) Failed() bool {
	return r.Status == PurchaseStatusFailed
}
