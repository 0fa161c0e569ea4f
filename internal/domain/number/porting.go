package number

import (
	"strings"
	"time"
)

// PortingStatus tracks a port-in request through its lifecycle. Carriers
// answer with submitted, rejected, or failed; the remaining statuses are
// applied as the port progresses after submission.
type PortingStatus string

const (
	PortingStatusSubmitted  PortingStatus = "submitted"
	PortingStatusRejected   PortingStatus = "rejected"
	PortingStatusFailed     PortingStatus = "failed"
	PortingStatusInProgress PortingStatus = "in_progress"
	PortingStatusCompleted  PortingStatus = "completed"
	PortingStatusCancelled  PortingStatus = "cancelled"
)

// IsValid reports whether the status is one the system recognizes
func (s PortingStatus) IsValid() bool {
	switch s {
	case PortingStatusSubmitted, PortingStatusRejected, PortingStatusFailed,
		PortingStatusInProgress, PortingStatusCompleted, PortingStatusCancelled:
		return true
	}
	return false
}

// PortingRequest asks to move a number from its current carrier. The PIN
// and account number authenticate the request with the losing carrier.
type PortingRequest struct {
	PhoneNumber     string   `json:"phone_number" validate:"required,e164"`
	CurrentProvider string   `json:"current_provider" validate:"required,max=255"`
	AccountNumber   string   `json:"account_number" validate:"required,max=64"`
	PIN             string   `json:"pin" validate:"required,min=3,max=16"`
	AuthorizedName  string   `json:"authorized_name" validate:"required,max=255"`
	ServiceAddress  Address  `json:"service_address"`
	Documents       []string `json:"documents,omitempty" validate:"omitempty,dive,max=512"`
}

// Validate normalizes the request and enforces the struct tag constraints,
// including the nested service address.
func (r *PortingRequest) Validate() error {
	r.CurrentProvider = strings.TrimSpace(r.CurrentProvider)
	r.AccountNumber = strings.TrimSpace(r.AccountNumber)
	r.AuthorizedName = strings.TrimSpace(r.AuthorizedName)
	r.ServiceAddress.normalize()

	return checkTags(r)
}

// PortingResponse reports the submission outcome. Rejected is a business
// result from the gaining carrier and is returned, never retried elsewhere.
type PortingResponse struct {
	PortingID           string        `json:"porting_id"`
	PhoneNumber         string        `json:"phone_number"`
	Provider            string        `json:"provider"`
	Status              PortingStatus `json:"status"`
	EstimatedCompletion *time.Time    `json:"estimated_completion,omitempty"`
	RejectionReason     string        `json:"rejection_reason,omitempty"`
}

// Rejected reports whether the gaining carrier declined the port
func (r *PortingResponse) Rejected() bool {
	return r.Status == PortingStatusRejected
}
