package number

// AvailabilityResult answers a point lookup for one phone number.
// ProviderID names the carrier that reported the number as available
// and is empty when no provider did.
type AvailabilityResult struct {
	PhoneNumber string `json:"phone_number"`
	Available   bool   `json:"available"`
	ProviderID  string `json:"provider_id,omitempty"`
}
