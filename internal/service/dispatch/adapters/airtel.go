package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// AirtelAdapter speaks Airtel's enterprise number-management API. All
// lookups are POSTs, statuses come back uppercase, and port-ins ride the
// Indian MNP process where the subscriber's UPC stands in for a PIN.
type AirtelAdapter struct {
	*carrierClient
}

// NewAirtelAdapter requires an api_token credential.
func NewAirtelAdapter(desc *provider.Descriptor, logger *zap.Logger) (*AirtelAdapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	token := desc.Credentials["api_token"]
	if token == "" {
		return nil, fmt.Errorf("airtel adapter requires an api_token credential")
	}

	a := &AirtelAdapter{}
	a.carrierClient = newCarrierClient(desc, logger, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	})
	return a, nil
}

func airtelServices(features []provider.Feature) []string {
	var services []string
	for _, f := range features {
		switch f {
		case provider.FeatureSMS:
			services = append(services, "SMS")
		case provider.FeatureVoice:
			services = append(services, "VOICE")
		}
	}
	return services
}

func airtelFeatures(services []string) []provider.Feature {
	var features []provider.Feature
	for _, s := range services {
		switch s {
		case "SMS":
			features = append(features, provider.FeatureSMS)
		case "VOICE":
			features = append(features, provider.FeatureVoice)
		}
	}
	return features
}

type airtelNumber struct {
	MSISDN           string   `json:"msisdn"`
	Circle           string   `json:"circle"`
	CircleName       string   `json:"circle_name"`
	MonthlyRental    string   `json:"monthly_rental"`
	ActivationCharge string   `json:"activation_charge"`
	Services         []string `json:"services"`
}

type airtelSearchResponse struct {
	TransactionID string         `json:"transaction_id"`
	Numbers       []airtelNumber `json:"numbers"`
}

// SearchNumbers posts a search order; the carrier's transaction id becomes
// the search id so support can correlate across both systems.
func (a *AirtelAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	body := map[string]interface{}{
		"count": req.Limit,
	}
	if req.Region != "" {
		body["circle"] = req.Region
	}
	if req.Pattern != "" {
		body["pattern"] = req.Pattern
	}
	if req.AreaCode != "" {
		body["series"] = req.AreaCode
	}
	if services := airtelServices(req.Features); len(services) > 0 {
		body["services"] = services
	}

	start := time.Now()
	var out airtelSearchResponse
	if err := a.doIdempotent(ctx, http.MethodPost, "/v1/numbers/search", nil, body, &out); err != nil {
		return nil, err
	}

	numbers := make([]number.AvailableNumber, 0, len(out.Numbers))
	for _, n := range out.Numbers {
		numbers = append(numbers, number.AvailableNumber{
			PhoneNumber: msisdnToE164(n.MSISDN),
			Region:      n.Circle,
			Locality:    n.CircleName,
			MonthlyRate: parseMoney(n.MonthlyRental, values.INR),
			SetupFee:    parseMoney(n.ActivationCharge, values.INR),
			Features:    airtelFeatures(n.Services),
			ProviderID:  a.desc.ID,
		})
	}

	return &number.SearchResponse{
		Numbers:        numbers,
		TotalCount:     len(numbers),
		SearchID:       searchID(out.TransactionID),
		Provider:       a.desc.ID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

type airtelHold struct {
	HoldID     string `json:"hold_id"`
	MSISDN     string `json:"msisdn"`
	Status     string `json:"status"`
	ValidUntil string `json:"valid_until"`
	Reason     string `json:"reason"`
}

func (a *AirtelAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	body := map[string]interface{}{
		"msisdn":       strings.TrimPrefix(req.PhoneNumber, "+"),
		"hold_minutes": req.DurationMinutes,
		"customer":     req.Customer.Name,
	}

	var out airtelHold
	if err := a.post(ctx, "/v1/numbers/hold", body, &out); err != nil {
		return nil, err
	}

	resp := &number.ReservationResponse{
		ReservationID: out.HoldID,
		PhoneNumber:   msisdnToE164(out.MSISDN),
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusFailed,
		FailureReason: out.Reason,
	}
	if out.Status == "HELD" {
		resp.Status = number.ReservationStatusReserved
	}
	if t := parseTimestamp(out.ValidUntil); t != nil {
		resp.ExpiresAt = *t
	}
	return resp, nil
}

type airtelActivation struct {
	OrderID          string   `json:"order_id"`
	MSISDN           string   `json:"msisdn"`
	Status           string   `json:"status"`
	ActivatedAt      string   `json:"activated_at"`
	MonthlyRental    string   `json:"monthly_rental"`
	ActivationCharge string   `json:"activation_charge"`
	Services         []string `json:"services"`
	Reason           string   `json:"reason"`
}

func (a *AirtelAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	body := map[string]interface{}{
		"msisdn":         strings.TrimPrefix(req.PhoneNumber, "+"),
		"customer_name":  req.Customer.Name,
		"customer_email": req.Customer.Email,
	}
	if req.ReservationID != "" {
		body["hold_id"] = req.ReservationID
	}

	var out airtelActivation
	if err := a.post(ctx, "/v1/numbers/activate", body, &out); err != nil {
		return nil, err
	}

	resp := &number.PurchaseResponse{
		PurchaseID:    out.OrderID,
		PhoneNumber:   msisdnToE164(out.MSISDN),
		Provider:      a.desc.ID,
		Status:        airtelActivationStatus(out.Status),
		MonthlyRate:   parseMoney(out.MonthlyRental, values.INR),
		SetupFee:      parseMoney(out.ActivationCharge, values.INR),
		Features:      airtelFeatures(out.Services),
		FailureReason: out.Reason,
	}
	if resp.Status == number.PurchaseStatusPurchased {
		resp.ActivationDate = parseTimestamp(out.ActivatedAt)
	}
	return resp, nil
}

func airtelActivationStatus(s string) number.PurchaseStatus {
	switch s {
	case "ACTIVE":
		return number.PurchaseStatusPurchased
	case "IN_PROGRESS":
		return number.PurchaseStatusPending
	default:
		return number.PurchaseStatusFailed
	}
}

type airtelPortIn struct {
	PortID             string `json:"port_id"`
	MSISDN             string `json:"msisdn"`
	Status             string `json:"status"`
	ExpectedCompletion string `json:"expected_completion"`
	RejectionReason    string `json:"rejection_reason"`
}

func (a *AirtelAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	body := map[string]interface{}{
		"msisdn":           strings.TrimPrefix(req.PhoneNumber, "+"),
		"current_operator": req.CurrentProvider,
		"account_number":   req.AccountNumber,
		"upc":              req.PIN,
		"subscriber_name":  req.AuthorizedName,
		"address": map[string]string{
			"street":  req.ServiceAddress.Street,
			"city":    req.ServiceAddress.City,
			"state":   req.ServiceAddress.State,
			"pincode": req.ServiceAddress.PostalCode,
			"country": req.ServiceAddress.Country,
		},
	}
	if len(req.Documents) > 0 {
		body["documents"] = req.Documents
	}

	var out airtelPortIn
	if err := a.post(ctx, "/v1/mnp/port-in", body, &out); err != nil {
		return nil, err
	}

	return &number.PortingResponse{
		PortingID:           out.PortID,
		PhoneNumber:         msisdnToE164(out.MSISDN),
		Provider:            a.desc.ID,
		Status:              airtelPortingStatus(out.Status),
		EstimatedCompletion: parseTimestamp(out.ExpectedCompletion),
		RejectionReason:     out.RejectionReason,
	}, nil
}

func airtelPortingStatus(s string) number.PortingStatus {
	switch s {
	case "UPC_ACCEPTED", "SUBMITTED":
		return number.PortingStatusSubmitted
	case "IN_PROGRESS":
		return number.PortingStatusInProgress
	case "UPC_REJECTED", "REJECTED":
		return number.PortingStatusRejected
	default:
		return number.PortingStatusFailed
	}
}

type airtelAvailability struct {
	MSISDN    string `json:"msisdn"`
	Available bool   `json:"available"`
}

// CheckNumberAvailability uses the dedicated lookup; it is a POST but safe
// to repeat.
func (a *AirtelAdapter) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error) {
	body := map[string]interface{}{
		"msisdn": strings.TrimPrefix(phoneNumber.E164(), "+"),
	}

	var out airtelAvailability
	if err := a.doIdempotent(ctx, http.MethodPost, "/v1/numbers/availability", nil, body, &out); err != nil {
		return false, err
	}
	return out.Available, nil
}

func (a *AirtelAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	body := map[string]interface{}{"hold_id": reservationID}

	if err := a.post(ctx, "/v1/numbers/release", body, nil); err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Code == provider.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *AirtelAdapter) HealthProbe(ctx context.Context) error {
	return a.get(ctx, "/v1/account/status", nil, nil)
}
