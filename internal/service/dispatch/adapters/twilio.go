package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

const twilioAPIVersion = "2010-04-01"

// TwilioAdapter speaks Twilio's provisioning API. Authentication is HTTP
// basic with the account sid and auth token; prices come back in USD.
type TwilioAdapter struct {
	*carrierClient
	accountSID string
}

// NewTwilioAdapter requires account_sid and auth_token credentials on the
// descriptor.
func NewTwilioAdapter(desc *provider.Descriptor, logger *zap.Logger) (*TwilioAdapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sid := desc.Credentials["account_sid"]
	token := desc.Credentials["auth_token"]
	if sid == "" || token == "" {
		return nil, fmt.Errorf("twilio adapter requires account_sid and auth_token credentials")
	}

	a := &TwilioAdapter{accountSID: sid}
	a.carrierClient = newCarrierClient(desc, logger, func(req *http.Request) {
		req.SetBasicAuth(sid, token)
	})
	return a, nil
}

func (a *TwilioAdapter) accountPath(suffix string) string {
	return fmt.Sprintf("/%s/Accounts/%s%s", twilioAPIVersion, a.accountSID, suffix)
}

type twilioAvailableNumber struct {
	PhoneNumber  string `json:"phone_number"`
	Region       string `json:"region"`
	Locality     string `json:"locality"`
	MonthlyPrice string `json:"monthly_price"`
	SetupPrice   string `json:"setup_price"`
	Capabilities struct {
		SMS   bool `json:"sms"`
		Voice bool `json:"voice"`
	} `json:"capabilities"`
}

func (n twilioAvailableNumber) features() []provider.Feature {
	var features []provider.Feature
	if n.Capabilities.SMS {
		features = append(features, provider.FeatureSMS)
	}
	if n.Capabilities.Voice {
		features = append(features, provider.FeatureVoice)
	}
	return features
}

type twilioSearchResponse struct {
	AvailablePhoneNumbers []twilioAvailableNumber `json:"available_phone_numbers"`
}

func (a *TwilioAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	query := url.Values{}
	query.Set("PageSize", strconv.Itoa(req.Limit))
	if req.AreaCode != "" {
		query.Set("AreaCode", req.AreaCode)
	}
	if req.City != "" {
		query.Set("InLocality", req.City)
	}
	if req.Region != "" {
		query.Set("InRegion", req.Region)
	}
	if req.Pattern != "" {
		query.Set("Contains", req.Pattern)
	}
	for _, f := range req.Features {
		switch f {
		case provider.FeatureSMS:
			query.Set("SmsEnabled", "true")
		case provider.FeatureVoice:
			query.Set("VoiceEnabled", "true")
		}
	}

	start := time.Now()
	var out twilioSearchResponse
	path := a.accountPath("/AvailablePhoneNumbers/" + req.CountryCode + "/Local.json")
	if err := a.doIdempotent(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return nil, err
	}

	numbers := make([]number.AvailableNumber, 0, len(out.AvailablePhoneNumbers))
	for _, n := range out.AvailablePhoneNumbers {
		numbers = append(numbers, number.AvailableNumber{
			PhoneNumber: n.PhoneNumber,
			Region:      n.Region,
			Locality:    n.Locality,
			MonthlyRate: parseMoney(n.MonthlyPrice, values.USD),
			SetupFee:    parseMoney(n.SetupPrice, values.USD),
			Features:    n.features(),
			ProviderID:  a.desc.ID,
		})
	}

	return &number.SearchResponse{
		Numbers:        numbers,
		TotalCount:     len(numbers),
		SearchID:       searchID(""),
		Provider:       a.desc.ID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

type twilioReservation struct {
	ReservationSID string `json:"reservation_sid"`
	PhoneNumber    string `json:"phone_number"`
	Status         string `json:"status"`
	ExpiresAt      string `json:"expires_at"`
	FailureReason  string `json:"failure_reason"`
}

func (a *TwilioAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	body := map[string]interface{}{
		"phone_number":       req.PhoneNumber,
		"ttl_minutes":        req.DurationMinutes,
		"customer_reference": req.Customer.Email,
	}

	var out twilioReservation
	if err := a.post(ctx, a.accountPath("/NumberReservations.json"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.ReservationResponse{
		ReservationID: out.ReservationSID,
		PhoneNumber:   out.PhoneNumber,
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusFailed,
		FailureReason: out.FailureReason,
	}
	if out.Status == "reserved" {
		resp.Status = number.ReservationStatusReserved
	}
	if t := parseTimestamp(out.ExpiresAt); t != nil {
		resp.ExpiresAt = *t
	}
	return resp, nil
}

type twilioPurchase struct {
	SID          string `json:"sid"`
	PhoneNumber  string `json:"phone_number"`
	Status       string `json:"status"`
	DateCreated  string `json:"date_created"`
	MonthlyPrice string `json:"monthly_price"`
	SetupPrice   string `json:"setup_price"`
	Capabilities struct {
		SMS   bool `json:"sms"`
		Voice bool `json:"voice"`
	} `json:"capabilities"`
	FailureReason string `json:"failure_reason"`
}

func (a *TwilioAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	body := map[string]interface{}{
		"phone_number":  req.PhoneNumber,
		"friendly_name": req.Customer.Name,
		"email":         req.Customer.Email,
	}
	if req.ReservationID != "" {
		body["reservation_sid"] = req.ReservationID
	}
	if req.Billing != nil && req.Billing.PaymentReference != "" {
		body["payment_reference"] = req.Billing.PaymentReference
	}

	var out twilioPurchase
	if err := a.post(ctx, a.accountPath("/IncomingPhoneNumbers.json"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.PurchaseResponse{
		PurchaseID:    out.SID,
		PhoneNumber:   out.PhoneNumber,
		Provider:      a.desc.ID,
		Status:        twilioPurchaseStatus(out.Status),
		MonthlyRate:   parseMoney(out.MonthlyPrice, values.USD),
		SetupFee:      parseMoney(out.SetupPrice, values.USD),
		FailureReason: out.FailureReason,
	}
	if out.Capabilities.SMS {
		resp.Features = append(resp.Features, provider.FeatureSMS)
	}
	if out.Capabilities.Voice {
		resp.Features = append(resp.Features, provider.FeatureVoice)
	}
	if resp.Status == number.PurchaseStatusPurchased {
		resp.ActivationDate = parseTimestamp(out.DateCreated)
	}
	return resp, nil
}

func twilioPurchaseStatus(s string) number.PurchaseStatus {
	switch s {
	case "in_use", "purchased":
		return number.PurchaseStatusPurchased
	case "pending":
		return number.PurchaseStatusPending
	default:
		return number.PurchaseStatusFailed
	}
}

type twilioPortIn struct {
	PortInSID           string `json:"port_in_sid"`
	PhoneNumber         string `json:"phone_number"`
	Status              string `json:"status"`
	EstimatedCompletion string `json:"estimated_completion"`
	RejectionReason     string `json:"rejection_reason"`
}

func (a *TwilioAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	body := map[string]interface{}{
		"phone_number":    req.PhoneNumber,
		"losing_carrier":  req.CurrentProvider,
		"account_number":  req.AccountNumber,
		"pin":             req.PIN,
		"authorized_name": req.AuthorizedName,
		"address": map[string]string{
			"street":      req.ServiceAddress.Street,
			"city":        req.ServiceAddress.City,
			"state":       req.ServiceAddress.State,
			"postal_code": req.ServiceAddress.PostalCode,
			"country":     req.ServiceAddress.Country,
		},
	}
	if len(req.Documents) > 0 {
		body["documents"] = req.Documents
	}

	var out twilioPortIn
	if err := a.post(ctx, a.accountPath("/Porting/PortIn.json"), body, &out); err != nil {
		return nil, err
	}

	return &number.PortingResponse{
		PortingID:           out.PortInSID,
		PhoneNumber:         out.PhoneNumber,
		Provider:            a.desc.ID,
		Status:              twilioPortingStatus(out.Status),
		EstimatedCompletion: parseTimestamp(out.EstimatedCompletion),
		RejectionReason:     out.RejectionReason,
	}, nil
}

func twilioPortingStatus(s string) number.PortingStatus {
	switch s {
	case "submitted", "accepted":
		return number.PortingStatusSubmitted
	case "rejected":
		return number.PortingStatusRejected
	default:
		return number.PortingStatusFailed
	}
}

// CheckNumberAvailability reuses the search endpoint with a Contains filter;
// Twilio has no dedicated point lookup.
func (a *TwilioAdapter) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error) {
	country, err := phoneNumber.Country()
	if err != nil {
		return false, provider.NewBusinessError(a.desc.ID, provider.ErrCodeInvalidRequest,
			"cannot infer country from phone number")
	}

	query := url.Values{}
	query.Set("Contains", phoneNumber.NationalNumber())
	query.Set("PageSize", "1")

	var out twilioSearchResponse
	path := a.accountPath("/AvailablePhoneNumbers/" + country + "/Local.json")
	if err := a.doIdempotent(ctx, http.MethodGet, path, query, nil, &out); err != nil {
		return false, err
	}

	for _, n := range out.AvailablePhoneNumbers {
		if n.PhoneNumber == phoneNumber.E164() {
			return true, nil
		}
	}
	return false, nil
}

// ReleaseReservation treats a 404 as an already-expired hold rather than a
// failure; everything else surfaces.
func (a *TwilioAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	err := a.del(ctx, a.accountPath("/NumberReservations/"+reservationID+".json"))
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Code == provider.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// HealthProbe fetches the account resource, the cheapest authenticated call
// Twilio offers.
func (a *TwilioAdapter) HealthProbe(ctx context.Context) error {
	return a.get(ctx, a.accountPath(".json"), nil, nil)
}
