package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/provider"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
)

// VonageAdapter speaks the Vonage (Nexmo) numbers API. Credentials travel
// as api_key/api_secret query parameters, msisdns come back without the
// leading plus, and write endpoints answer HTTP 200 with an error-code
// envelope where "200" means success. Prices are EUR.
type VonageAdapter struct {
	*carrierClient
}

// NewVonageAdapter requires api_key and api_secret credentials.
func NewVonageAdapter(desc *provider.Descriptor, logger *zap.Logger) (*VonageAdapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	key := desc.Credentials["api_key"]
	secret := desc.Credentials["api_secret"]
	if key == "" || secret == "" {
		return nil, fmt.Errorf("vonage adapter requires api_key and api_secret credentials")
	}

	a := &VonageAdapter{}
	a.carrierClient = newCarrierClient(desc, logger, func(req *http.Request) {
		q := req.URL.Query()
		q.Set("api_key", key)
		q.Set("api_secret", secret)
		req.URL.RawQuery = q.Encode()
	})
	return a, nil
}

// msisdnToE164 restores the leading plus carriers strip from msisdns.
func msisdnToE164(msisdn string) string {
	if msisdn == "" || strings.HasPrefix(msisdn, "+") {
		return msisdn
	}
	return "+" + msisdn
}

type vonageEnvelope struct {
	ErrorCode      string `json:"error-code"`
	ErrorCodeLabel string `json:"error-code-label"`
}

// envelopeError turns a non-200 error-code into a typed failure, or nil
// when the carrier accepted the call.
func (a *VonageAdapter) envelopeError(env vonageEnvelope) error {
	switch env.ErrorCode {
	case "", "200":
		return nil
	case "401", "403":
		return provider.NewBusinessError(a.desc.ID, provider.ErrCodeUnauthorized, env.ErrorCodeLabel)
	case "420", "429":
		return provider.NewTransportError(a.desc.ID, provider.ErrCodeRateLimited, env.ErrorCodeLabel)
	default:
		return provider.NewBusinessError(a.desc.ID, provider.ErrCodeInvalidRequest,
			fmt.Sprintf("carrier error %s: %s", env.ErrorCode, env.ErrorCodeLabel))
	}
}

type vonageNumber struct {
	Country  string   `json:"country"`
	MSISDN   string   `json:"msisdn"`
	Type     string   `json:"type"`
	Cost     string   `json:"cost"`
	Features []string `json:"features"`
}

func vonageFeatures(features []string) []provider.Feature {
	var out []provider.Feature
	for _, f := range features {
		switch f {
		case "SMS":
			out = append(out, provider.FeatureSMS)
		case "VOICE":
			out = append(out, provider.FeatureVoice)
		}
	}
	return out
}

type vonageSearchResponse struct {
	Count   int            `json:"count"`
	Numbers []vonageNumber `json:"numbers"`
}

func (a *VonageAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	query := url.Values{}
	query.Set("country", req.CountryCode)
	query.Set("size", strconv.Itoa(req.Limit))
	if req.Pattern != "" {
		query.Set("pattern", req.Pattern)
		query.Set("search_pattern", "1")
	} else if req.AreaCode != "" {
		query.Set("pattern", req.AreaCode)
		query.Set("search_pattern", "0")
	}
	if len(req.Features) > 0 {
		wanted := make([]string, 0, len(req.Features))
		for _, f := range req.Features {
			switch f {
			case provider.FeatureSMS:
				wanted = append(wanted, "SMS")
			case provider.FeatureVoice:
				wanted = append(wanted, "VOICE")
			}
		}
		if len(wanted) > 0 {
			query.Set("features", strings.Join(wanted, ","))
		}
	}

	start := time.Now()
	var out vonageSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, "/number/search", query, nil, &out); err != nil {
		return nil, err
	}

	numbers := make([]number.AvailableNumber, 0, len(out.Numbers))
	for _, n := range out.Numbers {
		numbers = append(numbers, number.AvailableNumber{
			PhoneNumber: msisdnToE164(n.MSISDN),
			Region:      n.Country,
			MonthlyRate: parseMoney(n.Cost, values.EUR),
			SetupFee:    values.Zero(values.EUR),
			Features:    vonageFeatures(n.Features),
			ProviderID:  a.desc.ID,
		})
	}

	total := out.Count
	if total < len(numbers) {
		total = len(numbers)
	}

	return &number.SearchResponse{
		Numbers:        numbers,
		TotalCount:     total,
		SearchID:       searchID(""),
		Provider:       a.desc.ID,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

type vonageReservation struct {
	vonageEnvelope
	ReservationID string `json:"reservation-id"`
	MSISDN        string `json:"msisdn"`
	Expires       string `json:"expires"`
}

func (a *VonageAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	body := map[string]interface{}{
		"country":     countryOrDefault(req.PhoneNumber),
		"msisdn":      strings.TrimPrefix(req.PhoneNumber, "+"),
		"ttl_minutes": req.DurationMinutes,
	}

	var out vonageReservation
	if err := a.post(ctx, "/number/reserve", body, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError(out.vonageEnvelope); err != nil {
		return nil, err
	}

	resp := &number.ReservationResponse{
		ReservationID: out.ReservationID,
		PhoneNumber:   msisdnToE164(out.MSISDN),
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusReserved,
	}
	if t := parseTimestamp(out.Expires); t != nil {
		resp.ExpiresAt = *t
	}
	return resp, nil
}

type vonagePurchase struct {
	vonageEnvelope
	OrderID string `json:"order-id"`
	MSISDN  string `json:"msisdn"`
	Cost    string `json:"cost"`
}

func (a *VonageAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	body := map[string]interface{}{
		"country": countryOrDefault(req.PhoneNumber),
		"msisdn":  strings.TrimPrefix(req.PhoneNumber, "+"),
	}
	if req.ReservationID != "" {
		body["reservation_id"] = req.ReservationID
	}

	var out vonagePurchase
	if err := a.post(ctx, "/number/buy", body, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError(out.vonageEnvelope); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &number.PurchaseResponse{
		PurchaseID:     out.OrderID,
		PhoneNumber:    msisdnToE164(out.MSISDN),
		Provider:       a.desc.ID,
		Status:         number.PurchaseStatusPurchased,
		ActivationDate: &now,
		MonthlyRate:    parseMoney(out.Cost, values.EUR),
		SetupFee:       values.Zero(values.EUR),
	}, nil
}

type vonagePortIn struct {
	vonageEnvelope
	PortID              string `json:"port-id"`
	MSISDN              string `json:"msisdn"`
	Status              string `json:"status"`
	EstimatedCompletion string `json:"estimated-completion"`
	RejectionReason     string `json:"rejection-reason"`
}

func (a *VonageAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	body := map[string]interface{}{
		"country":         countryOrDefault(req.PhoneNumber),
		"msisdn":          strings.TrimPrefix(req.PhoneNumber, "+"),
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

	var out vonagePortIn
	if err := a.post(ctx, "/number/port-in", body, &out); err != nil {
		return nil, err
	}
	if err := a.envelopeError(out.vonageEnvelope); err != nil {
		return nil, err
	}

	status := number.PortingStatusFailed
	switch out.Status {
	case "submitted", "accepted":
		status = number.PortingStatusSubmitted
	case "rejected":
		status = number.PortingStatusRejected
	}

	return &number.PortingResponse{
		PortingID:           out.PortID,
		PhoneNumber:         msisdnToE164(out.MSISDN),
		Provider:            a.desc.ID,
		Status:              status,
		EstimatedCompletion: parseTimestamp(out.EstimatedCompletion),
		RejectionReason:     out.RejectionReason,
	}, nil
}

func (a *VonageAdapter) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error) {
	country, err := phoneNumber.Country()
	if err != nil {
		return false, provider.NewBusinessError(a.desc.ID, provider.ErrCodeInvalidRequest,
			"cannot infer country from phone number")
	}

	query := url.Values{}
	query.Set("country", country)
	query.Set("pattern", phoneNumber.NationalNumber())
	query.Set("search_pattern", "0")
	query.Set("size", "1")

	var out vonageSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, "/number/search", query, nil, &out); err != nil {
		return false, err
	}

	for _, n := range out.Numbers {
		if msisdnToE164(n.MSISDN) == phoneNumber.E164() {
			return true, nil
		}
	}
	return false, nil
}

func (a *VonageAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	body := map[string]interface{}{"reservation_id": reservationID}

	var out vonageEnvelope
	if err := a.post(ctx, "/number/release", body, &out); err != nil {
		return false, err
	}
	// "404" means the hold already lapsed on the carrier side.
	if out.ErrorCode == "404" {
		return false, nil
	}
	if err := a.envelopeError(out); err != nil {
		return false, err
	}
	return true, nil
}

// HealthProbe uses the balance endpoint; it is the lightest call that
// still exercises authentication.
func (a *VonageAdapter) HealthProbe(ctx context.Context) error {
	return a.get(ctx, "/account/get-balance", nil, nil)
}

// countryOrDefault extracts the ISO country from an E.164 string, falling
// back to US when the prefix is unknown.
func countryOrDefault(phoneNumber string) string {
	p, err := values.NewPhoneNumber(phoneNumber)
	if err != nil {
		return "US"
	}
	if c, err := p.Country(); err == nil {
		return c
	}
	return "US"
}
