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

// ExotelAdapter speaks Exotel's account-scoped API for Indian numbers.
// Regions are telecom circles, rentals are INR, and holds stand in for
// reservations.
type ExotelAdapter struct {
	*carrierClient
	accountSID string
}

// NewExotelAdapter requires api_key, api_token and account_sid credentials.
func NewExotelAdapter(desc *provider.Descriptor, logger *zap.Logger) (*ExotelAdapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	key := desc.Credentials["api_key"]
	token := desc.Credentials["api_token"]
	sid := desc.Credentials["account_sid"]
	if key == "" || token == "" || sid == "" {
		return nil, fmt.Errorf("exotel adapter requires api_key, api_token and account_sid credentials")
	}

	a := &ExotelAdapter{accountSID: sid}
	a.carrierClient = newCarrierClient(desc, logger, func(req *http.Request) {
		req.SetBasicAuth(key, token)
	})
	return a, nil
}

func (a *ExotelAdapter) accountPath(suffix string) string {
	return "/v1/Accounts/" + a.accountSID + suffix
}

type exotelNumber struct {
	PhoneNumber   string `json:"PhoneNumber"`
	Circle        string `json:"Circle"`
	CircleName    string `json:"CircleName"`
	MonthlyRental string `json:"MonthlyRental"`
	OneTimeCharge string `json:"OneTimeCharge"`
	SMS           bool   `json:"Sms"`
	Voice         bool   `json:"Voice"`
}

func (n exotelNumber) features() []provider.Feature {
	var features []provider.Feature
	if n.SMS {
		features = append(features, provider.FeatureSMS)
	}
	if n.Voice {
		features = append(features, provider.FeatureVoice)
	}
	return features
}

type exotelSearchResponse struct {
	AvailablePhoneNumbers []exotelNumber `json:"AvailablePhoneNumbers"`
}

// SearchNumbers maps the request onto circle-oriented filters. Exotel has
// no city filter; region doubles as the circle code.
func (a *ExotelAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	query := url.Values{}
	query.Set("Size", strconv.Itoa(req.Limit))
	if req.Region != "" {
		query.Set("Circle", req.Region)
	}
	if req.Pattern != "" {
		query.Set("Pattern", req.Pattern)
	}
	if req.AreaCode != "" {
		query.Set("StartsWith", req.AreaCode)
	}

	start := time.Now()
	var out exotelSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, a.accountPath("/AvailablePhoneNumbers.json"), query, nil, &out); err != nil {
		return nil, err
	}

	numbers := make([]number.AvailableNumber, 0, len(out.AvailablePhoneNumbers))
	for _, n := range out.AvailablePhoneNumbers {
		numbers = append(numbers, number.AvailableNumber{
			PhoneNumber: n.PhoneNumber,
			Region:      n.Circle,
			Locality:    n.CircleName,
			MonthlyRate: parseMoney(n.MonthlyRental, values.INR),
			SetupFee:    parseMoney(n.OneTimeCharge, values.INR),
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

type exotelHold struct {
	HoldSid     string `json:"HoldSid"`
	PhoneNumber string `json:"PhoneNumber"`
	Status      string `json:"Status"`
	ValidTill   string `json:"ValidTill"`
	Reason      string `json:"Reason"`
}

func (a *ExotelAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	body := map[string]interface{}{
		"PhoneNumber":  req.PhoneNumber,
		"HoldMinutes":  req.DurationMinutes,
		"CustomerName": req.Customer.Name,
	}

	var out exotelHold
	if err := a.post(ctx, a.accountPath("/NumberHolds.json"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.ReservationResponse{
		ReservationID: out.HoldSid,
		PhoneNumber:   out.PhoneNumber,
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusFailed,
		FailureReason: out.Reason,
	}
	if out.Status == "held" {
		resp.Status = number.ReservationStatusReserved
	}
	if t := parseTimestamp(out.ValidTill); t != nil {
		resp.ExpiresAt = *t
	}
	return resp, nil
}

type exotelPurchase struct {
	Sid           string `json:"Sid"`
	PhoneNumber   string `json:"PhoneNumber"`
	Status        string `json:"Status"`
	DateCreated   string `json:"DateCreated"`
	MonthlyRental string `json:"MonthlyRental"`
	OneTimeCharge string `json:"OneTimeCharge"`
	SMS           bool   `json:"Sms"`
	Voice         bool   `json:"Voice"`
	Reason        string `json:"Reason"`
}

func (a *ExotelAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	body := map[string]interface{}{
		"PhoneNumber":   req.PhoneNumber,
		"CustomerName":  req.Customer.Name,
		"CustomerEmail": req.Customer.Email,
	}
	if req.ReservationID != "" {
		body["HoldSid"] = req.ReservationID
	}

	var out exotelPurchase
	if err := a.post(ctx, a.accountPath("/IncomingPhoneNumbers.json"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.PurchaseResponse{
		PurchaseID:    out.Sid,
		PhoneNumber:   out.PhoneNumber,
		Provider:      a.desc.ID,
		Status:        exotelPurchaseStatus(out.Status),
		MonthlyRate:   parseMoney(out.MonthlyRental, values.INR),
		SetupFee:      parseMoney(out.OneTimeCharge, values.INR),
		FailureReason: out.Reason,
	}
	if out.SMS {
		resp.Features = append(resp.Features, provider.FeatureSMS)
	}
	if out.Voice {
		resp.Features = append(resp.Features, provider.FeatureVoice)
	}
	if resp.Status == number.PurchaseStatusPurchased {
		resp.ActivationDate = parseTimestamp(out.DateCreated)
	}
	return resp, nil
}

func exotelPurchaseStatus(s string) number.PurchaseStatus {
	switch s {
	case "active":
		return number.PurchaseStatusPurchased
	case "provisioning":
		return number.PurchaseStatusPending
	default:
		return number.PurchaseStatusFailed
	}
}

type exotelPortRequest struct {
	PortSid            string `json:"PortSid"`
	PhoneNumber        string `json:"PhoneNumber"`
	Status             string `json:"Status"`
	ExpectedCompletion string `json:"ExpectedCompletion"`
	RejectionReason    string `json:"RejectionReason"`
}

func (a *ExotelAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	body := map[string]interface{}{
		"PhoneNumber":     req.PhoneNumber,
		"CurrentOperator": req.CurrentProvider,
		"AccountNumber":   req.AccountNumber,
		"Pin":             req.PIN,
		"AuthorizedName":  req.AuthorizedName,
		"Address": map[string]string{
			"Street":     req.ServiceAddress.Street,
			"City":       req.ServiceAddress.City,
			"State":      req.ServiceAddress.State,
			"PostalCode": req.ServiceAddress.PostalCode,
			"Country":    req.ServiceAddress.Country,
		},
	}
	if len(req.Documents) > 0 {
		body["Documents"] = req.Documents
	}

	var out exotelPortRequest
	if err := a.post(ctx, a.accountPath("/PortRequests.json"), body, &out); err != nil {
		return nil, err
	}

	status := number.PortingStatusFailed
	switch out.Status {
	case "submitted":
		status = number.PortingStatusSubmitted
	case "processing":
		status = number.PortingStatusInProgress
	case "rejected":
		status = number.PortingStatusRejected
	}

	return &number.PortingResponse{
		PortingID:           out.PortSid,
		PhoneNumber:         out.PhoneNumber,
		Provider:            a.desc.ID,
		Status:              status,
		EstimatedCompletion: parseTimestamp(out.ExpectedCompletion),
		RejectionReason:     out.RejectionReason,
	}, nil
}

func (a *ExotelAdapter) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error) {
	query := url.Values{}
	query.Set("Pattern", phoneNumber.NationalNumber())
	query.Set("Size", "1")

	var out exotelSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, a.accountPath("/AvailablePhoneNumbers.json"), query, nil, &out); err != nil {
		return false, err
	}

	for _, n := range out.AvailablePhoneNumbers {
		if n.PhoneNumber == phoneNumber.E164() {
			return true, nil
		}
	}
	return false, nil
}

func (a *ExotelAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	err := a.del(ctx, a.accountPath("/NumberHolds/"+reservationID+".json"))
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Code == provider.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *ExotelAdapter) HealthProbe(ctx context.Context) error {
	return a.get(ctx, a.accountPath(".json"), nil, nil)
}
