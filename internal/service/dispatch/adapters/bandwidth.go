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

// BandwidthAdapter speaks Bandwidth's account-scoped dashboard API. Order
// and port-in statuses come back uppercase; a port-in completion estimate
// is the FOC (firm order commitment) date.
type BandwidthAdapter struct {
	*carrierClient
	accountID string
}

// NewBandwidthAdapter requires username, password and account_id credentials.
func NewBandwidthAdapter(desc *provider.Descriptor, logger *zap.Logger) (*BandwidthAdapter, error) {
	if desc == nil {
		return nil, fmt.Errorf("descriptor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	username := desc.Credentials["username"]
	password := desc.Credentials["password"]
	accountID := desc.Credentials["account_id"]
	if username == "" || password == "" || accountID == "" {
		return nil, fmt.Errorf("bandwidth adapter requires username, password and account_id credentials")
	}

	a := &BandwidthAdapter{accountID: accountID}
	a.carrierClient = newCarrierClient(desc, logger, func(req *http.Request) {
		req.SetBasicAuth(username, password)
	})
	return a, nil
}

func (a *BandwidthAdapter) accountPath(suffix string) string {
	return "/api/v2/accounts/" + a.accountID + suffix
}

type bandwidthNumber struct {
	TelephoneNumber string   `json:"telephoneNumber"`
	State           string   `json:"state"`
	RateCenter      string   `json:"rateCenter"`
	MonthlyRate     string   `json:"monthlyRate"`
	SetupFee        string   `json:"setupFee"`
	Capabilities    []string `json:"capabilities"`
}

func bandwidthFeatures(capabilities []string) []provider.Feature {
	var features []provider.Feature
	for _, c := range capabilities {
		switch c {
		case "SMS":
			features = append(features, provider.FeatureSMS)
		case "VOICE":
			features = append(features, provider.FeatureVoice)
		}
	}
	return features
}

type bandwidthSearchResponse struct {
	TelephoneNumberList []bandwidthNumber `json:"telephoneNumberList"`
	ResultCount         int               `json:"resultCount"`
}

func (a *BandwidthAdapter) SearchNumbers(ctx context.Context, req *number.SearchRequest) (*number.SearchResponse, error) {
	query := url.Values{}
	query.Set("quantity", strconv.Itoa(req.Limit))
	if req.AreaCode != "" {
		query.Set("areaCode", req.AreaCode)
	}
	if req.City != "" {
		query.Set("city", req.City)
	}
	if req.Region != "" {
		query.Set("state", req.Region)
	}
	if req.Pattern != "" {
		query.Set("localVanity", req.Pattern)
	}

	start := time.Now()
	var out bandwidthSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, a.accountPath("/availableNumbers"), query, nil, &out); err != nil {
		return nil, err
	}

	numbers := make([]number.AvailableNumber, 0, len(out.TelephoneNumberList))
	for _, n := range out.TelephoneNumberList {
		numbers = append(numbers, number.AvailableNumber{
			PhoneNumber: n.TelephoneNumber,
			Region:      n.State,
			Locality:    n.RateCenter,
			MonthlyRate: parseMoney(n.MonthlyRate, values.USD),
			SetupFee:    parseMoney(n.SetupFee, values.USD),
			Features:    bandwidthFeatures(n.Capabilities),
			ProviderID:  a.desc.ID,
		})
	}

	total := out.ResultCount
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

type bandwidthReservation struct {
	ReservationID     string `json:"reservationId"`
	ReservedTn        string `json:"reservedTn"`
	ReservationStatus string `json:"reservationStatus"`
	ExpirationTime    string `json:"expirationTime"`
	FailureReason     string `json:"failureReason"`
}

func (a *BandwidthAdapter) ReserveNumber(ctx context.Context, req *number.ReservationRequest) (*number.ReservationResponse, error) {
	body := map[string]interface{}{
		"reservedTn":    req.PhoneNumber,
		"holdMinutes":   req.DurationMinutes,
		"customerName":  req.Customer.Name,
		"customerEmail": req.Customer.Email,
	}

	var out bandwidthReservation
	if err := a.post(ctx, a.accountPath("/reservations"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.ReservationResponse{
		ReservationID: out.ReservationID,
		PhoneNumber:   out.ReservedTn,
		Provider:      a.desc.ID,
		Status:        number.ReservationStatusFailed,
		FailureReason: out.FailureReason,
	}
	if out.ReservationStatus == "RESERVED" {
		resp.Status = number.ReservationStatusReserved
	}
	if t := parseTimestamp(out.ExpirationTime); t != nil {
		resp.ExpiresAt = *t
	}
	return resp, nil
}

type bandwidthOrder struct {
	OrderID         string   `json:"orderId"`
	TelephoneNumber string   `json:"telephoneNumber"`
	OrderStatus     string   `json:"orderStatus"`
	CompletedTime   string   `json:"completedTime"`
	MonthlyRate     string   `json:"monthlyRate"`
	SetupFee        string   `json:"setupFee"`
	Capabilities    []string `json:"capabilities"`
	FailureReason   string   `json:"failureReason"`
}

func (a *BandwidthAdapter) PurchaseNumber(ctx context.Context, req *number.PurchaseRequest) (*number.PurchaseResponse, error) {
	body := map[string]interface{}{
		"telephoneNumber": req.PhoneNumber,
		"customerName":    req.Customer.Name,
		"customerEmail":   req.Customer.Email,
	}
	if req.ReservationID != "" {
		body["reservationId"] = req.ReservationID
	}

	var out bandwidthOrder
	if err := a.post(ctx, a.accountPath("/orders"), body, &out); err != nil {
		return nil, err
	}

	resp := &number.PurchaseResponse{
		PurchaseID:    out.OrderID,
		PhoneNumber:   out.TelephoneNumber,
		Provider:      a.desc.ID,
		Status:        bandwidthOrderStatus(out.OrderStatus),
		MonthlyRate:   parseMoney(out.MonthlyRate, values.USD),
		SetupFee:      parseMoney(out.SetupFee, values.USD),
		Features:      bandwidthFeatures(out.Capabilities),
		FailureReason: out.FailureReason,
	}
	if resp.Status == number.PurchaseStatusPurchased {
		resp.ActivationDate = parseTimestamp(out.CompletedTime)
	}
	return resp, nil
}

func bandwidthOrderStatus(s string) number.PurchaseStatus {
	switch s {
	case "COMPLETE":
		return number.PurchaseStatusPurchased
	case "RECEIVED", "PROCESSING":
		return number.PurchaseStatusPending
	default:
		return number.PurchaseStatusFailed
	}
}

type bandwidthPortIn struct {
	OrderID                string `json:"orderId"`
	BillingTelephoneNumber string `json:"billingTelephoneNumber"`
	ProcessingStatus       string `json:"processingStatus"`
	FocDate                string `json:"focDate"`
	RejectionReason        string `json:"rejectionReason"`
}

func (a *BandwidthAdapter) PortNumber(ctx context.Context, req *number.PortingRequest) (*number.PortingResponse, error) {
	body := map[string]interface{}{
		"billingTelephoneNumber": req.PhoneNumber,
		"losingCarrierName":      req.CurrentProvider,
		"accountNumber":          req.AccountNumber,
		"pin":                    req.PIN,
		"loaAuthorizingPerson":   req.AuthorizedName,
		"subscriberAddress": map[string]string{
			"houseNumberAndStreet": req.ServiceAddress.Street,
			"city":                 req.ServiceAddress.City,
			"stateCode":            req.ServiceAddress.State,
			"zip":                  req.ServiceAddress.PostalCode,
			"country":              req.ServiceAddress.Country,
		},
	}
	if len(req.Documents) > 0 {
		body["loaDocuments"] = req.Documents
	}

	var out bandwidthPortIn
	if err := a.post(ctx, a.accountPath("/portins"), body, &out); err != nil {
		return nil, err
	}

	return &number.PortingResponse{
		PortingID:           out.OrderID,
		PhoneNumber:         out.BillingTelephoneNumber,
		Provider:            a.desc.ID,
		Status:              bandwidthPortingStatus(out.ProcessingStatus),
		EstimatedCompletion: parseTimestamp(out.FocDate),
		RejectionReason:     out.RejectionReason,
	}, nil
}

func bandwidthPortingStatus(s string) number.PortingStatus {
	switch s {
	case "SUBMITTED", "ACCEPTED":
		return number.PortingStatusSubmitted
	case "REJECTED":
		return number.PortingStatusRejected
	default:
		return number.PortingStatusFailed
	}
}

func (a *BandwidthAdapter) CheckNumberAvailability(ctx context.Context, phoneNumber values.PhoneNumber) (bool, error) {
	query := url.Values{}
	query.Set("fullNumber", phoneNumber.NationalNumber())
	query.Set("quantity", "1")

	var out bandwidthSearchResponse
	if err := a.doIdempotent(ctx, http.MethodGet, a.accountPath("/availableNumbers"), query, nil, &out); err != nil {
		return false, err
	}

	for _, n := range out.TelephoneNumberList {
		if n.TelephoneNumber == phoneNumber.E164() {
			return true, nil
		}
	}
	return false, nil
}

func (a *BandwidthAdapter) ReleaseReservation(ctx context.Context, reservationID string) (bool, error) {
	err := a.del(ctx, a.accountPath("/reservations/"+reservationID))
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Code == provider.ErrCodeNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *BandwidthAdapter) HealthProbe(ctx context.Context) error {
	return a.get(ctx, a.accountPath(""), nil, nil)
}
