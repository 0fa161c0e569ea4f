package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/values"
	"github.com/davidleathers/number-provisioning-gateway/internal/infrastructure/database"
	"github.com/davidleathers/number-provisioning-gateway/internal/service/dispatch"
)

// maxBodyBytes caps request bodies; provisioning payloads are small.
const maxBodyBytes = 1 << 20

// PortingReader serves porting status lookups. The REST layer only reads;
// writes happen through the dispatcher's porting store.
type PortingReader interface {
	GetPortingRequest(ctx context.Context, portingID string) (*database.PortingRecord, error)
	ListPortingRequests(ctx context.Context, limit int) ([]*database.PortingRecord, error)
}

// Handler serves the provisioning API on top of the dispatch service.
type Handler struct {
	dispatcher dispatch.Service
	porting    PortingReader
	logger     *zap.Logger
	version    string
}

// NewHandler builds the API handler set. porting may be nil when the
// gateway runs without a database; the porting lookup endpoints then answer
// 503.
func NewHandler(dispatcher dispatch.Service, porting PortingReader, version string, logger *zap.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, porting: porting, version: version, logger: logger}
}

// decodeJSON reads the request body into dst, rejecting unknown fields so
// client typos surface instead of being silently dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_BODY", "request body is not valid JSON: "+err.Error())
	}
	if dec.More() {
		return errors.NewValidationError("INVALID_BODY", "request body must contain a single JSON object")
	}
	return nil
}

// SearchNumbers handles POST /api/v1/numbers/search.
func (h *Handler) SearchNumbers(w http.ResponseWriter, r *http.Request) {
	var req number.SearchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.dispatcher.SearchNumbers(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, resp)
}

// ReserveNumber handles POST /api/v1/numbers/reserve. A carrier decline is
// not an error: the response comes back 200 with status "failed" and the
// carrier's reason.
func (h *Handler) ReserveNumber(w http.ResponseWriter, r *http.Request) {
	var req number.ReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.dispatcher.ReserveNumber(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if resp.Failed() {
		status = http.StatusOK
	}
	writeData(w, r, status, resp)
}

// PurchaseNumber handles POST /api/v1/numbers/purchase.
func (h *Handler) PurchaseNumber(w http.ResponseWriter, r *http.Request) {
	var req number.PurchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.dispatcher.PurchaseNumber(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if resp.Failed() {
		status = http.StatusOK
	}
	writeData(w, r, status, resp)
}

// PortNumber handles POST /api/v1/porting. Ports complete asynchronously at
// the carrier, so an accepted submission is a 202; a rejected LOA comes back
// 200 with the rejection reason.
func (h *Handler) PortNumber(w http.ResponseWriter, r *http.Request) {
	var req number.PortingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	resp, err := h.dispatcher.PortNumber(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if resp.Rejected() {
		status = http.StatusOK
	}
	writeData(w, r, status, resp)
}

// CheckAvailability handles GET /api/v1/numbers/availability.
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("phone_number"))
	if raw == "" {
		writeError(w, r, h.logger, errors.NewValidationError("INVALID_PHONE", "phone_number query parameter is required"))
		return
	}
	// An unescaped '+' decodes to a space; restore it for full
	// international numbers.
	if len(raw) >= 11 && digitsOnly(raw) {
		raw = "+" + raw
	}

	phone, err := values.NewPhoneNumber(raw)
	if err != nil {
		writeError(w, r, h.logger, errors.NewValidationError("INVALID_PHONE", err.Error()))
		return
	}

	result, err := h.dispatcher.CheckNumberAvailability(r.Context(), phone)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, result)
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// releaseResult is the wire shape for reservation releases.
type releaseResult struct {
	ProviderID    string `json:"provider_id"`
	ReservationID string `json:"reservation_id"`
	Released      bool   `json:"released"`
}

// ReleaseReservation handles
// DELETE /api/v1/providers/{provider_id}/reservations/{reservation_id}.
// Released is false when the hold had already lapsed at the carrier.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider_id")
	reservationID := r.PathValue("reservation_id")

	released, err := h.dispatcher.ReleaseReservation(r.Context(), providerID, reservationID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, releaseResult{
		ProviderID:    strings.ToLower(strings.TrimSpace(providerID)),
		ReservationID: strings.TrimSpace(reservationID),
		Released:      released,
	})
}

// portingList is the wire shape for porting request listings.
type portingList struct {
	Requests []*database.PortingRecord `json:"requests"`
	Count    int                       `json:"count"`
}

// GetPorting handles GET /api/v1/porting/{porting_id}.
func (h *Handler) GetPorting(w http.ResponseWriter, r *http.Request) {
	if h.porting == nil {
		writeError(w, r, h.logger, errors.NewUnavailableError("PORTING_STORE_DISABLED", "porting status lookups require a database"))
		return
	}

	record, err := h.porting.GetPortingRequest(r.Context(), r.PathValue("porting_id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, record)
}

// ListPorting handles GET /api/v1/porting.
func (h *Handler) ListPorting(w http.ResponseWriter, r *http.Request) {
	if h.porting == nil {
		writeError(w, r, h.logger, errors.NewUnavailableError("PORTING_STORE_DISABLED", "porting status lookups require a database"))
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, h.logger, errors.NewValidationError("INVALID_LIMIT", "limit must be an integer"))
			return
		}
		limit = parsed
	}

	records, err := h.porting.ListPortingRequests(r.Context(), limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeData(w, r, http.StatusOK, portingList{Requests: records, Count: len(records)})
}

// ProviderHealth handles GET /api/v1/providers/health.
func (h *Handler) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, h.dispatcher.ProviderHealth())
}

// ProviderMetrics handles GET /api/v1/providers/metrics.
func (h *Handler) ProviderMetrics(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, h.dispatcher.ProviderMetrics())
}

// BreakerStates handles GET /api/v1/providers/breakers.
func (h *Handler) BreakerStates(w http.ResponseWriter, r *http.Request) {
	writeData(w, r, http.StatusOK, h.dispatcher.BreakerStates())
}

// breakerControlResult is the wire shape for operator breaker actions.
type breakerControlResult struct {
	ProviderID string `json:"provider_id"`
	Action     string `json:"action"`
}

// ForceBreakerOpen handles POST /api/v1/providers/{provider_id}/breaker/open.
func (h *Handler) ForceBreakerOpen(w http.ResponseWriter, r *http.Request) {
	h.breakerControl(w, r, "open", h.dispatcher.ForceBreakerOpen)
}

// ForceBreakerClose handles POST /api/v1/providers/{provider_id}/breaker/close.
func (h *Handler) ForceBreakerClose(w http.ResponseWriter, r *http.Request) {
	h.breakerControl(w, r, "close", h.dispatcher.ForceBreakerClose)
}

// ResetBreaker handles POST /api/v1/providers/{provider_id}/breaker/reset.
func (h *Handler) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	h.breakerControl(w, r, "reset", h.dispatcher.ResetBreaker)
}

func (h *Handler) breakerControl(w http.ResponseWriter, r *http.Request, action string, fn func(string) error) {
	providerID := r.PathValue("provider_id")
	if err := fn(providerID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	normalized := strings.ToLower(strings.TrimSpace(providerID))
	h.logger.Info("breaker control applied",
		zap.String("request_id", RequestID(r.Context())),
		zap.String("provider_id", normalized),
		zap.String("action", action),
	)
	writeData(w, r, http.StatusOK, breakerControlResult{ProviderID: normalized, Action: action})
}
