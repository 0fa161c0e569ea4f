package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/number-provisioning-gateway/internal/domain/errors"
	"github.com/davidleathers/number-provisioning-gateway/internal/domain/number"
)

// PortingRequestRepository persists port-in submissions so their status can
// be looked up after the carrier answered. It satisfies the dispatcher's
// PortingStore contract.
type PortingRequestRepository struct {
	db *pgxpool.Pool
}

// NewPortingRequestRepository creates a PostgreSQL-backed porting repository.
func NewPortingRequestRepository(db *pgxpool.Pool) *PortingRequestRepository {
	return &PortingRequestRepository{db: db}
}

// PortingRecord is the stored view of a porting submission. The losing
// carrier PIN is never persisted; the account number keeps its last four
// characters for support lookups.
type PortingRecord struct {
	PortingID           string               `json:"porting_id"`
	PhoneNumber         string               `json:"phone_number"`
	Provider            string               `json:"provider"`
	Status              number.PortingStatus `json:"status"`
	CurrentProvider     string               `json:"current_provider"`
	AccountNumberLast4  string               `json:"account_number_last4,omitempty"`
	AuthorizedName      string               `json:"authorized_name"`
	ServiceAddress      number.Address       `json:"service_address"`
	Documents           []string             `json:"documents,omitempty"`
	EstimatedCompletion *time.Time           `json:"estimated_completion,omitempty"`
	RejectionReason     string               `json:"rejection_reason,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// SavePortingRequest upserts the submission keyed by the carrier-issued
// porting id. Resubmissions update the mutable status fields only.
func (r *PortingRequestRepository) SavePortingRequest(ctx context.Context, req *number.PortingRequest, resp *number.PortingResponse) error {
	if req == nil || resp == nil {
		return errors.NewValidationError("INVALID_PORTING", "porting request and response are required")
	}
	if resp.PortingID == "" {
		return errors.NewValidationError("INVALID_PORTING", "porting id is required")
	}

	address, err := json.Marshal(req.ServiceAddress)
	if err != nil {
		return errors.NewInternalError("failed to marshal service address").WithCause(err)
	}

	documents := req.Documents
	if documents == nil {
		documents = []string{}
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO porting_requests (
			porting_id, phone_number, provider, status,
			current_provider, account_number_last4, authorized_name,
			service_address, documents, estimated_completion, rejection_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		ON CONFLICT (porting_id) DO UPDATE SET
			status = EXCLUDED.status,
			estimated_completion = EXCLUDED.estimated_completion,
			rejection_reason = EXCLUDED.rejection_reason,
			updated_at = NOW()
	`, resp.PortingID, resp.PhoneNumber, resp.Provider, string(resp.Status),
		req.CurrentProvider, lastFour(req.AccountNumber), req.AuthorizedName,
		address, documents, resp.EstimatedCompletion, nullableText(resp.RejectionReason))
	if err != nil {
		return errors.NewInternalError("failed to save porting request").WithCause(err)
	}

	return nil
}

// GetPortingRequest returns the stored record for a porting id.
func (r *PortingRequestRepository) GetPortingRequest(ctx context.Context, portingID string) (*PortingRecord, error) {
	if portingID == "" {
		return nil, errors.NewValidationError("INVALID_PORTING", "porting id is required")
	}

	var (
		record          PortingRecord
		address         []byte
		rejectionReason *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT porting_id, phone_number, provider, status,
		       current_provider, account_number_last4, authorized_name,
		       service_address, documents, estimated_completion, rejection_reason,
		       created_at, updated_at
		FROM porting_requests
		WHERE porting_id = $1
	`, portingID).Scan(
		&record.PortingID, &record.PhoneNumber, &record.Provider, &record.Status,
		&record.CurrentProvider, &record.AccountNumberLast4, &record.AuthorizedName,
		&address, &record.Documents, &record.EstimatedCompletion, &rejectionReason,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrPortingRequestNotFound
		}
		return nil, errors.NewInternalError("failed to query porting request").WithCause(err)
	}

	if len(address) > 0 {
		if err := json.Unmarshal(address, &record.ServiceAddress); err != nil {
			return nil, errors.NewInternalError("failed to unmarshal service address").WithCause(err)
		}
	}
	if rejectionReason != nil {
		record.RejectionReason = *rejectionReason
	}

	return &record, nil
}

// ListPortingRequests returns the most recent submissions, newest first.
// Limit values outside [1,500] clamp to 50.
func (r *PortingRequestRepository) ListPortingRequests(ctx context.Context, limit int) ([]*PortingRecord, error) {
	if limit < 1 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT porting_id, phone_number, provider, status,
		       current_provider, account_number_last4, authorized_name,
		       service_address, documents, estimated_completion, rejection_reason,
		       created_at, updated_at
		FROM porting_requests
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to query porting requests").WithCause(err)
	}
	defer rows.Close()

	var records []*PortingRecord
	for rows.Next() {
		var (
			record          PortingRecord
			address         []byte
			rejectionReason *string
		)
		if err := rows.Scan(
			&record.PortingID, &record.PhoneNumber, &record.Provider, &record.Status,
			&record.CurrentProvider, &record.AccountNumberLast4, &record.AuthorizedName,
			&address, &record.Documents, &record.EstimatedCompletion, &rejectionReason,
			&record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, errors.NewInternalError("failed to scan porting request").WithCause(err)
		}
		if len(address) > 0 {
			if err := json.Unmarshal(address, &record.ServiceAddress); err != nil {
				return nil, errors.NewInternalError("failed to unmarshal service address").WithCause(err)
			}
		}
		if rejectionReason != nil {
			record.RejectionReason = *rejectionReason
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

func lastFour(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return accountNumber[len(accountNumber)-4:]
}

func nullableText(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
