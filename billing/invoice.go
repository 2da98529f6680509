package billing

import (
	"context"
	"database/sql"
	"time"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/internal/ids"
)

// InvoiceStatus tracks an invoice through billing.
type InvoiceStatus string

const (
	InvoiceStatusDraft InvoiceStatus = "draft"
	InvoiceStatusSent  InvoiceStatus = "sent"
	InvoiceStatusPaid  InvoiceStatus = "paid"
)

// Invoice bills one job. The UNIQUE constraint on job_id is what makes
// "create invoice from job" safe to run twice for the same event.
type Invoice struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	ClientID  string        `json:"client_id"`
	Status    InvoiceStatus `json:"status"`
	Amount    float64       `json:"amount"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// InvoiceStore handles invoice persistence.
type InvoiceStore struct {
	db *sql.DB
}

// NewInvoiceStore creates an invoice storage instance.
func NewInvoiceStore(db *sql.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// Create inserts a new invoice in draft status.
func (is *InvoiceStore) Create(ctx context.Context, inv *Invoice) error {
	if inv.JobID == "" {
		return errors.New("invoice job_id cannot be empty")
	}
	if inv.ClientID == "" {
		return errors.New("invoice client_id cannot be empty")
	}
	if inv.ID == "" {
		inv.ID = ids.New("inv")
	}
	if inv.Status == "" {
		inv.Status = InvoiceStatusDraft
	}

	now := time.Now()
	inv.CreatedAt = now
	inv.UpdatedAt = now

	_, err := is.db.ExecContext(ctx, `
		INSERT INTO invoices (id, job_id, client_id, status, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.JobID, inv.ClientID, inv.Status, inv.Amount,
		inv.CreatedAt.Format(time.RFC3339Nano), inv.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create invoice")
	}
	return nil
}

// GetByJob retrieves the invoice for a job, if one exists.
func (is *InvoiceStore) GetByJob(ctx context.Context, jobID string) (*Invoice, error) {
	var inv Invoice
	var createdAt, updatedAt string
	err := is.db.QueryRowContext(ctx, `
		SELECT id, job_id, client_id, status, amount, created_at, updated_at
		FROM invoices WHERE job_id = ?`, jobID,
	).Scan(&inv.ID, &inv.JobID, &inv.ClientID, &inv.Status, &inv.Amount, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "invoice for job %s", jobID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan invoice")
	}

	inv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid created_at for invoice %s", inv.ID)
	}
	inv.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid updated_at for invoice %s", inv.ID)
	}
	return &inv, nil
}

// ExistsForJob reports whether a job already has an invoice.
func (is *InvoiceStore) ExistsForJob(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := is.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM invoices WHERE job_id = ?)", jobID,
	).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check invoice existence")
	}
	return exists, nil
}

// CountByClient returns how many invoices a client has.
func (is *InvoiceStore) CountByClient(ctx context.Context, clientID string) (int, error) {
	var count int
	err := is.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invoices WHERE client_id = ?", clientID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count invoices")
	}
	return count, nil
}
