package db

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"saasbase/internal/types"
)

// PaymentRepo stores one row per checkout session or invoice. All writes are
// keyed upserts, never increments, so redelivered webhook events converge
// on the same row instead of duplicating it.
type PaymentRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentRepo creates a PaymentRepo backed by the given connection (pool
// or transaction).
func NewPaymentRepo(db DBTX, logger *slog.Logger) *PaymentRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRepo{db: db, logger: logger}
}

// newPaymentID mints an identifier for a new payment row. The natural key
// for upserts remains the checkout session or invoice ID.
func newPaymentID() string {
	return "pay_" + uuid.NewString()
}

// UpsertByCheckoutSession creates or updates the payment row for
// rec.CheckoutSessionID.
func (r *PaymentRepo) UpsertByCheckoutSession(ctx context.Context, rec *types.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = newPaymentID()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO payments
		     (id, user_id, checkout_session_id, amount_cents, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (checkout_session_id) WHERE checkout_session_id <> '' DO UPDATE
		 SET user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), payments.user_id),
		     amount_cents = EXCLUDED.amount_cents,
		     currency = EXCLUDED.currency,
		     status = EXCLUDED.status,
		     updated_at = NOW()`,
		rec.ID, rec.UserID, rec.CheckoutSessionID, rec.AmountCents, rec.Currency, rec.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert payment by checkout session", err)
	}
	return nil
}

// UpsertByInvoice creates or updates the payment row for rec.InvoiceID.
func (r *PaymentRepo) UpsertByInvoice(ctx context.Context, rec *types.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = newPaymentID()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO payments
		     (id, user_id, invoice_id, amount_cents, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (invoice_id) WHERE invoice_id <> '' DO UPDATE
		 SET user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), payments.user_id),
		     amount_cents = EXCLUDED.amount_cents,
		     currency = EXCLUDED.currency,
		     status = EXCLUDED.status,
		     updated_at = NOW()`,
		rec.ID, rec.UserID, rec.InvoiceID, rec.AmountCents, rec.Currency, rec.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert payment by invoice", err)
	}
	return nil
}

// GetByCheckoutSessionID loads a payment row by checkout session ID, or nil
// if none exists.
func (r *PaymentRepo) GetByCheckoutSessionID(ctx context.Context, sessionID string) (*types.PaymentRecord, error) {
	return r.getByKey(ctx, "checkout_session_id", sessionID)
}

// GetByInvoiceID loads a payment row by invoice ID, or nil if none exists.
func (r *PaymentRepo) GetByInvoiceID(ctx context.Context, invoiceID string) (*types.PaymentRecord, error) {
	return r.getByKey(ctx, "invoice_id", invoiceID)
}

func (r *PaymentRepo) getByKey(ctx context.Context, column, value string) (*types.PaymentRecord, error) {
	var rec types.PaymentRecord
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, checkout_session_id, invoice_id, amount_cents, currency, status, created_at, updated_at
		 FROM payments WHERE `+column+` = $1`,
		value,
	).Scan(
		&rec.ID, &rec.UserID, &rec.CheckoutSessionID, &rec.InvoiceID,
		&rec.AmountCents, &rec.Currency, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load payment", err)
	}
	return &rec, nil
}
