package db

import (
	"context"
	"log/slog"
	"time"

	"saasbase/internal/types"
)

// SubscriptionRepo mirrors processor-side subscription state locally.
//
// Key invariant: Upsert enforces monotonic ordering on the event timestamp
// via the last_event_at column. An event older than the stored state is a
// silent no-op, so out-of-order webhook delivery can never regress a
// subscription (an old past_due never overwrites a newer active). The upsert
// is a single statement, so the row lock it takes also serializes concurrent
// events for the same customer.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a SubscriptionRepo backed by the given
// connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// Upsert creates or updates the subscription row for sub.CustomerRef,
// applying the change only if eventAt is newer than the stored
// last_event_at. Returns true if the row was written, false if the event was
// stale and ignored.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *types.Subscription, eventAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		     (customer_ref, subscription_ref, user_id, status, price_id,
		      current_period_end, last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT (customer_ref) DO UPDATE
		 SET subscription_ref = EXCLUDED.subscription_ref,
		     user_id = COALESCE(NULLIF(EXCLUDED.user_id, ''), subscriptions.user_id),
		     status = EXCLUDED.status,
		     price_id = EXCLUDED.price_id,
		     current_period_end = EXCLUDED.current_period_end,
		     last_event_at = EXCLUDED.last_event_at,
		     updated_at = NOW()
		 WHERE subscriptions.last_event_at < EXCLUDED.last_event_at`,
		sub.CustomerRef, sub.SubscriptionRef, sub.UserID, sub.Status,
		sub.PriceID, sub.CurrentPeriodEnd, eventAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale subscription event ignored",
			slog.String("customer_ref", sub.CustomerRef),
			slog.Time("event_at", eventAt),
		)
		return false, nil
	}

	return true, nil
}

// ExtendPeriod pushes current_period_end forward after a successful invoice
// payment. GREATEST keeps the extension monotonic; a missing row (invoice
// delivered before the subscription event) is a no-op rather than an error
// because the subscription upsert will carry the period when it arrives.
func (r *SubscriptionRepo) ExtendPeriod(ctx context.Context, customerRef string, periodEnd time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET current_period_end = GREATEST(current_period_end, $2),
		     updated_at = NOW()
		 WHERE customer_ref = $1`,
		customerRef, periodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to extend subscription period", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("invoice for unknown subscription; period extension skipped",
			slog.String("customer_ref", customerRef),
		)
	}

	return nil
}

// GetByCustomerRef loads the subscription for a processor customer ID.
func (r *SubscriptionRepo) GetByCustomerRef(ctx context.Context, customerRef string) (*types.Subscription, error) {
	var sub types.Subscription
	err := r.db.QueryRow(ctx,
		`SELECT customer_ref, subscription_ref, user_id, status, price_id,
		        current_period_end, last_event_at, created_at, updated_at
		 FROM subscriptions WHERE customer_ref = $1`,
		customerRef,
	).Scan(
		&sub.CustomerRef, &sub.SubscriptionRef, &sub.UserID, &sub.Status,
		&sub.PriceID, &sub.CurrentPeriodEnd, &sub.LastEventAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load subscription", err)
	}
	return &sub, nil
}
