package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"saasbase/internal/db"
	"saasbase/internal/types"
)

// EventLedger claims events in the idempotency ledger.
type EventLedger interface {
	ClaimSuccess(ctx context.Context, eventID string, processedAt time.Time) (bool, error)
}

// SubscriptionWriter applies subscription state transitions.
type SubscriptionWriter interface {
	Upsert(ctx context.Context, sub *types.Subscription, eventAt time.Time) (bool, error)
	ExtendPeriod(ctx context.Context, customerRef string, periodEnd time.Time) error
}

// PaymentWriter records payment outcomes keyed by their natural IDs.
type PaymentWriter interface {
	UpsertByCheckoutSession(ctx context.Context, rec *types.PaymentRecord) error
	UpsertByInvoice(ctx context.Context, rec *types.PaymentRecord) error
}

// UserDirectory resolves and links local users during event handling.
type UserDirectory interface {
	GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error)
	UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// TxStores bundles the transaction-scoped repositories handed to an event
// handler. Every write through these stores commits or rolls back together
// with the idempotency claim.
type TxStores struct {
	Events        EventLedger
	Subscriptions SubscriptionWriter
	Payments      PaymentWriter
	Users         UserDirectory
}

// Store is the dispatcher's persistence boundary. RunInTx provides the
// transactional scope for event handling; RecordFailure writes the failure
// trail after that transaction has rolled back.
type Store interface {
	RunInTx(ctx context.Context, fn func(s TxStores) error) error
	RecordFailure(ctx context.Context, eventID, detail string, processedAt time.Time) error
}

// PgStore is the production Store backed by a pgx connection pool.
type PgStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPgStore creates a PgStore on the given pool.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) *PgStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgStore{pool: pool, logger: logger}
}

// RunInTx opens a transaction and hands fn repositories bound to it.
func (s *PgStore) RunInTx(ctx context.Context, fn func(s TxStores) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(TxStores{
			Events:        db.NewProcessedEventRepo(tx, s.logger),
			Subscriptions: db.NewSubscriptionRepo(tx, s.logger),
			Payments:      db.NewPaymentRepo(tx, s.logger),
			Users:         db.NewUserRepo(tx, s.logger),
		})
	})
}

// RecordFailure writes the failure record on the pool, outside any
// transaction.
func (s *PgStore) RecordFailure(ctx context.Context, eventID, detail string, processedAt time.Time) error {
	return db.NewProcessedEventRepo(s.pool, s.logger).RecordFailure(ctx, eventID, detail, processedAt)
}
