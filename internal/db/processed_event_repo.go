package db

import (
	"context"
	"log/slog"
	"time"

	"saasbase/internal/types"
)

// ProcessedEventRepo is the idempotency ledger for webhook events.
//
// Invariant: at most one success record exists per event ID, enforced by the
// processed_events primary key plus the outcome guard in ClaimSuccess. The
// claim is executed as the first statement of the dispatcher's transaction,
// so concurrent deliveries of the same event serialize on the row: the
// second delivery blocks until the first commits, then sees the success row
// and short-circuits.
type ProcessedEventRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewProcessedEventRepo creates a ProcessedEventRepo backed by the given
// connection (pool or transaction).
func NewProcessedEventRepo(db DBTX, logger *slog.Logger) *ProcessedEventRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessedEventRepo{db: db, logger: logger}
}

// ClaimSuccess atomically records the event as successfully processed.
// Returns true if this call won the claim, false if a success record already
// exists (the event was processed by an earlier delivery). A prior failure
// record does not block the claim; retrying a failed event is the point of
// redelivery.
func (r *ProcessedEventRepo) ClaimSuccess(ctx context.Context, eventID string, processedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, outcome, processed_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO UPDATE
		 SET outcome = EXCLUDED.outcome,
		     detail = '',
		     processed_at = EXCLUDED.processed_at
		 WHERE processed_events.outcome <> $2`,
		eventID, types.OutcomeSuccess, processedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim webhook event", err)
	}

	return tag.RowsAffected() == 1, nil
}

// RecordFailure stores a failure record for manual inspection. It never
// overwrites a success record. Callers invoke this outside the handler
// transaction (which has rolled back by then) and treat errors as
// best-effort: the failure trail must not mask the original handler error.
func (r *ProcessedEventRepo) RecordFailure(ctx context.Context, eventID, detail string, processedAt time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (event_id, outcome, detail, processed_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO UPDATE
		 SET detail = EXCLUDED.detail,
		     processed_at = EXCLUDED.processed_at
		 WHERE processed_events.outcome <> $5`,
		eventID, types.OutcomeFailure, detail, processedAt, types.OutcomeSuccess,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record webhook failure", err)
	}
	return nil
}

// Get returns the ledger entry for an event ID, or nil if none exists.
func (r *ProcessedEventRepo) Get(ctx context.Context, eventID string) (*types.ProcessedEventRecord, error) {
	var rec types.ProcessedEventRecord
	err := r.db.QueryRow(ctx,
		`SELECT event_id, outcome, detail, processed_at
		 FROM processed_events WHERE event_id = $1`,
		eventID,
	).Scan(&rec.EventID, &rec.Outcome, &rec.Detail, &rec.ProcessedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load processed event", err)
	}
	return &rec, nil
}
