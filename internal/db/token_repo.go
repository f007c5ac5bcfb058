package db

import (
	"context"
	"log/slog"

	"saasbase/internal/types"
)

// VerificationTokenRepo persists magic-link tokens. Only SHA-256 digests are
// stored; Consume is a single DELETE ... RETURNING so a token can be
// redeemed at most once even under concurrent requests.
type VerificationTokenRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewVerificationTokenRepo creates a VerificationTokenRepo backed by the
// given connection.
func NewVerificationTokenRepo(db DBTX, logger *slog.Logger) *VerificationTokenRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &VerificationTokenRepo{db: db, logger: logger}
}

// Create inserts a new token row.
func (r *VerificationTokenRepo) Create(ctx context.Context, t *types.VerificationToken) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO verification_tokens (token_hash, email, expires_at, created_at)
		 VALUES ($1, $2, $3, $4)`,
		t.TokenHash, t.Email, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create verification token", err)
	}
	return nil
}

// Consume atomically deletes and returns the token row for the given hash.
// Returns auth_token_invalid if no such token exists (already consumed or
// never issued). Expiry is checked by the caller against the returned row.
func (r *VerificationTokenRepo) Consume(ctx context.Context, tokenHash string) (*types.VerificationToken, error) {
	var t types.VerificationToken
	err := r.db.QueryRow(ctx,
		`DELETE FROM verification_tokens WHERE token_hash = $1
		 RETURNING token_hash, email, expires_at, created_at`,
		tokenHash,
	).Scan(&t.TokenHash, &t.Email, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "sign-in link is invalid or already used", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to consume verification token", err)
	}
	return &t, nil
}
