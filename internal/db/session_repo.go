package db

import (
	"context"
	"log/slog"

	"saasbase/internal/types"
)

// SessionRepo persists server-side sessions.
type SessionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSessionRepo creates a SessionRepo backed by the given connection.
func NewSessionRepo(db DBTX, logger *slog.Logger) *SessionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRepo{db: db, logger: logger}
}

// Create inserts a new session row.
func (r *SessionRepo) Create(ctx context.Context, s *types.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, user_id, ip_address, user_agent, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.UserID, s.IPAddress, s.UserAgent, s.ExpiresAt, s.CreatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create session", err)
	}
	return nil
}

// GetByID loads a session by its opaque ID.
func (r *SessionRepo) GetByID(ctx context.Context, sessionID string) (*types.Session, error) {
	var s types.Session
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, ip_address, user_agent, expires_at, created_at
		 FROM sessions WHERE id = $1`,
		sessionID,
	).Scan(&s.ID, &s.UserID, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load session", err)
	}
	return &s, nil
}

// DeleteByID hard-deletes a single session (logout).
func (r *SessionRepo) DeleteByID(ctx context.Context, sessionID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete session", err)
	}
	return nil
}

// DeleteExpiredByUser lazily cleans up a user's expired sessions during
// sign-in.
func (r *SessionRepo) DeleteExpiredByUser(ctx context.Context, userID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1 AND expires_at < NOW()`,
		userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to clean expired sessions", err)
	}
	return nil
}
