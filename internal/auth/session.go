// Package auth implements identity and session management: credentials
// sign-in, single-use magic links, and OAuth provider sign-in, all converging
// on the same server-side session issued as an opaque cookie value.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"time"

	"saasbase/internal/types"
)

// SessionStore is the persistence surface SessionManager needs.
type SessionStore interface {
	Create(ctx context.Context, s *types.Session) error
	GetByID(ctx context.Context, sessionID string) (*types.Session, error)
	DeleteByID(ctx context.Context, sessionID string) error
	DeleteExpiredByUser(ctx context.Context, userID string) error
}

// UserLookup resolves session owners.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// SessionManager issues and resolves opaque session IDs. IDs carry 128 bits
// of randomness and no embedded claims; everything about the session lives
// server-side so revocation is immediate.
type SessionManager struct {
	sessions SessionStore
	users    UserLookup
	duration time.Duration
	clock    types.Clock
	logger   *slog.Logger
}

// NewSessionManager creates a SessionManager.
func NewSessionManager(sessions SessionStore, users UserLookup, duration time.Duration, clock types.Clock, logger *slog.Logger) *SessionManager {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: sessions,
		users:    users,
		duration: duration,
		clock:    clock,
		logger:   logger,
	}
}

// newSessionID mints an unguessable session identifier.
func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process cannot do anything
		// security-relevant.
		panic("crypto/rand unavailable: " + err.Error())
	}
	return "sess_" + hex.EncodeToString(buf)
}

// Create opens a new session for the user, lazily sweeping their expired
// sessions first.
func (m *SessionManager) Create(ctx context.Context, userID, ipAddress, userAgent string) (*types.Session, error) {
	if err := m.sessions.DeleteExpiredByUser(ctx, userID); err != nil {
		// Sweep failure is not fatal to sign-in.
		m.logger.WarnContext(ctx, "expired session sweep failed", slog.String("error", err.Error()))
	}

	now := m.clock.Now()
	session := &types.Session{
		ID:        newSessionID(),
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		ExpiresAt: now.Add(m.duration),
		CreatedAt: now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ResolveSession validates a session ID and returns the session plus its
// owner. Expired sessions are deleted on sight and reported as expired, the
// same code an unknown ID maps to, so a probing client learns nothing from
// the difference.
func (m *SessionManager) ResolveSession(ctx context.Context, sessionID string) (*types.Session, *types.User, error) {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	if !session.ExpiresAt.After(m.clock.Now()) {
		if err := m.sessions.DeleteByID(ctx, session.ID); err != nil {
			m.logger.WarnContext(ctx, "failed to delete expired session", slog.String("error", err.Error()))
		}
		return nil, nil, types.NewAppError(types.ErrCodeAuthSessionExpired, "session has expired", nil)
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// Invalidate deletes a session (logout). Deleting an already-absent session
// is not an error.
func (m *SessionManager) Invalidate(ctx context.Context, sessionID string) error {
	return m.sessions.DeleteByID(ctx, sessionID)
}
