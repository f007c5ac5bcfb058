package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"saasbase/internal/external"
	"saasbase/internal/types"
)

// UserStore is the persistence surface the auth service needs for users.
type UserStore interface {
	Create(ctx context.Context, u *types.User) error
	GetByEmail(ctx context.Context, email string) (*types.User, error)
	GetByID(ctx context.Context, id string) (*types.User, error)
	UpsertExternal(ctx context.Context, u *types.User, verifiedAt time.Time) (*types.User, error)
}

// TokenStore persists magic-link token digests.
type TokenStore interface {
	Create(ctx context.Context, t *types.VerificationToken) error
	Consume(ctx context.Context, tokenHash string) (*types.VerificationToken, error)
}

// ServiceConfig holds the knobs the auth service reads.
type ServiceConfig struct {
	// AppURL is the public base URL embedded in magic links.
	AppURL            string
	MagicLinkDuration time.Duration
}

// Service implements the sign-in flows. All flows end in SessionManager
// issuing the same kind of session; nothing downstream cares how a user
// authenticated.
type Service struct {
	users    UserStore
	tokens   TokenStore
	sessions *SessionManager
	email    external.EmailSender
	cfg      ServiceConfig
	clock    types.Clock
	logger   *slog.Logger
}

// NewService creates an auth Service.
func NewService(
	users UserStore,
	tokens TokenStore,
	sessions *SessionManager,
	email external.EmailSender,
	cfg ServiceConfig,
	clock types.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:    users,
		tokens:   tokens,
		sessions: sessions,
		email:    email,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// CanonicalizeEmail lowercases and trims an email address. All lookups and
// unique constraints operate on the canonical form.
func CanonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp registers a credentials user and opens their first session.
func (s *Service) SignUp(ctx context.Context, email, password, name, ipAddress, userAgent string) (*types.User, *types.Session, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}

	user := &types.User{
		ID:           "usr_" + uuid.NewString(),
		Email:        CanonicalizeEmail(email),
		Name:         name,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// LoginWithPassword verifies credentials and opens a session. Unknown email
// and wrong password collapse into the same error code so responses do not
// reveal which emails are registered.
func (s *Service) LoginWithPassword(ctx context.Context, email, password, ipAddress, userAgent string) (*types.User, *types.Session, error) {
	invalid := types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid email or password", nil)

	user, err := s.users.GetByEmail(ctx, CanonicalizeEmail(email))
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok && appErr.Code == types.ErrCodeNotFoundUser {
			return nil, nil, invalid
		}
		return nil, nil, err
	}
	if user.PasswordHash == "" {
		// OAuth or magic-link account with no password set.
		return nil, nil, invalid
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil, invalid
	}

	session, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// RequestMagicLink issues a single-use sign-in token and emails it. Only the
// SHA-256 digest is stored; the raw token exists solely in the emailed URL.
// The caller responds identically whether or not the email is registered.
func (s *Service) RequestMagicLink(ctx context.Context, email string) error {
	email = CanonicalizeEmail(email)

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to generate token", err)
	}
	rawToken := hex.EncodeToString(buf)

	now := s.clock.Now()
	if err := s.tokens.Create(ctx, &types.VerificationToken{
		TokenHash: hashToken(rawToken),
		Email:     email,
		ExpiresAt: now.Add(s.cfg.MagicLinkDuration),
		CreatedAt: now,
	}); err != nil {
		return err
	}

	link := s.cfg.AppURL + "/v1/auth/magic-link/verify?token=" + url.QueryEscape(rawToken)
	return s.email.Send(ctx, external.EmailMessage{
		To:      email,
		Subject: "Sign in to saasbase",
		HTML: fmt.Sprintf(
			`<p>Click the link below to sign in. It expires in %s and can be used once.</p><p><a href=%q>Sign in</a></p>`,
			s.cfg.MagicLinkDuration, link,
		),
	})
}

// VerifyMagicLink redeems a raw token from the emailed URL. The consume is a
// single atomic delete, so a link can only ever sign in one request; the
// winning request gets a verified user (created on first sign-in) and a
// session.
func (s *Service) VerifyMagicLink(ctx context.Context, rawToken, ipAddress, userAgent string) (*types.User, *types.Session, error) {
	token, err := s.tokens.Consume(ctx, hashToken(rawToken))
	if err != nil {
		return nil, nil, err
	}

	now := s.clock.Now()
	if !token.ExpiresAt.After(now) {
		return nil, nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "sign-in link has expired", nil)
	}

	user, err := s.users.UpsertExternal(ctx, &types.User{
		ID:    "usr_" + uuid.NewString(),
		Email: token.Email,
	}, now)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// LoginWithOAuth signs in a user from a verified provider profile, creating
// the account on first sign-in.
func (s *Service) LoginWithOAuth(ctx context.Context, profile *external.OAuthProfile, ipAddress, userAgent string) (*types.User, *types.Session, error) {
	now := s.clock.Now()
	user, err := s.users.UpsertExternal(ctx, &types.User{
		ID:    "usr_" + uuid.NewString(),
		Email: CanonicalizeEmail(profile.Email),
		Name:  profile.Name,
		Image: profile.AvatarURL,
	}, now)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, ipAddress, userAgent)
	if err != nil {
		return nil, nil, err
	}
	return user, session, nil
}

// Logout invalidates the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Invalidate(ctx, sessionID)
}

// hashToken derives the stored digest for a raw magic-link token.
func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
