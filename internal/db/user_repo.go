package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"saasbase/internal/types"
)

// uniqueViolation is the Postgres error code for unique constraint failures.
const uniqueViolation = "23505"

// UserRepo manages local identities.
type UserRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewUserRepo creates a UserRepo backed by the given connection.
func NewUserRepo(db DBTX, logger *slog.Logger) *UserRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserRepo{db: db, logger: logger}
}

// Create inserts a new user. Returns conflict_email_exists if the email is
// already registered.
func (r *UserRepo) Create(ctx context.Context, u *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, name, image, password_hash, email_verified_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		u.ID, u.Email, u.Name, u.Image, u.PasswordHash, u.EmailVerifiedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.NewAppError(types.ErrCodeConflictEmail, "email is already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// GetByEmail loads a user by canonical email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	return r.getBy(ctx, "email", email)
}

// GetByID loads a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*types.User, error) {
	return r.getBy(ctx, "id", id)
}

// GetByStripeCustomerID loads the user linked to a processor customer ID.
func (r *UserRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error) {
	return r.getBy(ctx, "stripe_customer_id", customerID)
}

func (r *UserRepo) getBy(ctx context.Context, column, value string) (*types.User, error) {
	var u types.User
	err := r.db.QueryRow(ctx,
		`SELECT id, email, name, image, password_hash, stripe_customer_id,
		        email_verified_at, created_at, updated_at
		 FROM users WHERE `+column+` = $1`,
		value,
	).Scan(
		&u.ID, &u.Email, &u.Name, &u.Image, &u.PasswordHash,
		&u.StripeCustomerID, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load user", err)
	}
	return &u, nil
}

// UpsertExternal creates or refreshes a user signing in through an external
// identity (OAuth profile or verified magic link). Profile fields are only
// overwritten with non-empty values so a provider returning less data does
// not erase what another provider supplied.
func (r *UserRepo) UpsertExternal(ctx context.Context, u *types.User, verifiedAt time.Time) (*types.User, error) {
	var out types.User
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (id, email, name, image, email_verified_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 ON CONFLICT (email) DO UPDATE
		 SET name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
		     image = COALESCE(NULLIF(EXCLUDED.image, ''), users.image),
		     email_verified_at = COALESCE(users.email_verified_at, EXCLUDED.email_verified_at),
		     updated_at = NOW()
		 RETURNING id, email, name, image, password_hash, stripe_customer_id,
		           email_verified_at, created_at, updated_at`,
		u.ID, u.Email, u.Name, u.Image, verifiedAt,
	).Scan(
		&out.ID, &out.Email, &out.Name, &out.Image, &out.PasswordHash,
		&out.StripeCustomerID, &out.EmailVerifiedAt, &out.CreatedAt, &out.UpdatedAt,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert user", err)
	}
	return &out, nil
}

// UpdateStripeCustomerID links a user to their processor customer record.
func (r *UserRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`,
		userID, customerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
