// Package types defines the shared domain model for the saasbase platform:
// users, sessions, subscriptions, payment records, and the processed-event
// ledger that backs webhook idempotency. It also provides the AppError
// taxonomy and request-context helpers used across all packages.
package types

import "time"

// User is a local identity. PasswordHash is empty for accounts created via
// OAuth or magic-link sign-in.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Name             string     `json:"name,omitempty"`
	Image            string     `json:"image,omitempty"`
	PasswordHash     string     `json:"-"`
	StripeCustomerID string     `json:"-"`
	EmailVerifiedAt  *time.Time `json:"email_verified_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Session is a server-side session referenced by an opaque cookie value.
type Session struct {
	ID        string
	UserID    string
	IPAddress string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// VerificationToken is a single-use magic-link token. Only the SHA-256
// digest of the raw token is stored; the raw value exists solely inside the
// emailed URL.
type VerificationToken struct {
	TokenHash string
	Email     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SubscriptionStatus mirrors the payment processor's subscription states.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the local mirror of a processor-side subscription, keyed
// by the processor's customer reference. LastEventAt records the occurredAt
// of the newest webhook event applied to this row; it is the optimistic-lock
// column that keeps status transitions monotonic under out-of-order delivery.
type Subscription struct {
	CustomerRef      string             `json:"customer_ref"`
	SubscriptionRef  string             `json:"subscription_ref"`
	UserID           string             `json:"user_id,omitempty"`
	Status           SubscriptionStatus `json:"status"`
	PriceID          string             `json:"price_id,omitempty"`
	CurrentPeriodEnd time.Time          `json:"current_period_end"`
	LastEventAt      time.Time          `json:"-"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// PaymentStatus is the lifecycle state of a PaymentRecord.
type PaymentStatus string

const (
	PaymentCompleted PaymentStatus = "completed"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentRecord tracks a one-time checkout or an invoice payment. Exactly
// one of CheckoutSessionID / InvoiceID is set; that value is the natural
// upsert key, which is what makes webhook redelivery safe.
type PaymentRecord struct {
	ID                string        `json:"id"`
	UserID            string        `json:"user_id,omitempty"`
	CheckoutSessionID string        `json:"checkout_session_id,omitempty"`
	InvoiceID         string        `json:"invoice_id,omitempty"`
	AmountCents       int64         `json:"amount_cents"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// EventOutcome is the recorded result of processing a webhook event.
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
)

// ProcessedEventRecord is the idempotency ledger entry for a webhook event.
// Invariant: at most one success record per EventID. A redelivered event
// whose success record already exists is acknowledged without re-applying
// side effects.
type ProcessedEventRecord struct {
	EventID     string
	Outcome     EventOutcome
	Detail      string
	ProcessedAt time.Time
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }
