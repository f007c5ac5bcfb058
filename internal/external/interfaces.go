package external

import "context"

// Checkout modes accepted by CreateCheckoutSession. The mode must match the
// kind of price being sold: one-time prices check out in payment mode,
// recurring prices in subscription mode.
const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// CheckoutSessionInput carries everything needed to start a hosted checkout.
// UserID is stamped into client_reference_id and metadata so the resulting
// webhook events can be correlated back to the local user without relying on
// email matching.
type CheckoutSessionInput struct {
	UserID     string
	Email      string
	CustomerID string // existing processor customer, empty for first purchase
	PriceID    string
	Quantity   int64
	Mode       string // CheckoutModePayment (default) or CheckoutModeSubscription
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is the hosted checkout page handed back to the browser.
type CheckoutSession struct {
	ID  string
	URL string
}

// BillingProvider creates hosted payment-processor sessions.
type BillingProvider interface {
	CreateCheckoutSession(ctx context.Context, input CheckoutSessionInput) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// EmailMessage is a single transactional email.
type EmailMessage struct {
	To      string
	Subject string
	HTML    string
}

// EmailSender delivers transactional email (magic links).
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// OAuthProfile is the normalized identity returned by every OAuth provider.
type OAuthProfile struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	Name          string
	AvatarURL     string
}

// OAuthProvider abstracts one OAuth 2.0 identity provider.
type OAuthProvider interface {
	// Name returns the provider slug used in routes ("github", "google").
	Name() string
	// AuthorizeURL builds the provider consent URL for the given CSRF state.
	AuthorizeURL(state string) string
	// Exchange trades an authorization code for a normalized profile.
	Exchange(ctx context.Context, code string) (*OAuthProfile, error)
}
