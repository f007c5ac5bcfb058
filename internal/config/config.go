// Package config defines the global configuration for the saasbase platform.
// Configuration is loaded once at process start and is immutable thereafter,
// following 12-Factor principles: OS environment takes priority over an
// optional .env file. Any missing required value fails the process
// immediately: a missing webhook signing secret is a startup error, never a
// per-request one.
package config

import (
	"time"

	"saasbase/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used for all sensitive configuration values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the specific subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Billing  BillingConfig
	Email    EmailConfig
	OAuth    OAuthConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// AppURL is the public base URL used for redirects, magic links, and
	// checkout return URLs (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"`
	// CORSAllowedOrigins restricts browser access; "*" allows all.
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AuthConfig holds session and magic-link settings.
type AuthConfig struct {
	SessionDuration   time.Duration `envconfig:"SESSION_DURATION" default:"168h"` // 7 days
	MagicLinkDuration time.Duration `envconfig:"MAGIC_LINK_DURATION" default:"24h"`
	// CookieSecure controls the Secure flag on session cookies. Disable only
	// for local HTTP development.
	CookieSecure bool `envconfig:"COOKIE_SECURE" default:"true"`
}

// BillingConfig holds Stripe credentials.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	// SignatureTolerance bounds the age of an acceptable webhook timestamp.
	SignatureTolerance time.Duration `envconfig:"STRIPE_SIGNATURE_TOLERANCE" default:"5m"`
}

// EmailConfig holds transactional email provider credentials.
type EmailConfig struct {
	ResendAPIKey SecretString `envconfig:"RESEND_API_KEY" validate:"required"`
	FromAddress  string       `envconfig:"EMAIL_FROM_ADDRESS" default:"onboarding@resend.dev"`
	FromName     string       `envconfig:"EMAIL_FROM_NAME" default:"saasbase"`
}

// OAuthConfig holds OAuth provider credentials. A provider with an empty
// client ID is treated as disabled rather than misconfigured.
type OAuthConfig struct {
	GitHubClientID     string       `envconfig:"AUTH_GITHUB_ID"`
	GitHubClientSecret SecretString `envconfig:"AUTH_GITHUB_SECRET"`
	GoogleClientID     string       `envconfig:"AUTH_GOOGLE_ID"`
	GoogleClientSecret SecretString `envconfig:"AUTH_GOOGLE_SECRET"`
}
