package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"saasbase/internal/types"
)

// SignatureHeader is the request header carrying the processor's signature.
const SignatureHeader = "Stripe-Signature"

// DefaultSignatureTolerance bounds how far a signed timestamp may drift from
// server time before the event is rejected as a possible replay.
const DefaultSignatureTolerance = 5 * time.Minute

// Verifier authenticates webhook payloads against the endpoint's signing
// secret using stripe-go's webhook signature verification. Verification runs
// over the raw request bytes exactly as received; any re-serialization of the
// JSON would change the bytes and break the signature.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a Verifier for the given signing secret. An empty
// secret is a configuration error: it would make every forged payload
// verifiable, so construction fails instead.
func NewVerifier(secret types.SecretString, tolerance time.Duration) (*Verifier, error) {
	if secret.Unmask() == "" {
		return nil, fmt.Errorf("webhook signing secret is empty")
	}
	if tolerance <= 0 {
		tolerance = DefaultSignatureTolerance
	}
	return &Verifier{secret: secret.Unmask(), tolerance: tolerance}, nil
}

// Verify authenticates the raw payload against the signature header and, on
// success, decodes the event envelope. The HMAC check and tolerance window
// are delegated to stripe-go; its sentinel errors are mapped onto the error
// taxonomy so the HTTP layer can respond precisely: missing header, stale
// timestamp, and signature mismatch all map to terminal 4xx responses that
// stop redelivery of unauthenticated requests.
func (v *Verifier) Verify(payload []byte, header string) (*Event, error) {
	if err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance); err != nil {
		switch {
		case errors.Is(err, webhook.ErrNotSigned):
			return nil, types.NewAppError(types.ErrCodeWebhookSignatureMissing, "missing signature header", err)
		case errors.Is(err, webhook.ErrTooOld):
			return nil, types.NewAppError(types.ErrCodeWebhookSignatureStale,
				fmt.Sprintf("signature timestamp outside %s tolerance", v.tolerance), err)
		default:
			// ErrInvalidHeader and ErrNoValidSignature both mean the request
			// cannot be authenticated.
			return nil, types.NewAppError(types.ErrCodeWebhookSignatureInvalid, "signature verification failed", err)
		}
	}

	return parseEvent(payload)
}
