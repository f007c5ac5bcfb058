// Package billing implements the payment-processor webhook core: signature
// verification over raw request bytes, event dispatch by type, and the
// idempotent state transitions applied to subscriptions and payment records.
// The HTTP layer in internal/api/handlers is a thin adapter over this
// package.
package billing

import (
	"encoding/json"
	"time"

	"saasbase/internal/types"
)

// Webhook event types this dispatcher handles. The processor may introduce
// new types at any time; anything not listed here is acknowledged and
// ignored.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
)

// Event is a minimal representation of a processor webhook event, holding
// only the envelope fields needed for routing plus the raw data object for
// per-type decoding. Avoiding the full stripe.Event type keeps the
// dispatcher decoupled from the vendor SDK's struct churn.
type Event struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Created int64     `json:"created"`
	Data    eventData `json:"data"`
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

// OccurredAt returns the event's creation timestamp, which (not arrival
// order) is the tie-break for ordering subscription state transitions.
func (e *Event) OccurredAt() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// parseEvent decodes the webhook envelope from verified raw bytes.
func parseEvent(payload []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "invalid webhook event JSON", err)
	}
	if e.ID == "" || e.Type == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "webhook event missing id or type", nil)
	}
	return &e, nil
}

// checkoutSessionPayload holds the fields consumed from a
// checkout.session.completed data object.
type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Metadata          map[string]string `json:"metadata"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	Subscription      string            `json:"subscription"`
}

// subscriptionPayload holds the fields consumed from a
// customer.subscription.* data object.
type subscriptionPayload struct {
	ID               string            `json:"id"`
	Customer         string            `json:"customer"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Items            subItems          `json:"items"`
}

type subItems struct {
	Data []subItem `json:"data"`
}

type subItem struct {
	Price subPrice `json:"price"`
}

type subPrice struct {
	ID string `json:"id"`
}

// invoicePayload holds the fields consumed from an invoice.* data object.
type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
	AmountDue    int64  `json:"amount_due"`
	Currency     string `json:"currency"`
	PeriodEnd    int64  `json:"period_end"`
}

// checkoutSession decodes the event's data object as a checkout session.
// A missing session ID makes the event unprocessable for a known type, which
// is the malformed-payload case: logged, acknowledged, never retried.
func (e *Event) checkoutSession() (*checkoutSessionPayload, error) {
	var p checkoutSessionPayload
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "invalid checkout session payload", err)
	}
	if p.ID == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "checkout session payload missing id", nil)
	}
	return &p, nil
}

// subscription decodes the event's data object as a subscription.
func (e *Event) subscription() (*subscriptionPayload, error) {
	var p subscriptionPayload
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "invalid subscription payload", err)
	}
	if p.ID == "" || p.Customer == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "subscription payload missing id or customer", nil)
	}
	return &p, nil
}

// invoice decodes the event's data object as an invoice.
func (e *Event) invoice() (*invoicePayload, error) {
	var p invoicePayload
	if err := json.Unmarshal(e.Data.Object, &p); err != nil {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "invalid invoice payload", err)
	}
	if p.ID == "" {
		return nil, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "invoice payload missing id", nil)
	}
	return &p, nil
}

// mapSubscriptionStatus converts the processor's status string to the domain
// enum, passing through unrecognized values untouched.
func mapSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCanceled
	case "incomplete":
		return types.SubStatusIncomplete
	case "incomplete_expired":
		return types.SubStatusIncompleteExpired
	case "trialing":
		return types.SubStatusTrialing
	case "unpaid":
		return types.SubStatusUnpaid
	default:
		return types.SubscriptionStatus(status)
	}
}
