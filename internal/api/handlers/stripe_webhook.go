// Package handlers contains the HTTP handler implementations for the
// saasbase API. Each handler defines the service contracts it needs locally
// and receives implementations through its constructor, so tests mock at the
// handler boundary.
package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/billing"
	"saasbase/internal/core"
	"saasbase/internal/types"
)

// maxWebhookBodySize bounds webhook payloads. Processor events are small;
// anything larger is not a legitimate delivery.
const maxWebhookBodySize = 64 << 10 // 64 KB

// EventVerifier authenticates a raw webhook payload against its signature
// header.
type EventVerifier interface {
	Verify(payload []byte, header string) (*billing.Event, error)
}

// EventDispatcher applies a verified event. A nil error means the event is
// settled and must be acknowledged with 200 regardless of outcome.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *billing.Event) (billing.DispatchOutcome, error)
}

// StripeWebhookHandler receives processor webhook deliveries. The response
// status is a contract with the processor's retry machinery: 2xx settles the
// delivery, 4xx marks it terminally rejected, 5xx requests redelivery.
type StripeWebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	logger     *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. It lives outside /v1 and
// outside session auth; the signature is the authentication.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleWebhook)
}

// webhookAck is the success response body. The processor only inspects the
// status code; the body aids manual testing.
type webhookAck struct {
	Received bool `json:"received"`
}

// HandleWebhook verifies and dispatches one delivery. The raw body bytes go
// to the verifier untouched; any middleware that re-reads or transforms the
// body would break signature verification.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodySize))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeWebhookPayloadMalformed, "failed to read webhook body", err))
		return
	}

	event, err := h.verifier.Verify(body, r.Header.Get(billing.SignatureHeader))
	if err != nil {
		// All verification failures carry webhook_* codes, which map to 400:
		// unauthenticated payloads must not be redelivered.
		core.Error(w, r, err)
		return
	}

	if _, err := h.dispatcher.Dispatch(r.Context(), event); err != nil {
		// Transient failure: nothing committed. internal_* maps to 500 and
		// the processor redelivers.
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, webhookAck{Received: true})
}
