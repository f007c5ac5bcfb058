package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saasbase/internal/core"
	"saasbase/internal/external"
	"saasbase/internal/types"
)

// BillingService abstracts the payment-processor session APIs the billing
// handler needs.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, input external.CheckoutSessionInput) (*external.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// BillingHandler exposes checkout and billing-portal initiation. Both
// endpoints require a session; webhook events, not these responses, are the
// source of truth for entitlement changes.
type BillingHandler struct {
	billing   BillingService
	validator *core.Validator
	appURL    string
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler. appURL is the public base URL
// used to build return URLs.
func NewBillingHandler(billing BillingService, validator *core.Validator, appURL string, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		billing:   billing,
		validator: validator,
		appURL:    appURL,
		logger:    logger,
	}
}

// RegisterRoutes mounts the billing endpoints on an authenticated router
// group.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.HandleCreateCheckout)
	r.Post("/billing/portal", h.HandleCreatePortal)
}

type createCheckoutRequest struct {
	PriceID  string `json:"price_id" validate:"required"`
	Quantity int64  `json:"quantity,omitempty" validate:"omitempty,min=1"`
	Mode     string `json:"mode,omitempty" validate:"omitempty,oneof=payment subscription"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

// HandleCreateCheckout starts a hosted checkout for the signed-in user and
// returns the redirect URL. The user's ID is stamped into the session for
// webhook correlation; no local state changes until the completed event
// arrives.
func (h *BillingHandler) HandleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}

	var req createCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.billing.CreateCheckoutSession(r.Context(), external.CheckoutSessionInput{
		UserID:     user.ID,
		Email:      user.Email,
		CustomerID: user.StripeCustomerID,
		PriceID:    req.PriceID,
		Quantity:   req.Quantity,
		Mode:       req.Mode,
		SuccessURL: h.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  h.appURL + "/billing/cancel",
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		slog.String("user_id", user.ID),
		slog.String("checkout_session_id", session.ID),
	)
	core.JSON(w, r, http.StatusOK, checkoutResponse{URL: session.URL})
}

type portalResponse struct {
	URL string `json:"url"`
}

// HandleCreatePortal opens the processor's self-serve billing portal for a
// user who already has a customer record.
func (h *BillingHandler) HandleCreatePortal(w http.ResponseWriter, r *http.Request) {
	user, ok := types.GetUser(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSessionMissing, "authentication required", nil))
		return
	}
	if user.StripeCustomerID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundSubscription, "no billing account exists for this user", nil))
		return
	}

	portalURL, err := h.billing.CreatePortalSession(r.Context(), user.StripeCustomerID, h.appURL+"/account")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, portalResponse{URL: portalURL})
}
