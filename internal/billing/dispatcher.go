package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"saasbase/internal/types"
)

// DispatchOutcome classifies what Dispatch did with an event. The HTTP layer
// acknowledges all of these with 200; only a returned error signals the
// processor to redeliver.
type DispatchOutcome string

const (
	// OutcomeApplied means this delivery won the idempotency claim and the
	// handler's writes committed.
	OutcomeApplied DispatchOutcome = "applied"
	// OutcomeAlreadyProcessed means a success record already existed; the
	// delivery was a duplicate and nothing was written.
	OutcomeAlreadyProcessed DispatchOutcome = "already_processed"
	// OutcomeIgnoredUnknown means the event type has no handler.
	OutcomeIgnoredUnknown DispatchOutcome = "ignored_unknown"
	// OutcomeAckedMalformed means the payload could not be handled and never
	// will be; it was logged for manual review and acknowledged so the
	// processor stops redelivering it.
	OutcomeAckedMalformed DispatchOutcome = "acked_malformed"
)

// errAlreadyProcessed aborts the handler transaction when the idempotency
// claim loses; it never escapes Dispatch.
var errAlreadyProcessed = errors.New("event already processed")

type eventHandler func(ctx context.Context, s TxStores, event *Event) error

// Dispatcher routes verified webhook events to their handlers, each run
// inside a single database transaction whose first statement claims the
// event in the idempotency ledger. Transient failures roll everything back
// and surface as errors so the processor redelivers; the claim rolls back
// with them, so the retry starts clean.
type Dispatcher struct {
	store  Store
	clock  types.Clock
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given store.
func NewDispatcher(store Store, clock types.Clock, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, clock: clock, logger: logger}
}

func (d *Dispatcher) handlerFor(eventType string) eventHandler {
	switch eventType {
	case EventCheckoutCompleted:
		return d.handleCheckoutCompleted
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return d.handleSubscriptionUpserted
	case EventSubscriptionDeleted:
		return d.handleSubscriptionDeleted
	case EventInvoicePaymentSucceeded:
		return d.handleInvoicePaymentSucceeded
	case EventInvoicePaymentFailed:
		return d.handleInvoicePaymentFailed
	default:
		return nil
	}
}

// Dispatch processes one verified event. A nil error means the event is
// settled and must be acknowledged; the outcome says how it settled. A
// non-nil error means a transient failure: nothing was committed and the
// delivery should be rejected with a retryable status.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) (DispatchOutcome, error) {
	log := d.logger.With(
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	handler := d.handlerFor(event.Type)
	if handler == nil {
		log.Info("ignoring webhook event with no handler")
		return OutcomeIgnoredUnknown, nil
	}

	err := d.store.RunInTx(ctx, func(s TxStores) error {
		claimed, err := s.Events.ClaimSuccess(ctx, event.ID, d.clock.Now())
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyProcessed
		}
		return handler(ctx, s, event)
	})

	switch {
	case err == nil:
		log.Info("webhook event applied")
		return OutcomeApplied, nil

	case errors.Is(err, errAlreadyProcessed):
		log.Info("duplicate webhook delivery skipped")
		return OutcomeAlreadyProcessed, nil

	case isMalformed(err):
		// Terminal: redelivery would fail identically. Keep a failure record
		// for manual review, then acknowledge. The record write is
		// best-effort; losing it must not turn a terminal failure into a
		// retry loop.
		if recErr := d.store.RecordFailure(ctx, event.ID, err.Error(), d.clock.Now()); recErr != nil {
			log.Error("failed to record malformed event", slog.String("error", recErr.Error()))
		}
		log.Error("malformed webhook payload acknowledged", slog.String("error", err.Error()))
		return OutcomeAckedMalformed, nil

	default:
		log.Error("webhook event handling failed", slog.String("error", err.Error()))
		return "", err
	}
}

// isMalformed reports whether err is terminal for this payload: the bytes
// themselves cannot be processed, so redelivery is pointless.
func isMalformed(err error) bool {
	var appErr *types.AppError
	return errors.As(err, &appErr) && appErr.Code == types.ErrCodeWebhookPayloadMalformed
}

// resolveUserID correlates an event with a local user. The checkout flow
// stamps the local user ID into client_reference_id and metadata, so those
// win; otherwise fall back to the stored customer link. An unresolvable user
// is not an error: the row is written unattributed and the COALESCE in the
// upserts backfills user_id once a later event carries it.
func resolveUserID(ctx context.Context, users UserDirectory, clientRef string, metadata map[string]string, customerRef string) string {
	if clientRef != "" {
		return clientRef
	}
	if id := metadata["user_id"]; id != "" {
		return id
	}
	if customerRef == "" {
		return ""
	}
	user, err := users.GetByStripeCustomerID(ctx, customerRef)
	if err != nil {
		return ""
	}
	return user.ID
}

func (d *Dispatcher) handleCheckoutCompleted(ctx context.Context, s TxStores, event *Event) error {
	sess, err := event.checkoutSession()
	if err != nil {
		return err
	}

	userID := resolveUserID(ctx, s.Users, sess.ClientReferenceID, sess.Metadata, sess.Customer)
	if userID != "" && sess.Customer != "" {
		// First event that knows both sides of the user/customer link;
		// persist it so later customer-only events resolve.
		if err := s.Users.UpdateStripeCustomerID(ctx, userID, sess.Customer); err != nil {
			var appErr *types.AppError
			if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeNotFoundUser {
				return err
			}
			d.logger.Warn("checkout references unknown user",
				slog.String("event_id", event.ID),
				slog.String("user_id", userID),
			)
		}
	}

	return s.Payments.UpsertByCheckoutSession(ctx, &types.PaymentRecord{
		UserID:            userID,
		CheckoutSessionID: sess.ID,
		AmountCents:       sess.AmountTotal,
		Currency:          sess.Currency,
		Status:            types.PaymentCompleted,
	})
}

func (d *Dispatcher) handleSubscriptionUpserted(ctx context.Context, s TxStores, event *Event) error {
	sub, err := event.subscription()
	if err != nil {
		return err
	}
	return d.applySubscription(ctx, s, event, sub, mapSubscriptionStatus(sub.Status))
}

// handleSubscriptionDeleted forces status canceled regardless of the payload
// status field, matching the semantics of the deleted event.
func (d *Dispatcher) handleSubscriptionDeleted(ctx context.Context, s TxStores, event *Event) error {
	sub, err := event.subscription()
	if err != nil {
		return err
	}
	return d.applySubscription(ctx, s, event, sub, types.SubStatusCanceled)
}

func (d *Dispatcher) applySubscription(ctx context.Context, s TxStores, event *Event, sub *subscriptionPayload, status types.SubscriptionStatus) error {
	priceID := ""
	if len(sub.Items.Data) > 0 {
		priceID = sub.Items.Data[0].Price.ID
	}

	_, err := s.Subscriptions.Upsert(ctx, &types.Subscription{
		CustomerRef:      sub.Customer,
		SubscriptionRef:  sub.ID,
		UserID:           resolveUserID(ctx, s.Users, "", sub.Metadata, sub.Customer),
		Status:           status,
		PriceID:          priceID,
		CurrentPeriodEnd: time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}, event.OccurredAt())
	return err
}

func (d *Dispatcher) handleInvoicePaymentSucceeded(ctx context.Context, s TxStores, event *Event) error {
	inv, err := event.invoice()
	if err != nil {
		return err
	}

	rec := &types.PaymentRecord{
		UserID:      resolveUserID(ctx, s.Users, "", nil, inv.Customer),
		InvoiceID:   inv.ID,
		AmountCents: inv.AmountPaid,
		Currency:    inv.Currency,
		Status:      types.PaymentSucceeded,
	}
	if err := s.Payments.UpsertByInvoice(ctx, rec); err != nil {
		return err
	}

	if inv.Customer != "" && inv.PeriodEnd > 0 {
		return s.Subscriptions.ExtendPeriod(ctx, inv.Customer, time.Unix(inv.PeriodEnd, 0).UTC())
	}
	return nil
}

// handleInvoicePaymentFailed records the failed payment only. Subscription
// status is not touched here; the processor emits its own subscription
// events (past_due, canceled) as dunning progresses.
func (d *Dispatcher) handleInvoicePaymentFailed(ctx context.Context, s TxStores, event *Event) error {
	inv, err := event.invoice()
	if err != nil {
		return err
	}

	return s.Payments.UpsertByInvoice(ctx, &types.PaymentRecord{
		UserID:      resolveUserID(ctx, s.Users, "", nil, inv.Customer),
		InvoiceID:   inv.ID,
		AmountCents: inv.AmountDue,
		Currency:    inv.Currency,
		Status:      types.PaymentFailed,
	})
}
