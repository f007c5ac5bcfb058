package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"saasbase/internal/types"
)

// fixedClock pins the dispatcher's processed-at timestamps.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory Store with transactional semantics: RunInTx
// serializes callers and discards all staged writes when the handler returns
// an error, mirroring what the Postgres-backed store does with a real
// transaction.
type memStore struct {
	mu sync.Mutex

	ledger          map[string]types.EventOutcome
	failureDetails  map[string]string
	payments        map[string]*types.PaymentRecord
	subs            map[string]*types.Subscription
	userLinks       map[string]string
	usersByCustomer map[string]*types.User

	paymentWrites int

	// injected transient failures
	subErr error
	payErr error
}

func newMemStore() *memStore {
	return &memStore{
		ledger:          map[string]types.EventOutcome{},
		failureDetails:  map[string]string{},
		payments:        map[string]*types.PaymentRecord{},
		subs:            map[string]*types.Subscription{},
		userLinks:       map[string]string{},
		usersByCustomer: map[string]*types.User{},
	}
}

func (s *memStore) RunInTx(ctx context.Context, fn func(TxStores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s}
	err := fn(TxStores{Events: tx, Subscriptions: tx, Payments: tx, Users: tx})
	if err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *memStore) RecordFailure(ctx context.Context, eventID, detail string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger[eventID] == types.OutcomeSuccess {
		return nil
	}
	s.ledger[eventID] = types.OutcomeFailure
	s.failureDetails[eventID] = detail
	return nil
}

// memTx stages writes until commit.
type memTx struct {
	store *memStore

	claimedEvent string
	payments     []*types.PaymentRecord
	subs         []*types.Subscription
	links        map[string]string
}

func (tx *memTx) commit() {
	s := tx.store
	if tx.claimedEvent != "" {
		s.ledger[tx.claimedEvent] = types.OutcomeSuccess
		delete(s.failureDetails, tx.claimedEvent)
	}
	for _, rec := range tx.payments {
		key := rec.CheckoutSessionID + "|" + rec.InvoiceID
		s.payments[key] = rec
		s.paymentWrites++
	}
	for _, sub := range tx.subs {
		s.subs[sub.CustomerRef] = sub
	}
	for userID, customerID := range tx.links {
		s.userLinks[userID] = customerID
	}
}

func (tx *memTx) ClaimSuccess(ctx context.Context, eventID string, processedAt time.Time) (bool, error) {
	if tx.store.ledger[eventID] == types.OutcomeSuccess {
		return false, nil
	}
	tx.claimedEvent = eventID
	return true, nil
}

func (tx *memTx) Upsert(ctx context.Context, sub *types.Subscription, eventAt time.Time) (bool, error) {
	if tx.store.subErr != nil {
		return false, tx.store.subErr
	}
	if existing, ok := tx.store.subs[sub.CustomerRef]; ok && !existing.LastEventAt.Before(eventAt) {
		return false, nil
	}
	staged := *sub
	staged.LastEventAt = eventAt
	tx.subs = append(tx.subs, &staged)
	return true, nil
}

func (tx *memTx) ExtendPeriod(ctx context.Context, customerRef string, periodEnd time.Time) error {
	if existing, ok := tx.store.subs[customerRef]; ok && periodEnd.After(existing.CurrentPeriodEnd) {
		updated := *existing
		updated.CurrentPeriodEnd = periodEnd
		tx.subs = append(tx.subs, &updated)
	}
	return nil
}

func (tx *memTx) UpsertByCheckoutSession(ctx context.Context, rec *types.PaymentRecord) error {
	if tx.store.payErr != nil {
		return tx.store.payErr
	}
	staged := *rec
	tx.payments = append(tx.payments, &staged)
	return nil
}

func (tx *memTx) UpsertByInvoice(ctx context.Context, rec *types.PaymentRecord) error {
	if tx.store.payErr != nil {
		return tx.store.payErr
	}
	staged := *rec
	tx.payments = append(tx.payments, &staged)
	return nil
}

func (tx *memTx) GetByStripeCustomerID(ctx context.Context, customerID string) (*types.User, error) {
	if user, ok := tx.store.usersByCustomer[customerID]; ok {
		return user, nil
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
}

func (tx *memTx) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	if tx.links == nil {
		tx.links = map[string]string{}
	}
	tx.links[userID] = customerID
	return nil
}

func newTestDispatcher(store Store) *Dispatcher {
	return NewDispatcher(store, fixedClock{now: testNow}, nil)
}

// testEvent builds an Event with the given data object.
func testEvent(t *testing.T, id, eventType string, created time.Time, object any) *Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &Event{
		ID:      id,
		Type:    eventType,
		Created: created.Unix(),
		Data:    eventData{Object: raw},
	}
}

func TestDispatch_CheckoutCompleted(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_1", EventCheckoutCompleted, testNow, map[string]any{
		"id":                  "cs_test_1",
		"client_reference_id": "usr_42",
		"customer":            "cus_9",
		"amount_total":        2500,
		"currency":            "usd",
	})

	outcome, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}

	rec := store.payments["cs_test_1|"]
	if rec == nil {
		t.Fatal("expected payment record keyed by checkout session")
	}
	if rec.UserID != "usr_42" || rec.AmountCents != 2500 || rec.Status != types.PaymentCompleted {
		t.Errorf("unexpected payment record: %+v", rec)
	}
	if store.userLinks["usr_42"] != "cus_9" {
		t.Error("expected user linked to processor customer")
	}
	if store.ledger["evt_1"] != types.OutcomeSuccess {
		t.Error("expected success ledger entry")
	}
}

func TestDispatch_DuplicateDelivery(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_dup", EventCheckoutCompleted, testNow, map[string]any{
		"id": "cs_test_1", "amount_total": 1000, "currency": "usd",
	})

	if outcome, err := d.Dispatch(context.Background(), event); err != nil || outcome != OutcomeApplied {
		t.Fatalf("first dispatch: outcome=%s err=%v", outcome, err)
	}
	outcome, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", outcome)
	}
	if store.paymentWrites != 1 {
		t.Errorf("expected exactly one payment write, got %d", store.paymentWrites)
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_x", "customer.created", testNow, map[string]any{"id": "cus_1"})

	outcome, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != OutcomeIgnoredUnknown {
		t.Fatalf("expected ignored_unknown, got %s", outcome)
	}
	if len(store.ledger) != 0 {
		t.Error("unknown event types must not touch the ledger")
	}
}

func TestDispatch_MalformedPayloadAcked(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	// Known type, but the object is missing its required id.
	event := testEvent(t, "evt_bad", EventCheckoutCompleted, testNow, map[string]any{
		"amount_total": 100,
	})

	outcome, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != OutcomeAckedMalformed {
		t.Fatalf("expected acked_malformed, got %s", outcome)
	}
	if store.ledger["evt_bad"] != types.OutcomeFailure {
		t.Error("expected failure ledger entry for manual review")
	}
	if store.failureDetails["evt_bad"] == "" {
		t.Error("expected failure detail to be recorded")
	}
	if store.paymentWrites != 0 {
		t.Error("malformed event must not write payments")
	}
}

func TestDispatch_TransientFailureRetries(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_retry", EventSubscriptionUpdated, testNow, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
	})

	store.subErr = types.NewAppError(types.ErrCodeInternalDB, "connection reset", nil)
	if _, err := d.Dispatch(context.Background(), event); err == nil {
		t.Fatal("expected transient error to surface")
	}
	if store.ledger["evt_retry"] == types.OutcomeSuccess {
		t.Fatal("claim must roll back with the failed transaction")
	}

	// Redelivery after the fault clears must succeed.
	store.subErr = nil
	outcome, err := d.Dispatch(context.Background(), event)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied on redelivery, got %s", outcome)
	}
	if store.subs["cus_1"] == nil {
		t.Fatal("expected subscription row after redelivery")
	}
}

func TestDispatch_OutOfOrderSubscriptionEvents(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	newer := testEvent(t, "evt_new", EventSubscriptionUpdated, testNow, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
	})
	older := testEvent(t, "evt_old", EventSubscriptionUpdated, testNow.Add(-time.Hour), map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "past_due",
	})

	if _, err := d.Dispatch(context.Background(), newer); err != nil {
		t.Fatalf("newer event: %v", err)
	}
	outcome, err := d.Dispatch(context.Background(), older)
	if err != nil {
		t.Fatalf("older event: %v", err)
	}
	// The stale event still settles; it just must not regress state.
	if outcome != OutcomeApplied {
		t.Fatalf("expected applied, got %s", outcome)
	}
	if store.subs["cus_1"].Status != types.SubStatusActive {
		t.Errorf("stale event regressed status to %s", store.subs["cus_1"].Status)
	}
}

func TestDispatch_SubscriptionDeletedForcesCanceled(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_del", EventSubscriptionDeleted, testNow, map[string]any{
		"id": "sub_1", "customer": "cus_1", "status": "active",
	})

	if _, err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := store.subs["cus_1"].Status; got != types.SubStatusCanceled {
		t.Errorf("expected canceled, got %s", got)
	}
}

func TestDispatch_InvoicePaymentSucceeded(t *testing.T) {
	store := newMemStore()
	store.subs["cus_1"] = &types.Subscription{
		CustomerRef:      "cus_1",
		Status:           types.SubStatusActive,
		CurrentPeriodEnd: testNow,
		LastEventAt:      testNow.Add(-time.Hour),
	}
	store.usersByCustomer["cus_1"] = &types.User{ID: "usr_7"}
	d := newTestDispatcher(store)

	periodEnd := testNow.Add(30 * 24 * time.Hour)
	event := testEvent(t, "evt_inv", EventInvoicePaymentSucceeded, testNow, map[string]any{
		"id": "in_1", "customer": "cus_1", "amount_paid": 2500,
		"currency": "usd", "period_end": periodEnd.Unix(),
	})

	if _, err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	rec := store.payments["|in_1"]
	if rec == nil {
		t.Fatal("expected payment record keyed by invoice")
	}
	if rec.UserID != "usr_7" || rec.Status != types.PaymentSucceeded {
		t.Errorf("unexpected payment record: %+v", rec)
	}
	if !store.subs["cus_1"].CurrentPeriodEnd.Equal(periodEnd) {
		t.Errorf("expected period end extended to %v, got %v", periodEnd, store.subs["cus_1"].CurrentPeriodEnd)
	}
}

func TestDispatch_InvoicePaymentFailed(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_fail", EventInvoicePaymentFailed, testNow, map[string]any{
		"id": "in_2", "customer": "cus_1", "amount_due": 2500, "currency": "usd",
	})

	if _, err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := store.payments["|in_2"]
	if rec == nil || rec.Status != types.PaymentFailed || rec.AmountCents != 2500 {
		t.Errorf("unexpected payment record: %+v", rec)
	}
	if len(store.subs) != 0 {
		t.Error("failed invoice must not touch subscription state")
	}
}

// Two distinct events for the same checkout session are both applied, but
// the upsert keyed on the session ID converges them to a single record.
func TestDispatch_DistinctEventsSameCheckoutSession(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	first := testEvent(t, "evt_a", EventCheckoutCompleted, testNow, map[string]any{
		"id": "cs_test_1", "client_reference_id": "usr_42", "amount_total": 1000, "currency": "usd",
	})
	second := testEvent(t, "evt_b", EventCheckoutCompleted, testNow.Add(time.Minute), map[string]any{
		"id": "cs_test_1", "client_reference_id": "usr_42", "amount_total": 1000, "currency": "usd",
	})

	for _, event := range []*Event{first, second} {
		outcome, err := d.Dispatch(context.Background(), event)
		if err != nil {
			t.Fatalf("Dispatch %s: %v", event.ID, err)
		}
		if outcome != OutcomeApplied {
			t.Fatalf("event %s: expected applied, got %s", event.ID, outcome)
		}
	}

	if len(store.payments) != 1 {
		t.Fatalf("expected one converged payment record, got %d", len(store.payments))
	}
	rec := store.payments["cs_test_1|"]
	if rec == nil || rec.Status != types.PaymentCompleted || rec.AmountCents != 1000 {
		t.Errorf("unexpected converged record: %+v", rec)
	}
}

// Concurrent deliveries of the same event must apply side effects exactly
// once; the rest settle as duplicates.
func TestDispatch_ConcurrentSameEvent(t *testing.T) {
	store := newMemStore()
	d := newTestDispatcher(store)

	event := testEvent(t, "evt_race", EventCheckoutCompleted, testNow, map[string]any{
		"id": "cs_test_1", "amount_total": 1000, "currency": "usd",
	})

	const deliveries = 8
	outcomes := make([]DispatchOutcome, deliveries)

	var g errgroup.Group
	for i := 0; i < deliveries; i++ {
		g.Go(func() error {
			outcome, err := d.Dispatch(context.Background(), event)
			if err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	applied := 0
	for _, outcome := range outcomes {
		if outcome == OutcomeApplied {
			applied++
		} else if outcome != OutcomeAlreadyProcessed {
			t.Errorf("unexpected outcome %s", outcome)
		}
	}
	if applied != 1 {
		t.Errorf("expected exactly one applied delivery, got %d", applied)
	}
	if store.paymentWrites != 1 {
		t.Errorf("expected exactly one payment write, got %d", store.paymentWrites)
	}
}
