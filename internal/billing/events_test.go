package billing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saasbase/internal/types"
)

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1748779200,
		"data": {"object": {"id": "cs_1"}}
	}`)

	event, err := parseEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	assert.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), event.OccurredAt())
}

func TestParseEvent_MissingEnvelopeFields(t *testing.T) {
	cases := map[string]string{
		"no id":    `{"type":"checkout.session.completed","data":{"object":{}}}`,
		"no type":  `{"id":"evt_1","data":{"object":{}}}`,
		"not json": `t=123,v1=deadbeef`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseEvent([]byte(payload))
			var appErr *types.AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, types.ErrCodeWebhookPayloadMalformed, appErr.Code)
		})
	}
}

func TestEventCheckoutSession(t *testing.T) {
	event, err := parseEvent([]byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"created": 1748779200,
		"data": {"object": {
			"id": "cs_1",
			"client_reference_id": "usr_42",
			"customer": "cus_9",
			"metadata": {"user_id": "usr_42"},
			"amount_total": 2900,
			"currency": "usd",
			"subscription": "sub_7"
		}}
	}`))
	require.NoError(t, err)

	session, err := event.checkoutSession()
	require.NoError(t, err)

	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "usr_42", session.ClientReferenceID)
	assert.Equal(t, "usr_42", session.Metadata["user_id"])
	assert.Equal(t, "cus_9", session.Customer)
	assert.Equal(t, int64(2900), session.AmountTotal)
	assert.Equal(t, "sub_7", session.Subscription)
}

func TestEventSubscription_MissingCustomer(t *testing.T) {
	event, err := parseEvent([]byte(`{
		"id": "evt_1",
		"type": "customer.subscription.updated",
		"data": {"object": {"id": "sub_7", "status": "active"}}
	}`))
	require.NoError(t, err)

	_, err = event.subscription()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeWebhookPayloadMalformed, appErr.Code)
}

func TestEventSubscription_PriceFromItems(t *testing.T) {
	event, err := parseEvent([]byte(`{
		"id": "evt_1",
		"type": "customer.subscription.created",
		"data": {"object": {
			"id": "sub_7",
			"customer": "cus_9",
			"status": "trialing",
			"current_period_end": 1751457600,
			"items": {"data": [{"price": {"id": "price_123"}}]}
		}}
	}`))
	require.NoError(t, err)

	sub, err := event.subscription()
	require.NoError(t, err)

	require.Len(t, sub.Items.Data, 1)
	assert.Equal(t, "price_123", sub.Items.Data[0].Price.ID)
	assert.Equal(t, types.SubStatusTrialing, mapSubscriptionStatus(sub.Status))
}

func TestMapSubscriptionStatus(t *testing.T) {
	assert.Equal(t, types.SubStatusActive, mapSubscriptionStatus("active"))
	assert.Equal(t, types.SubStatusPastDue, mapSubscriptionStatus("past_due"))
	assert.Equal(t, types.SubStatusCanceled, mapSubscriptionStatus("canceled"))

	// Unrecognized statuses pass through so a new vendor status is stored
	// rather than lost.
	assert.Equal(t, types.SubscriptionStatus("paused"), mapSubscriptionStatus("paused"))
}
