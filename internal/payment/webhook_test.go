package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ugolek-shop/payments-api/internal/order"
	"github.com/ugolek-shop/payments-api/internal/payment"
	"github.com/ugolek-shop/payments-api/internal/yookassa"
)

type failingStore struct {
	calls int
}

func (s *failingStore) MarkPaid(context.Context, string, string) error {
	s.calls++
	return errors.New("orders relation unavailable")
}

func newWebhook(client payment.ProviderClient, orders order.Store) payment.Webhook {
	return payment.Webhook{
		Client: client,
		Orders: orders,
		Logger: zerolog.Nop(),
	}
}

func deliver(t *testing.T, h payment.Webhook, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/yookassa", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

const succeededNote = `{"event":"payment.succeeded","object":{"id":"pay_9","status":"succeeded"}}`

func TestWebhookMarksVerifiedPaymentPaid(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Paid:     true,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}

	rec := deliver(t, newWebhook(provider, orders), succeededNote)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"pay_9"}, provider.getCalls)

	stored, ok := orders.Get("O9")
	require.True(t, ok)
	require.Equal(t, "pay_9", stored.PaymentID)
	require.Equal(t, "paid", stored.Status)
	require.True(t, stored.IsPaid)
	require.Equal(t, order.PaymentMethod, stored.PaymentMethod)
}

func TestWebhookNeverTrustsNotificationBody(t *testing.T) {
	t.Parallel()

	// The notification claims success, but the provider says pending.
	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusPending,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}

	rec := deliver(t, newWebhook(provider, orders), succeededNote)
	require.Equal(t, http.StatusOK, rec.Code, "verified non-final state is acknowledged")
	require.Equal(t, []string{"pay_9"}, provider.getCalls, "state is re-fetched before acting")

	_, ok := orders.Get("O9")
	require.False(t, ok, "order state must follow the provider, not the notification")
}

func TestWebhookVerificationFailureSignalsRetry(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getErr: errors.New("dial tcp: connection refused")}
	orders := &order.Memory{}

	rec := deliver(t, newWebhook(provider, orders), succeededNote)
	require.Equal(t, http.StatusBadGateway, rec.Code, "unverifiable delivery asks the sender to retry")
	require.Contains(t, rec.Body.String(), "VERIFICATION_FAILED")

	_, ok := orders.Get("O9")
	require.False(t, ok, "no mutation without verification")
}

func TestWebhookMalformedPayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{name: "not json", body: `not json`},
		{name: "missing event", body: `{"object":{"id":"pay_9"}}`},
		{name: "missing object id", body: `{"event":"payment.succeeded","object":{}}`},
		{name: "empty body", body: ``},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{}
			rec := deliver(t, newWebhook(provider, &order.Memory{}), tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Empty(t, provider.getCalls, "malformed payloads are rejected before verification")
		})
	}
}

func TestWebhookDuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}
	h := newWebhook(provider, orders)

	for i := 0; i < 3; i++ {
		rec := deliver(t, h, succeededNote)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	stored, ok := orders.Get("O9")
	require.True(t, ok)
	require.Equal(t, "pay_9", stored.PaymentID)
	require.True(t, stored.IsPaid)
}

func TestWebhookReplayFastPath(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}
	h := payment.Webhook{
		Client:    provider,
		Orders:    orders,
		Replay:    client,
		ReplayTTL: time.Hour,
		Logger:    zerolog.Nop(),
	}

	first := deliver(t, h, succeededNote)
	require.Equal(t, http.StatusOK, first.Code)
	second := deliver(t, h, succeededNote)
	require.Equal(t, http.StatusOK, second.Code, "redelivery is acknowledged, not rejected")

	require.Len(t, provider.getCalls, 1, "byte-identical redelivery short-circuits before verification")
	_, ok := orders.Get("O9")
	require.True(t, ok)
}

func TestWebhookReplayStoreOutageFailsOpen(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.SetError("LOADING Redis is loading the dataset in memory")

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}
	h := payment.Webhook{
		Client:    provider,
		Orders:    orders,
		Replay:    client,
		ReplayTTL: time.Hour,
		Logger:    zerolog.Nop(),
	}

	rec := deliver(t, h, succeededNote)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, provider.getCalls, 1, "dedup outage falls through to full verification")
	_, ok := orders.Get("O9")
	require.True(t, ok)
}

func TestWebhookIntegrityGapAcknowledged(t *testing.T) {
	t.Parallel()

	// Settled payment with no order correlation: our data problem, not the
	// sender's, so the delivery is acknowledged.
	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:     "pay_9",
		Status: yookassa.StatusSucceeded,
	}}
	orders := &order.Memory{}

	rec := deliver(t, newWebhook(provider, orders), succeededNote)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := orders.Get("")
	require.False(t, ok)
}

func TestWebhookStoreErrorStillAcknowledged(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	store := &failingStore{}

	rec := deliver(t, newWebhook(provider, store), succeededNote)
	require.Equal(t, http.StatusOK, rec.Code, "verification succeeded, so redelivery would not help")
	require.Equal(t, 1, store.calls)
}

func TestWebhookWithoutOrderStore(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusSucceeded,
		Metadata: map[string]string{"order_id": "O9"},
	}}

	rec := deliver(t, newWebhook(provider, nil), succeededNote)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookCanceledPaymentTakesNoAction(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{getResp: &yookassa.Payment{
		ID:       "pay_9",
		Status:   yookassa.StatusCanceled,
		Metadata: map[string]string{"order_id": "O9"},
	}}
	orders := &order.Memory{}

	rec := deliver(t, newWebhook(provider, orders), `{"event":"payment.canceled","object":{"id":"pay_9"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok := orders.Get("O9")
	require.False(t, ok)
}
