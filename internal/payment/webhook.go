package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugolek-shop/payments-api/internal/common"
	"github.com/ugolek-shop/payments-api/internal/obs"
	"github.com/ugolek-shop/payments-api/internal/order"
	"github.com/ugolek-shop/payments-api/internal/yookassa"
)

// maxWebhookBody bounds the accepted notification payload size.
const maxWebhookBody = 1 << 20

// ReplayStore is the slice of the Redis API used for webhook deduplication.
type ReplayStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Webhook processes provider notifications. The notification body is treated
// as untrusted input: the only fields ever read from it are the event name
// and the payment id, and the payment state is re-fetched from the provider
// before any local action. Delivery is at-least-once, so every path through
// Handle is safe to repeat.
type Webhook struct {
	Client    ProviderClient
	Orders    order.Store
	Replay    ReplayStore
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle verifies an inbound notification and applies the verified outcome.
//
// Responses: 400 for a malformed payload, 502 when verification against the
// provider fails (signals the sender to redeliver), 200 for everything else
// so the sender stops redelivering notifications this service has dealt with.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Client == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	ctx, span := otel.Tracer("payment.Webhook").Start(r.Context(), "PaymentWebhook.Handle")
	defer span.End()

	outcome := "error"
	defer func() {
		span.SetAttributes(attribute.String("webhook.outcome", outcome))
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(outcome).Inc()
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		outcome = "malformed"
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read payload", nil)
		return
	}
	var note yookassa.Notification
	if err := json.Unmarshal(body, &note); err != nil || note.Event == "" || note.Object.ID == "" {
		outcome = "malformed"
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_MALFORMED", "event and object.id are required", nil)
		return
	}
	span.SetAttributes(
		attribute.String("webhook.event", note.Event),
		attribute.String("webhook.payment_id", note.Object.ID),
	)

	// Fast path for byte-identical redeliveries. Correctness does not depend
	// on this: the mark-paid write is idempotent, so a replay that slips
	// through (or a disabled replay store) changes nothing.
	if h.Replay != nil && h.ReplayTTL > 0 {
		key := "ykwh:" + common.Sha256Hex(string(body))
		ok, err := h.Replay.SetNX(ctx, key, "1", h.ReplayTTL).Result()
		if err != nil {
			h.Logger.Warn().Err(err).Msg("webhook replay store unavailable")
		} else if !ok {
			outcome = "replay"
			common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
	}

	// Ground truth comes from the provider, never from the notification.
	payment, err := h.Client.GetPayment(ctx, note.Object.ID)
	if err != nil {
		outcome = "verify_failed"
		span.RecordError(err)
		h.Logger.Error().Err(err).
			Str("event", note.Event).
			Str("payment_id", note.Object.ID).
			Msg("webhook verification failed")
		h.writeVerifyFailure(w, err)
		return
	}
	if payment.Status != yookassa.StatusSucceeded {
		outcome = "verified_other"
		h.Logger.Info().
			Str("event", note.Event).
			Str("payment_id", payment.ID).
			Str("status", payment.Status).
			Msg("webhook verified, no action")
		common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	orderID := payment.OrderID()
	if orderID == "" {
		// The payment is genuinely settled but cannot be correlated to an
		// order. That is our data problem, not the sender's: acknowledge.
		outcome = "integrity_gap"
		if obs.IntegrityGapTotal != nil {
			obs.IntegrityGapTotal.Inc()
		}
		h.Logger.Error().
			Str("payment_id", payment.ID).
			Msg("verified payment has no order_id metadata")
		common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if h.Orders == nil {
		outcome = "store_disabled"
		h.Logger.Warn().
			Str("payment_id", payment.ID).
			Str("order_id", orderID).
			Msg("order store disabled, verified payment not persisted")
		common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	if err := h.Orders.MarkPaid(ctx, orderID, payment.ID); err != nil {
		// Verification succeeded, so the sender must not keep redelivering;
		// the failure is surfaced through logs and metrics instead.
		outcome = "store_error"
		span.RecordError(err)
		h.Logger.Error().Err(err).
			Str("payment_id", payment.ID).
			Str("order_id", orderID).
			Msg("mark order paid failed")
		common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	outcome = "succeeded"
	h.Logger.Info().
		Str("event", note.Event).
		Str("payment_id", payment.ID).
		Str("order_id", orderID).
		Msg("order marked paid")
	common.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// writeVerifyFailure responds with a retry-signaling status. 502 tells the
// sender the truth could not be confirmed this time and the notification
// should be delivered again.
func (h Webhook) writeVerifyFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, yookassa.ErrMissingCredentials) {
		common.JSONError(w, http.StatusInternalServerError, "CONFIG_ERROR", "provider credentials are not configured", nil)
		return
	}
	var apiErr *yookassa.APIError
	if errors.As(err, &apiErr) {
		common.JSONError(w, http.StatusBadGateway, "VERIFICATION_FAILED", "provider rejected verification request", map[string]any{
			"upstream_status": apiErr.StatusCode,
		})
		return
	}
	common.JSONError(w, http.StatusBadGateway, "VERIFICATION_FAILED", "unable to verify payment with provider", nil)
}
