package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/ugolek-shop/payments-api/internal/common"
	"github.com/ugolek-shop/payments-api/internal/obs"
	"github.com/ugolek-shop/payments-api/internal/yookassa"
)

// ProviderClient is the slice of the provider API the handlers depend on.
type ProviderClient interface {
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest) (*yookassa.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*yookassa.Payment, error)
}

// Handler exposes the payment creation and status endpoints.
type Handler struct {
	Client    ProviderClient
	ReturnURL string
	Currency  string
	Validate  *validator.Validate
	Logger    zerolog.Logger
}

type createReq struct {
	Amount      json.Number `json:"amount" validate:"required"`
	OrderID     string      `json:"orderId" validate:"required"`
	Description string      `json:"description" validate:"omitempty,max=128"`
}

type createResp struct {
	PaymentID       string `json:"payment_id"`
	ConfirmationURL string `json:"confirmation_url"`
}

type statusResp struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Paid     bool              `json:"paid"`
	Amount   yookassa.Amount   `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Create validates the inbound request and opens a payment with the provider.
// Validation and configuration problems are resolved locally; the provider is
// only called once both have passed.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Client == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	result := "error"
	defer func() {
		if obs.PaymentCreateTotal != nil {
			obs.PaymentCreateTotal.WithLabelValues(result).Inc()
		}
	}()

	var req createReq
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		result = "validation"
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			result = "validation"
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
	}
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.OrderID == "" {
		result = "validation"
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	amount, err := yookassa.NormalizeAmount(req.Amount)
	if err != nil {
		result = "validation"
		common.JSONError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a positive number", nil)
		return
	}
	returnURL, err := h.returnURLFor(req.OrderID)
	if err != nil {
		result = "config"
		common.JSONError(w, http.StatusInternalServerError, "CONFIG_ERROR", err.Error(), nil)
		return
	}

	payment, err := h.Client.CreatePayment(r.Context(), yookassa.CreatePaymentRequest{
		Amount:       yookassa.Amount{Value: amount, Currency: h.Currency},
		Capture:      true,
		Confirmation: yookassa.Confirmation{Type: "redirect", ReturnURL: returnURL},
		Description:  description(req.Description, req.OrderID),
		Metadata:     map[string]string{yookassa.MetadataOrderIDKey: req.OrderID},
	})
	if err != nil {
		result = writeProviderError(w, h.Logger, "create payment", err)
		return
	}
	result = "success"
	common.JSON(w, http.StatusOK, createResp{
		PaymentID:       payment.ID,
		ConfirmationURL: payment.Confirmation.ConfirmationURL,
	})
}

// Status re-queries the provider for the current state of a payment.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Client == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	paymentID := strings.TrimSpace(r.URL.Query().Get("payment_id"))
	if paymentID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "payment_id is required", nil)
		return
	}
	payment, err := h.Client.GetPayment(r.Context(), paymentID)
	if err != nil {
		writeProviderError(w, h.Logger, "get payment", err)
		return
	}
	common.JSON(w, http.StatusOK, statusResp{
		ID:       payment.ID,
		Status:   payment.Status,
		Paid:     payment.Paid,
		Amount:   payment.Amount,
		Metadata: payment.Metadata,
	})
}

// returnURLFor derives the redirect target from configuration. Callers cannot
// supply their own return URL; the configured base is the single source.
func (h *Handler) returnURLFor(orderID string) (string, error) {
	base := strings.TrimSpace(h.ReturnURL)
	if base == "" {
		return "", errors.New("return url is not configured")
	}
	return strings.TrimRight(base, "/") + "/?pay=return&order=" + url.QueryEscape(orderID), nil
}

func description(custom, orderID string) string {
	text := strings.TrimSpace(custom)
	if text == "" {
		text = fmt.Sprintf("Заказ #%s", orderID)
	}
	runes := []rune(text)
	if len(runes) > 128 {
		return string(runes[:128])
	}
	return text
}

// writeProviderError maps client errors onto the response and returns the
// metric label for the outcome. Provider rejections are relayed verbatim.
func writeProviderError(w http.ResponseWriter, logger zerolog.Logger, op string, err error) string {
	if errors.Is(err, yookassa.ErrMissingCredentials) {
		common.JSONError(w, http.StatusInternalServerError, "CONFIG_ERROR", "provider credentials are not configured", nil)
		return "config"
	}
	var apiErr *yookassa.APIError
	if errors.As(err, &apiErr) {
		common.Relay(w, apiErr.StatusCode, apiErr.Body)
		return "upstream_rejected"
	}
	var protoErr *yookassa.ProtocolError
	if errors.As(err, &protoErr) {
		logger.Error().Err(err).Str("op", op).Msg("provider contract violation")
		common.JSONError(w, http.StatusBadGateway, "UPSTREAM_PROTOCOL", protoErr.Error(), nil)
		return "upstream_protocol"
	}
	logger.Error().Err(err).Str("op", op).Msg("provider unreachable")
	common.JSONError(w, http.StatusBadGateway, "UPSTREAM_UNREACHABLE", "provider request failed", nil)
	return "upstream_unreachable"
}
