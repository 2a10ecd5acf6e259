package yookassa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ugolek-shop/payments-api/internal/obs"
)

// ErrMissingCredentials signals that the shop id or secret key is not configured.
// The message deliberately names neither value's content.
var ErrMissingCredentials = errors.New("yookassa credentials are not configured")

// maxErrorBody bounds how much of an upstream error payload is retained for relaying.
const maxErrorBody = 64 << 10

// Credentials holds the two secrets the provider's Basic authorization is derived from.
type Credentials struct {
	ShopID    string
	SecretKey string
}

// Authorization assembles the Basic authorization header value. It fails
// closed when either secret is absent.
func (c Credentials) Authorization() (string, error) {
	shop := strings.TrimSpace(c.ShopID)
	secret := strings.TrimSpace(c.SecretKey)
	if shop == "" || secret == "" {
		return "", ErrMissingCredentials
	}
	token := base64.StdEncoding.EncodeToString([]byte(shop + ":" + secret))
	return "Basic " + token, nil
}

// APIError is a provider rejection. Status and body are relayed to the caller
// verbatim so the upstream diagnosis is never lost.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("yookassa: provider rejected request (status %d)", e.StatusCode)
}

// ProtocolError is a successful provider response that violates the API
// contract, e.g. a created payment without a confirmation URL. It indicates
// contract drift and surfaces as a bad gateway.
type ProtocolError struct {
	Operation string
	Missing   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("yookassa: %s response missing %s", e.Operation, e.Missing)
}

// Client is a minimal client for the provider's payments API. Every call is a
// single request: no retries, no caching. Idempotence keys make external
// retries of CreatePayment safe; GetPayment always re-queries because webhook
// verification depends on fresh ground truth.
type Client struct {
	BaseURL string
	Creds   Credentials
	HTTP    *http.Client
}

// NewClient constructs a Client. A nil httpClient falls back to a client with
// a 15 second timeout so outbound calls can never hang indefinitely.
func NewClient(baseURL string, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Creds:   creds,
		HTTP:    httpClient,
	}
}

// CreatePayment issues a single payment creation call with a freshly
// generated idempotence key. The key is never reused: a new logical attempt
// gets a new key, while network-level retries of the same outbound request
// are deduplicated by the provider.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	auth, err := c.Creds.Authorization()
	if err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer("yookassa.Client").Start(ctx, "YooKassa.CreatePayment")
	defer span.End()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/payments", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	idempotenceKey := uuid.NewString()
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Idempotence-Key", idempotenceKey)
	httpReq.Header.Set("Content-Type", "application/json")
	span.SetAttributes(attribute.String("yookassa.idempotence_key", idempotenceKey))

	payment, err := c.do(httpReq, "create_payment")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if payment.ID == "" {
		return nil, &ProtocolError{Operation: "create payment", Missing: "id"}
	}
	if payment.Confirmation.ConfirmationURL == "" {
		return nil, &ProtocolError{Operation: "create payment", Missing: "confirmation.confirmation_url"}
	}
	return payment, nil
}

// GetPayment fetches the authoritative state of a payment by its provider id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	auth, err := c.Creds.Authorization()
	if err != nil {
		return nil, err
	}
	ctx, span := otel.Tracer("yookassa.Client").Start(ctx, "YooKassa.GetPayment")
	defer span.End()
	span.SetAttributes(attribute.String("yookassa.payment_id", id))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", auth)
	httpReq.Header.Set("Content-Type", "application/json")

	payment, err := c.do(httpReq, "get_payment")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if payment.ID == "" {
		return nil, &ProtocolError{Operation: "get payment", Missing: "id"}
	}
	return payment, nil
}

func (c *Client) do(req *http.Request, operation string) (*Payment, error) {
	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if obs.ProviderRequestDuration != nil {
		obs.ProviderRequestDuration.WithLabelValues(operation).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		return nil, fmt.Errorf("yookassa: %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	var payment Payment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, &ProtocolError{Operation: operation, Missing: "valid JSON body"}
	}
	return &payment, nil
}
