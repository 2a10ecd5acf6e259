package yookassa

// Payment statuses reported by the provider.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
)

// MetadataOrderIDKey is the metadata key correlating a payment to a local order.
const MetadataOrderIDKey = "order_id"

// Amount is the provider's fixed-point money representation.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Confirmation describes how the payer completes the payment. The request
// carries return_url, the response carries confirmation_url.
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

// CreatePaymentRequest is the payment creation payload.
type CreatePaymentRequest struct {
	Amount       Amount            `json:"amount"`
	Capture      bool              `json:"capture"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Payment is the provider-owned payment record. This service only ever reads it.
type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Confirmation Confirmation      `json:"confirmation"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// OrderID returns the correlated order identifier from payment metadata, if any.
func (p *Payment) OrderID() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata[MetadataOrderIDKey]
}

// Notification is the untrusted webhook body pushed by the provider.
// Only event and object.id are ever read from it; everything else is
// re-derived from the API before any action is taken.
type Notification struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}
