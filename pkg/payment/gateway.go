package payment

import "context"

// Metadata is the closed set of attributes attached to a payment intent.
// The provider stores it opaquely and echoes it back on webhook events.
type Metadata struct {
	UserID         string   `json:"user_id"`
	SchoolID       string   `json:"school_id"`
	ClassIDs       []string `json:"class_ids,omitempty"`
	EnrollmentType string   `json:"enrollment_type"`
}

// IntentRequest describes a new payment intent.
type IntentRequest struct {
	// Amount is a major-unit decimal; the wire encoding converts to cents.
	Amount     float64
	Currency   string
	CustomerID string
	Metadata   Metadata
}

// Intent is the provider's record of a single payment attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// Confirmation carries the result of a confirmed intent.
type Confirmation struct {
	IntentID   string
	ChargeID   string
	ReceiptURL string
}

// Event is a verified webhook notification from the provider.
type Event struct {
	ID       string
	Type     string
	IntentID string
	Metadata map[string]string
}

// Provider event types handled by the webhook ingress.
const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// Gateway is the capability surface over the external payment provider.
// It holds no business state; callers own retries and must never retry a
// mutating call in a way that could double-charge.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	ConfirmIntent(ctx context.Context, intentID string) (*Confirmation, error)
	Refund(ctx context.Context, intentID, reason string) (string, error)
	VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error)
}
