package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PaymentStatus represents the lifecycle of a payment.
type PaymentStatus string

// Possible payment statuses. A payment never regresses: COMPLETED is reached
// only through a verified confirmation and REFUNDED only from COMPLETED.
const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusCompleted  PaymentStatus = "COMPLETED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

// PaymentType categorises what a payment was for.
type PaymentType string

const (
	PaymentTypeEnrollment PaymentType = "ENROLLMENT"
	PaymentTypeCourse     PaymentType = "COURSE"
	PaymentTypeEvent      PaymentType = "EVENT"
)

// PaymentMetadata is the closed, versioned structure attached to a payment
// and echoed back by the provider on webhooks.
type PaymentMetadata struct {
	SchoolID       string   `json:"school_id,omitempty"`
	ClassIDs       []string `json:"class_ids,omitempty"`
	EnrollmentType string   `json:"enrollment_type,omitempty"`
}

// Value implements driver.Valuer for JSONB storage.
func (m PaymentMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for JSONB storage.
func (m *PaymentMetadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = PaymentMetadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
}

// Payment is the persisted ledger record for a provider payment intent.
// ProviderIntentID is unique and acts as the idempotency anchor for
// webhook-driven confirmation.
type Payment struct {
	ID                 string          `db:"id" json:"id"`
	UserID             string          `db:"user_id" json:"user_id"`
	Amount             float64         `db:"amount" json:"amount"`
	Currency           string          `db:"currency" json:"currency"`
	Type               PaymentType     `db:"type" json:"type"`
	Status             PaymentStatus   `db:"status" json:"status"`
	ProviderIntentID   string          `db:"provider_intent_id" json:"provider_intent_id"`
	ProviderCustomerID string          `db:"provider_customer_id" json:"provider_customer_id"`
	ReceiptURL         *string         `db:"receipt_url" json:"receipt_url,omitempty"`
	RefundReason       *string         `db:"refund_reason" json:"refund_reason,omitempty"`
	Metadata           PaymentMetadata `db:"metadata" json:"metadata"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentFilter captures filtering criteria for listing payments.
type PaymentFilter struct {
	UserID   string
	Status   PaymentStatus
	Type     PaymentType
	Page     int
	PageSize int
}
