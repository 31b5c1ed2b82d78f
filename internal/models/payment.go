package models

import (
	"encoding/json"
	"time"
)

// PaymentStatus is the lifecycle of a checkout-backed payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusAbandoned PaymentStatus = "abandoned"
)

// Payment records one checkout attempt against a cohort.
type Payment struct {
	ID                string        `db:"id" json:"id"`
	CohortID          string        `db:"cohort_id" json:"cohort_id"`
	EnrollmentID      *string       `db:"enrollment_id" json:"enrollment_id,omitempty"`
	Email             string        `db:"email" json:"email"`
	FullName          *string       `db:"full_name" json:"full_name,omitempty"`
	AmountCents       int64         `db:"amount_cents" json:"amount_cents"`
	Currency          string        `db:"currency" json:"currency"`
	Status            PaymentStatus `db:"status" json:"status"`
	CheckoutSessionID string        `db:"checkout_session_id" json:"checkout_session_id"`
	PaymentIntentID   *string       `db:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CustomerID        *string       `db:"customer_id" json:"customer_id,omitempty"`
	DiscountCode      *string       `db:"discount_code" json:"discount_code,omitempty"`
	PaidAt            *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// WebhookEvent is the idempotency record for external webhook deliveries.
// The (provider, event_id) pair is unique; recording the event before
// processing makes at-least-once delivery safe.
type WebhookEvent struct {
	ID         string          `db:"id" json:"id"`
	Provider   string          `db:"provider" json:"provider"`
	EventID    string          `db:"event_id" json:"event_id"`
	EventType  string          `db:"event_type" json:"event_type"`
	Payload    json.RawMessage `db:"payload" json:"payload"`
	ReceivedAt time.Time       `db:"received_at" json:"received_at"`
}
