package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/formatio-api/internal/models"
)

// PaymentRepository handles payment records and the webhook idempotency log.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, cohort_id, enrollment_id, email, full_name, amount_cents, currency, status, checkout_session_id, payment_intent_id, customer_id, discount_code, paid_at, created_at, updated_at`

// FindByCheckoutSession returns the payment for a checkout session id.
func (r *PaymentRepository) FindByCheckoutSession(ctx context.Context, checkoutSessionID string) (*models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE checkout_session_id = $1`, paymentColumns)
	var payment models.Payment
	if err := r.db.GetContext(ctx, &payment, query, checkoutSessionID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByCohort returns a cohort's payments, newest first.
func (r *PaymentRepository) ListByCohort(ctx context.Context, cohortID string) ([]models.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE cohort_id = $1 ORDER BY created_at DESC`, paymentColumns)
	var payments []models.Payment
	if err := r.db.SelectContext(ctx, &payments, query, cohortID); err != nil {
		return nil, fmt.Errorf("list cohort payments: %w", err)
	}
	return payments, nil
}

// Create persists a payment record.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	const query = `INSERT INTO payments (id, cohort_id, enrollment_id, email, full_name, amount_cents, currency,
        status, checkout_session_id, payment_intent_id, customer_id, discount_code, paid_at, created_at, updated_at)
        VALUES (:id, :cohort_id, :enrollment_id, :email, :full_name, :amount_cents, :currency,
        :status, :checkout_session_id, :payment_intent_id, :customer_id, :discount_code, :paid_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, payment); err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

// Complete marks a payment finished and attaches the processor identifiers.
func (r *PaymentRepository) Complete(ctx context.Context, id string, intentID, customerID *string, enrollmentID *string, paidAt time.Time) error {
	const query = `UPDATE payments SET status = $2,
        payment_intent_id = COALESCE($3, payment_intent_id),
        customer_id = COALESCE($4, customer_id),
        enrollment_id = COALESCE($5, enrollment_id),
        paid_at = $6, updated_at = $6
        WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.PaymentStatusCompleted, intentID, customerID, enrollmentID, paidAt); err != nil {
		return fmt.Errorf("complete payment: %w", err)
	}
	return nil
}

// UpdateStatus moves a payment between lifecycle states.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	const query = `UPDATE payments SET status = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// RecordWebhookEvent inserts the idempotency record for a delivery. It
// returns false when the (provider, event_id) pair was already recorded, so
// callers can acknowledge the duplicate without reprocessing.
func (r *PaymentRepository) RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}
	const query = `INSERT INTO webhook_events (id, provider, event_id, event_type, payload, received_at)
        VALUES (:id, :provider, :event_id, :event_type, :payload, :received_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	return true, nil
}
