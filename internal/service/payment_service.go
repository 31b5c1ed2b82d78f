package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	appErrors "github.com/noah-isme/formatio-api/pkg/errors"
	"github.com/noah-isme/formatio-api/pkg/webhooks"
)

type paymentRepository interface {
	FindByCheckoutSession(ctx context.Context, checkoutSessionID string) (*models.Payment, error)
	Create(ctx context.Context, payment *models.Payment) error
	Complete(ctx context.Context, id string, intentID, customerID *string, enrollmentID *string, paidAt time.Time) error
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus) error
	RecordWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
}

type paymentEnrollmentRepository interface {
	FindByUserAndCohort(ctx context.Context, userID, cohortID string) (*models.Enrollment, error)
	Create(ctx context.Context, enrollment *models.Enrollment) error
	UpdatePaymentState(ctx context.Context, id string, state models.PaymentState) error
	UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error
}

type paymentUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

// WebhookAck is the acknowledgment returned to the webhook sender. The
// sender always receives success so it stops retrying; Duplicate flags a
// redelivered event that performed no writes.
type WebhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

// stripeEvent is the envelope of a payment webhook delivery.
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object stripeCheckoutSession `json:"object"`
	} `json:"data"`
}

// stripeCheckoutSession carries the checkout fields the platform consumes.
type stripeCheckoutSession struct {
	ID              string `json:"id"`
	Customer        string `json:"customer"`
	PaymentIntent   string `json:"payment_intent"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
	Metadata struct {
		CohortID     string `json:"cohort_id"`
		DiscountCode string `json:"discount_code"`
	} `json:"metadata"`
}

// PaymentConfig holds webhook verification settings.
type PaymentConfig struct {
	WebhookSecret    string
	WebhookTolerance time.Duration
}

// PaymentService consumes payment webhooks and maintains payment records.
type PaymentService struct {
	repo        paymentRepository
	enrollments paymentEnrollmentRepository
	users       paymentUserRepository
	logger      *zap.Logger
	config      PaymentConfig
}

// NewPaymentService constructs a PaymentService instance.
func NewPaymentService(repo paymentRepository, enrollments paymentEnrollmentRepository, users paymentUserRepository, logger *zap.Logger, config PaymentConfig) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{repo: repo, enrollments: enrollments, users: users, logger: logger, config: config}
}

// HandleStripeWebhook verifies, deduplicates and processes one delivery.
// Processing failures after the event is recorded are logged and swallowed so
// the sender is acknowledged and stops retrying.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookAck, error) {
	if err := webhooks.VerifySignature(payload, signatureHeader, s.config.WebhookSecret, s.config.WebhookTolerance); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid webhook signature")
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidRequest.Code, appErrors.ErrInvalidRequest.Status, "malformed webhook payload")
	}
	if event.ID == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidRequest, "webhook event id missing")
	}

	recorded, err := s.repo.RecordWebhookEvent(ctx, &models.WebhookEvent{
		Provider:  "stripe",
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   payload,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record webhook event")
	}
	if !recorded {
		s.logger.Info("duplicate webhook delivery acknowledged",
			zap.String("provider", "stripe"), zap.String("event_id", event.ID))
		return &WebhookAck{Received: true, Duplicate: true, EventType: event.Type}, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		if err := s.processCheckoutCompleted(ctx, event.Data.Object); err != nil {
			s.logger.Error("checkout completion processing failed",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	case "checkout.session.expired":
		if err := s.processCheckoutExpired(ctx, event.Data.Object); err != nil {
			s.logger.Error("checkout expiry processing failed",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	default:
		s.logger.Debug("ignoring unhandled webhook event type", zap.String("type", event.Type))
	}

	return &WebhookAck{Received: true, EventType: event.Type}, nil
}

// processCheckoutCompleted completes the payment record and activates (or
// creates) the buyer's enrollment.
func (s *PaymentService) processCheckoutCompleted(ctx context.Context, session stripeCheckoutSession) error {
	payment, err := s.repo.FindByCheckoutSession(ctx, session.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		payment = &models.Payment{
			CohortID:          session.Metadata.CohortID,
			Email:             session.CustomerDetails.Email,
			AmountCents:       session.AmountTotal,
			Currency:          session.Currency,
			Status:            models.PaymentStatusPending,
			CheckoutSessionID: session.ID,
		}
		if session.CustomerDetails.Name != "" {
			payment.FullName = &session.CustomerDetails.Name
		}
		if session.Metadata.DiscountCode != "" {
			payment.DiscountCode = &session.Metadata.DiscountCode
		}
		if err := s.repo.Create(ctx, payment); err != nil {
			return err
		}
	}
	if payment.Status == models.PaymentStatusCompleted {
		return nil
	}

	enrollment, err := s.resolveEnrollment(ctx, payment, session)
	if err != nil {
		return err
	}

	var enrollmentID *string
	if enrollment != nil {
		enrollmentID = &enrollment.ID
		if err := s.enrollments.UpdatePaymentState(ctx, enrollment.ID, models.PaymentStatePaid); err != nil {
			return err
		}
		if enrollment.Status == models.EnrollmentStatusInvited || enrollment.Status == models.EnrollmentStatusAccepted {
			if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, models.EnrollmentStatusActive); err != nil {
				return err
			}
		}
	}

	var intentID, customerID *string
	if session.PaymentIntent != "" {
		intentID = &session.PaymentIntent
	}
	if session.Customer != "" {
		customerID = &session.Customer
	}
	return s.repo.Complete(ctx, payment.ID, intentID, customerID, enrollmentID, time.Now().UTC())
}

// resolveEnrollment finds or creates the enrollment the payment buys.
func (s *PaymentService) resolveEnrollment(ctx context.Context, payment *models.Payment, session stripeCheckoutSession) (*models.Enrollment, error) {
	cohortID := payment.CohortID
	if cohortID == "" {
		cohortID = session.Metadata.CohortID
	}
	email := payment.Email
	if email == "" {
		email = session.CustomerDetails.Email
	}
	if cohortID == "" || email == "" {
		s.logger.Warn("checkout completed without cohort or email, skipping enrollment",
			zap.String("checkout_session_id", session.ID))
		return nil, nil
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		fullName := email
		if session.CustomerDetails.Name != "" {
			fullName = session.CustomerDetails.Name
		}
		user = &models.User{
			Email:    email,
			FullName: fullName,
			Role:     models.RoleStudent,
			Active:   true,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, err
		}
	}

	enrollment, err := s.enrollments.FindByUserAndCohort(ctx, user.ID, cohortID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		enrollment = &models.Enrollment{
			UserID:       user.ID,
			CohortID:     cohortID,
			Role:         models.RoleStudent,
			Status:       models.EnrollmentStatusActive,
			PaymentState: models.PaymentStatePaid,
		}
		if err := s.enrollments.Create(ctx, enrollment); err != nil {
			return nil, err
		}
	}
	return enrollment, nil
}

// processCheckoutExpired abandons the pending payment, if any.
func (s *PaymentService) processCheckoutExpired(ctx context.Context, session stripeCheckoutSession) error {
	payment, err := s.repo.FindByCheckoutSession(ctx, session.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	}
	if payment.Status != models.PaymentStatusPending {
		return nil
	}
	return s.repo.UpdateStatus(ctx, payment.ID, models.PaymentStatusAbandoned)
}
