package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/internal/models"
	"github.com/noah-isme/formatio-api/pkg/config"
	"github.com/noah-isme/formatio-api/pkg/jobs"
	"github.com/noah-isme/formatio-api/pkg/mailer"
)

type emailReflectionReader interface {
	FindResponseByID(ctx context.Context, id string) (*models.ReflectionResponse, error)
	FindQuestionByID(ctx context.Context, id string) (*models.ReflectionQuestion, error)
}

type emailEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type emailUserReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type emailCohortLister interface {
	List(ctx context.Context, filter models.CohortFilter) ([]models.CohortDetail, int, error)
}

type emailActivityCounter interface {
	CountSubmissionsSince(ctx context.Context, cohortID string, since time.Time) (int, error)
}

// EmailService composes and delivers all outbound mail. Delivery goes
// through a background queue so callers never block on SendGrid; every
// notification method is fire-and-forget and only logs on failure.
type EmailService struct {
	sender      mailer.Sender
	reflections emailReflectionReader
	enrollments emailEnrollmentReader
	users       emailUserReader
	cohorts     emailCohortLister
	activity    emailActivityCounter
	logger      *zap.Logger
	digest      config.DigestConfig

	queue   *jobs.Queue
	queued  func()
}

// NewEmailService constructs an EmailService with its delivery queue.
func NewEmailService(
	sender mailer.Sender,
	reflections emailReflectionReader,
	enrollments emailEnrollmentReader,
	users emailUserReader,
	cohorts emailCohortLister,
	activity emailActivityCounter,
	logger *zap.Logger,
	digest config.DigestConfig,
) *EmailService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sender == nil {
		sender = mailer.NopSender{}
	}
	s := &EmailService{
		sender:      sender,
		reflections: reflections,
		enrollments: enrollments,
		users:       users,
		cohorts:     cohorts,
		activity:    activity,
		logger:      logger,
		digest:      digest,
	}
	s.queue = jobs.NewQueue("email", s.deliver, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Logger:     logger,
	})
	return s
}

// OnQueued registers a callback invoked once per successfully enqueued
// message. Used for metrics.
func (s *EmailService) OnQueued(fn func()) {
	s.queued = fn
}

// Start launches the delivery workers and, when enabled, the digest loop.
func (s *EmailService) Start(ctx context.Context) {
	s.queue.Start(ctx)
	if s.digest.Enabled && s.digest.Recipient != "" {
		go s.runDigestLoop(ctx)
	}
}

// Stop drains the delivery workers.
func (s *EmailService) Stop() {
	s.queue.Stop()
}

func (s *EmailService) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(mailer.Message)
	if !ok {
		s.logger.Error("email job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.sender.Send(ctx, msg)
}

func (s *EmailService) enqueue(msg mailer.Message) {
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "email",
		Payload: msg,
	})
	if err != nil {
		s.logger.Warn("failed to enqueue email",
			zap.String("to", msg.ToAddress), zap.String("subject", msg.Subject), zap.Error(err))
		return
	}
	if s.queued != nil {
		s.queued()
	}
}

// OTPIssued mails a login code.
func (s *EmailService) OTPIssued(ctx context.Context, email, code string) {
	s.enqueue(mailer.Message{
		ToAddress: email,
		Subject:   "Your login code",
		PlainText: fmt.Sprintf("Your one-time login code is %s. It expires in 10 minutes.", code),
		HTML: fmt.Sprintf(
			"<p>Your one-time login code is:</p><p style=\"font-size:24px;letter-spacing:4px\"><strong>%s</strong></p><p>It expires in 10 minutes. If you did not request this, ignore this email.</p>",
			code),
	})
}

// EnrollmentInvited mails a cohort invitation.
func (s *EmailService) EnrollmentInvited(ctx context.Context, email, cohortName string) {
	s.enqueue(mailer.Message{
		ToAddress: email,
		Subject:   fmt.Sprintf("You're invited to %s", cohortName),
		PlainText: fmt.Sprintf("You have been invited to join %s. Sign in with your email address to get started.", cohortName),
		HTML: fmt.Sprintf(
			"<p>You have been invited to join <strong>%s</strong>.</p><p>Sign in with this email address to get started.</p>",
			cohortName),
	})
}

// ReflectionGraded mails the learner after feedback lands on a response.
// Lookup failures are logged and the notification dropped; grading itself
// already succeeded.
func (s *EmailService) ReflectionGraded(ctx context.Context, responseID string) {
	response, err := s.reflections.FindResponseByID(ctx, responseID)
	if err != nil {
		s.logger.Warn("graded notification skipped, response lookup failed",
			zap.String("response_id", responseID), zap.Error(err))
		return
	}
	enrollment, err := s.enrollments.FindByID(ctx, response.EnrollmentID)
	if err != nil {
		s.logger.Warn("graded notification skipped, enrollment lookup failed",
			zap.String("response_id", responseID), zap.Error(err))
		return
	}
	user, err := s.users.FindByID(ctx, enrollment.UserID)
	if err != nil {
		s.logger.Warn("graded notification skipped, user lookup failed",
			zap.String("response_id", responseID), zap.Error(err))
		return
	}
	question, err := s.reflections.FindQuestionByID(ctx, response.QuestionID)
	if err != nil {
		s.logger.Warn("graded notification skipped, question lookup failed",
			zap.String("response_id", responseID), zap.Error(err))
		return
	}

	subject := "Your reflection passed"
	lead := "Your reflection has been reviewed and passed."
	if response.Status == models.ReflectionStatusNeedsRevision {
		subject = "Your reflection needs revision"
		lead = "Your reflection has been reviewed and needs another pass."
	}
	feedback := ""
	if response.Feedback != nil && *response.Feedback != "" {
		feedback = *response.Feedback
	}

	plain := fmt.Sprintf("%s\n\nSession %d: %s", lead, question.SessionNumber, question.QuestionText)
	html := fmt.Sprintf("<p>%s</p><p><em>Session %d: %s</em></p>", lead, question.SessionNumber, question.QuestionText)
	if feedback != "" {
		plain += fmt.Sprintf("\n\nFeedback:\n%s", feedback)
		html += fmt.Sprintf("<p><strong>Feedback</strong></p><blockquote>%s</blockquote>", feedback)
	}

	s.enqueue(mailer.Message{
		ToName:    user.FullName,
		ToAddress: user.Email,
		Subject:   subject,
		PlainText: plain,
		HTML:      html,
	})
}

func (s *EmailService) runDigestLoop(ctx context.Context) {
	interval := s.digest.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("daily digest loop started",
		zap.Duration("interval", interval), zap.String("recipient", s.digest.Recipient))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendDigest(ctx, time.Now().UTC().Add(-interval)); err != nil {
				s.logger.Error("daily digest failed", zap.Error(err))
			}
		}
	}
}

// SendDigest mails a per-cohort count of reflection submissions since the
// cutoff. Cohorts with no submissions are omitted; an all-quiet period
// sends nothing.
func (s *EmailService) SendDigest(ctx context.Context, since time.Time) error {
	cohorts, _, err := s.cohorts.List(ctx, models.CohortFilter{Status: models.CohortStatusActive, PageSize: 200})
	if err != nil {
		return fmt.Errorf("list active cohorts: %w", err)
	}

	plain := "Reflection submissions since the last digest:\n"
	html := "<p>Reflection submissions since the last digest:</p><ul>"
	total := 0
	for _, cohort := range cohorts {
		count, err := s.activity.CountSubmissionsSince(ctx, cohort.ID, since)
		if err != nil {
			s.logger.Warn("digest count failed for cohort",
				zap.String("cohort_id", cohort.ID), zap.Error(err))
			continue
		}
		if count == 0 {
			continue
		}
		total += count
		plain += fmt.Sprintf("- %s: %d\n", cohort.Name, count)
		html += fmt.Sprintf("<li><strong>%s</strong>: %d</li>", cohort.Name, count)
	}
	html += "</ul>"

	if total == 0 {
		s.logger.Info("digest skipped, no submissions in window")
		return nil
	}

	s.enqueue(mailer.Message{
		ToAddress: s.digest.Recipient,
		Subject:   fmt.Sprintf("Daily digest: %d new reflection submissions", total),
		PlainText: plain,
		HTML:      html,
	})
	return nil
}
