package mailer

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/noah-isme/formatio-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	ToName    string
	ToAddress string
	Subject   string
	HTML      string
	PlainText string
}

// Sender delivers a message to a recipient.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridMailer delivers email through the SendGrid v3 API.
type SendGridMailer struct {
	client      *sendgrid.Client
	fromName    string
	fromAddress string
	logger      *zap.Logger
}

// NewSendGrid constructs a SendGrid-backed mailer.
func NewSendGrid(cfg config.MailerConfig, logger *zap.Logger) *SendGridMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendGridMailer{
		client:      sendgrid.NewSendClient(cfg.APIKey),
		fromName:    cfg.FromName,
		fromAddress: cfg.FromAddress,
		logger:      logger,
	}
}

// Send delivers a single message. Delivery errors are returned for the caller
// to log; the SendGrid error body is never forwarded to end users.
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	if msg.ToAddress == "" {
		return fmt.Errorf("recipient address required")
	}
	from := mail.NewEmail(m.fromName, m.fromAddress)
	to := mail.NewEmail(msg.ToName, msg.ToAddress)
	plain := msg.PlainText
	if plain == "" {
		plain = msg.Subject
	}
	email := mail.NewSingleEmail(from, msg.Subject, to, plain, msg.HTML)

	resp, err := m.client.SendWithContext(ctx, email)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		m.logger.Warn("sendgrid rejected message",
			zap.Int("status", resp.StatusCode),
			zap.String("to", msg.ToAddress),
			zap.String("subject", msg.Subject),
		)
		return fmt.Errorf("sendgrid rejected message: status %d", resp.StatusCode)
	}
	return nil
}

// NopSender discards messages, used when the mailer is disabled.
type NopSender struct{}

// Send implements Sender.
func (NopSender) Send(ctx context.Context, msg Message) error { return nil }
