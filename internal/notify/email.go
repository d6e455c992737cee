// Package notify delivers the side effects queued by bookings and leads.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailSender hides the delivery provider from the job handlers.
type EmailSender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

type EmailMessage struct {
	To      string
	ToName  string
	Subject string
	Body    string
}

type SendGridConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

type SendGridSender struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
	logger    zerolog.Logger
}

// NewSendGridSender returns nil when no API key is configured; callers fall
// back to the stub sender.
func NewSendGridSender(cfg SendGridConfig, logger zerolog.Logger) *SendGridSender {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.FromName == "" {
		cfg.FromName = "Clinic Bookings"
	}
	return &SendGridSender{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		logger:    logger.With().Str("component", "sendgrid").Logger(),
	}
}

func (s *SendGridSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: sendgrid client not configured")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(msg.ToName, msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, "")

	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("notify: sendgrid send failed: %w", err)
	}
	if response.StatusCode >= 400 {
		s.logger.Error().Int("status", response.StatusCode).Str("body", response.Body).Msg("sendgrid returned error status")
		return fmt.Errorf("notify: sendgrid returned status %d", response.StatusCode)
	}

	s.logger.Info().Str("subject", msg.Subject).Int("status", response.StatusCode).Msg("email sent via sendgrid")
	return nil
}

// StubEmailSender logs instead of sending. Used in dev and when SendGrid is
// not configured.
type StubEmailSender struct {
	logger zerolog.Logger
}

func NewStubEmailSender(logger zerolog.Logger) *StubEmailSender {
	return &StubEmailSender{logger: logger.With().Str("component", "email-stub").Logger()}
}

func (s *StubEmailSender) Send(_ context.Context, msg EmailMessage) error {
	s.logger.Info().Str("subject", msg.Subject).Msg("stub email sender: would send email")
	return nil
}

// NewEmailSender picks SendGrid when configured, the stub otherwise.
func NewEmailSender(cfg SendGridConfig, logger zerolog.Logger) EmailSender {
	if sg := NewSendGridSender(cfg, logger); sg != nil {
		return sg
	}
	return NewStubEmailSender(logger)
}
