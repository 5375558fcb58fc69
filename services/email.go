package services

import (
	"context"
	"fmt"

	"toeicprep/config"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

type Email struct {
	ToAddress string
	ToName    string
	Subject   string
	HTML      string
	Text      string
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

// NewSendGridMailer sends through the SendGrid v3 API. host overrides the
// API host and is empty in production.
func NewSendGridMailer(cfg config.EmailConfig, host string) *SendGridMailer {
	req := sendgrid.GetRequest(cfg.SendGridAPIKey, "/v3/mail/send", host)
	req.Method = "POST"
	return &SendGridMailer{
		client: &sendgrid.Client{Request: req},
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
	}
}

func (m *SendGridMailer) Send(ctx context.Context, e Email) error {
	to := mail.NewEmail(e.ToName, e.ToAddress)
	message := mail.NewSingleEmail(m.from, e.Subject, to, e.Text, e.HTML)

	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
