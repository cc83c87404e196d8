// Package mailer delivers notification emails through an HTTP mail provider.
// Template rendering lives with the provider; this package only fills in
// subject and text from the notification fields.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Stiven-son/calniq-sub001/internal/notify/outbox"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Render converts an outbox notification into a deliverable message.
func Render(n *outbox.Notification) *Message {
	switch n.Kind {
	case outbox.KindEndingSoon:
		return &Message{
			To:      n.Recipient,
			Subject: fmt.Sprintf("Your Calniq subscription ends in %d day(s)", n.DaysLeft),
			Body: fmt.Sprintf(
				"Hi %s,\n\nYour subscription ends in %d day(s). Renew now to keep your booking pages online.\n",
				n.TenantName, n.DaysLeft,
			),
		}
	case outbox.KindExpired:
		return &Message{
			To:      n.Recipient,
			Subject: "Your Calniq subscription has expired",
			Body: fmt.Sprintf(
				"Hi %s,\n\nYour subscription has expired and your booking pages are now offline. Renew to restore access.\n",
				n.TenantName,
			),
		}
	}
	return &Message{
		To:      n.Recipient,
		Subject: "Calniq notification",
	}
}

// Config holds mail provider configuration.
type Config struct {
	BaseURL string
	APIKey  string
	From    string
	Timeout time.Duration
}

// HTTPMailer sends mail through a provider's HTTP API.
type HTTPMailer struct {
	client *resty.Client
	from   string
}

// NewHTTP creates a mailer backed by the provider at cfg.BaseURL.
// Returns nil if the base URL is empty (mail not configured).
func NewHTTP(cfg Config) *HTTPMailer {
	if cfg.BaseURL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetAuthToken(cfg.APIKey)
	return &HTTPMailer{client: client, from: cfg.From}
}

// Send posts the message to the provider and treats any non-2xx response as a
// delivery failure so the outbox worker retries it.
func (m *HTTPMailer) Send(ctx context.Context, msg *Message) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"from":    m.from,
			"to":      msg.To,
			"subject": msg.Subject,
			"text":    msg.Body,
		}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("send mail: provider returned %s", resp.Status())
	}
	return nil
}

// LogMailer logs messages instead of delivering them. Used in dev when no
// provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

// NewLog creates a mailer that logs deliveries.
func NewLog(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the message.
func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	m.logger.InfoContext(ctx, "mail delivery (log only)",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
