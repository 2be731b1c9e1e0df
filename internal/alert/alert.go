// Package alert delivers operational alerts by email, mirrored to an optional
// chat webhook. Alerts are fire-and-forget: nothing is retried or queued, and a
// failing webhook never fails the alert.
package alert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
)

// Type classifies what an alert is about.
type Type string

const (
	TypeDeadline   Type = "deadline"
	TypeDeploy     Type = "deploy"
	TypeDMBacklog  Type = "dm-backlog"
	TypeBounceRate Type = "bounce-rate"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Message is the human-readable text in English and Spanish.
type Message struct {
	EN string `json:"en" validate:"required"`
	ES string `json:"es" validate:"required"`
}

// Alert is one notification.
type Alert struct {
	Type      Type     `json:"type" validate:"oneof=deadline deploy dm-backlog bounce-rate"`
	Severity  Severity `json:"severity" validate:"oneof=high medium low"`
	Message   Message  `json:"message"`
	ActionURL string   `json:"action_url,omitempty" validate:"omitempty,url"`
}

// Subject is the email subject line, e.g. "[HIGH] deadline".
func (a Alert) Subject() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Type)
}

// Body is the plain-text email body carrying both languages.
func (a Alert) Body() string {
	var b strings.Builder
	b.WriteString(a.Message.EN)
	b.WriteString("\n\n")
	b.WriteString(a.Message.ES)
	if a.ActionURL != "" {
		b.WriteString("\n\n")
		b.WriteString(a.ActionURL)
	}
	return b.String()
}

// Text is the single-line chat form of the alert.
func (a Alert) Text() string {
	text := a.Subject() + " " + a.Message.EN
	if a.ActionURL != "" {
		text += " " + a.ActionURL
	}
	return text
}

// EmailSender is the primary channel.
type EmailSender interface {
	SendEmail(ctx context.Context, subject, body string) error
}

// EmailSenderFunc adapts a function to EmailSender.
type EmailSenderFunc func(ctx context.Context, subject, body string) error

func (f EmailSenderFunc) SendEmail(ctx context.Context, subject, body string) error {
	return f(ctx, subject, body)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Notifier fans an alert out to its channels.
type Notifier struct {
	email   EmailSender
	webhook *Webhook
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithWebhook mirrors alerts to url. A nil client gets a 10s timeout.
func WithWebhook(url string, client *http.Client) Option {
	return func(n *Notifier) {
		if url != "" {
			n.webhook = NewWebhook(url, client)
		}
	}
}

// WithMetrics records alert.sent and alert.webhook_error samples.
func WithMetrics(c *metrics.Collector) Option {
	return func(n *Notifier) { n.metrics = c }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Notifier) { n.logger = l.With().Str("component", "alert-notifier").Logger() }
}

// NewNotifier builds a notifier around the primary email channel.
func NewNotifier(email EmailSender, opts ...Option) *Notifier {
	n := &Notifier{email: email, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Send delivers the alert by email and, if configured, to the webhook.
// Only a failure of the email channel is returned.
func (n *Notifier) Send(ctx context.Context, a Alert) error {
	if err := validate.Struct(a); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	tags := map[string]string{"type": string(a.Type), "severity": string(a.Severity)}
	log := n.logger.With().Str("alert_type", string(a.Type)).Str("severity", string(a.Severity)).Logger()

	start := time.Now()
	emailErr := n.email.SendEmail(ctx, a.Subject(), a.Body())
	if emailErr != nil {
		log.Error().Err(emailErr).Msg("alert email failed")
	} else if n.metrics != nil {
		n.metrics.Increment("alert.sent", tags)
	}

	if n.webhook != nil {
		if err := n.webhook.Post(ctx, a.Text()); err != nil {
			err = errors.Join(appErrors.ErrSecondaryChannel, err)
			log.Warn().Err(err).Msg("alert webhook failed")
			if n.metrics != nil {
				n.metrics.Increment("alert.webhook_error", tags)
			}
		}
	}

	if emailErr != nil {
		return fmt.Errorf("send %s alert: %w", a.Type, emailErr)
	}
	log.Info().Dur("duration", time.Since(start)).Msg("alert delivered")
	return nil
}
