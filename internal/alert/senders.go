package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/transport"
)

// SMTPConfig addresses the relay used for alert email.
type SMTPConfig struct {
	Host     string   `koanf:"host"`
	Port     int      `koanf:"port" validate:"omitempty,min=1,max=65535"`
	User     string   `koanf:"user"`
	Password string   `koanf:"password"`
	UseTLS   bool     `koanf:"use_tls"`
	From     string   `koanf:"from"`
	To       []string `koanf:"to"`
}

// SMTPSender sends alert email through an SMTP relay.
type SMTPSender struct {
	cfg     SMTPConfig
	timeout time.Duration
}

// NewSMTPSender builds an SMTP sender with a 30s dial timeout.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, timeout: 30 * time.Second}
}

func (s *SMTPSender) SendEmail(ctx context.Context, subject, body string) error {
	if len(s.cfg.To) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if s.cfg.UseTLS {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("start TLS: %w", err)
		}
	}
	if s.cfg.User != "" && s.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, rcpt := range s.cfg.To {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("add recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start message data: %w", err)
	}
	if _, err := w.Write([]byte(buildMessage(s.cfg.From, s.cfg.To, subject, body))); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	return client.Quit()
}

func buildMessage(from string, to []string, subject, body string) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.String()
}

// TransportSender routes alert email through the campaign mail transport, so
// alerts reach the same mail workers as outreach.
type TransportSender struct {
	Transport transport.Transport
	From      model.SenderIdentity
	To        []string
}

func (s *TransportSender) SendEmail(ctx context.Context, subject, body string) error {
	if len(s.To) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}
	for _, rcpt := range s.To {
		job := model.EmailJob{
			ID:       uuid.NewString(),
			Target:   model.TargetEntity{ID: "alert:" + rcpt, Email: rcpt},
			Sender:   s.From,
			Template: subject + "\n\n" + body,
			Status:   model.JobPending,
			Attempts: 1,
		}
		if err := s.Transport.Send(ctx, job); err != nil {
			return fmt.Errorf("send alert to %s: %w", rcpt, err)
		}
	}
	return nil
}
