package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPConfig holds mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Email sends plain text mail through an SMTP relay. smtp.SendMail upgrades
// the connection with STARTTLS when the server offers it.
type Email struct {
	cfg    SMTPConfig
	send   sendFunc
	logger *slog.Logger
}

// NewEmail validates the SMTP settings and returns an email notifier.
func NewEmail(cfg SMTPConfig, logger *slog.Logger) (*Email, error) {
	if cfg.Host == "" || len(cfg.To) == 0 {
		return nil, errors.New("notify: email settings incomplete")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Email{cfg: cfg, send: smtp.SendMail, logger: logger}, nil
}

func (e *Email) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	addr := net.JoinHostPort(e.cfg.Host, strconv.Itoa(e.cfg.Port))
	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, e.message(n)); err != nil {
		return fmt.Errorf("notify: send mail: %w", err)
	}
	e.logger.Info("notification sent", slog.String("draft_key", n.DraftKey), slog.String("channel", "email"))
	return nil
}

func (e *Email) message(n Notification) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", n.Subject())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(strings.ReplaceAll(n.Body(), "\n", "\r\n"))
	b.WriteString("\r\n")
	return []byte(b.String())
}
