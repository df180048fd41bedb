package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// EmailConfig holds SMTP delivery parameters.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// OpsAddr receives operational notifications sent via Send. Leave empty
	// if the sender is only used for addressed mail (SendTo).
	OpsAddr string
}

// EmailSender delivers notifications over SMTP. It serves two roles: Send
// implements the Sender interface for operational alerts to a fixed address,
// and SendTo delivers addressed mail such as the winner notification when an
// auction closes.
type EmailSender struct {
	cfg EmailConfig
}

// NewEmailSender creates an EmailSender with the given SMTP configuration.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg}
}

// Send delivers an operational notification to the configured ops address.
// It is a no-op when no ops address is configured.
func (e *EmailSender) Send(ctx context.Context, title, message string) error {
	if e.cfg.OpsAddr == "" {
		return nil
	}
	return e.SendTo(ctx, e.cfg.OpsAddr, title, message)
}

// SendTo delivers an email with the given subject and body to a single
// recipient. The context deadline is honoured by failing fast before dialing
// if ctx is already done; net/smtp itself does not take a context.
func (e *EmailSender) SendTo(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	msg := buildMessage(e.cfg.From, to, subject, body)

	if err := smtp.SendMail(addr, auth, e.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}

// Name returns the sender identifier.
func (e *EmailSender) Name() string {
	return "email"
}

// buildMessage assembles an RFC 5322 message with CRLF line endings.
func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}
