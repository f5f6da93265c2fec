package push

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// SMTPEmailer sends plain-text alert emails through a relay. It implements
// notify.Emailer.
type SMTPEmailer struct {
	addr   string // host:port of the relay
	from   string
	auth   smtp.Auth
	logger *slog.Logger

	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailer creates an emailer for the given relay. auth may be nil for
// an open relay on a private network.
func NewSMTPEmailer(addr, from string, auth smtp.Auth, logger *slog.Logger) *SMTPEmailer {
	return &SMTPEmailer{
		addr:   addr,
		from:   from,
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// Email sends one plain-text message. The context only gates entry; the
// underlying dial honors the relay's own timeouts.
func (e *SMTPEmailer) Email(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")

	if err := e.send(e.addr, e.auth, e.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
