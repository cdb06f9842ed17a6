package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"aquaguard/internal/config"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailChannel sends HTML mail through an SMTP relay.
type EmailChannel struct {
	addr     string
	host     string
	username string
	password string
	from     string
	sendMail sendMailFunc
}

func NewEmailChannel(cfg config.EmailConfig) *EmailChannel {
	return &EmailChannel{
		addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
		sendMail: smtp.SendMail,
	}
}

func (c *EmailChannel) Send(ctx context.Context, contact, subject, bodyHTML string) error {
	to := strings.TrimSpace(contact)
	if to == "" || !strings.Contains(to, "@") {
		return fmt.Errorf("invalid email address %q", contact)
	}
	var auth smtp.Auth
	if c.username != "" && c.password != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}
	msg := buildMessage(c.from, to, subject, bodyHTML)

	// net/smtp has no context support; the send is abandoned, not aborted, on timeout
	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(c.addr, auth, c.from, []string{to}, msg)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail to %s: %w", to, err)
		}
		return nil
	case <-ctx.Done():
		return errors.Join(fmt.Errorf("send mail to %s", to), ctx.Err())
	}
}

func buildMessage(from, to, subject, bodyHTML string) []byte {
	headers := [][2]string{
		{"From", from},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	var message strings.Builder
	for _, h := range headers {
		message.WriteString(h[0] + ": " + headerValue(h[1]) + "\r\n")
	}
	message.WriteString("\r\n")
	message.WriteString(bodyHTML)
	return []byte(message.String())
}

// headerValue folds CR and LF into spaces so caller-supplied text such as a device
// name cannot start a new header line.
func headerValue(v string) string {
	return strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}
