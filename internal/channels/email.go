package channels

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// SMTPMailer sends email through an authenticated SMTP relay.
type SMTPMailer struct {
	host     string
	port     string
	username string
	password string
	from     string
	timeout  time.Duration
}

// NewSMTPMailer builds the adapter. Port 465 uses implicit TLS, other ports STARTTLS when offered.
func NewSMTPMailer(host, port, username, password, from string) *SMTPMailer {
	return &SMTPMailer{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
		timeout:  15 * time.Second,
	}
}

// SendEmail delivers one message.
func (m *SMTPMailer) SendEmail(ctx context.Context, address, subject, body string) (string, error) {
	if _, err := mail.ParseAddress(address); err != nil {
		return "", apperrors.NewChannelPermanent("email", fmt.Errorf("invalid address %q: %w", address, err))
	}
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.host)
	msg := buildMessage(m.from, address, subject, body, messageID)

	client, err := m.dial(ctx)
	if err != nil {
		return "", classifySMTP(err)
	}
	defer client.Close()

	if m.username != "" {
		if err := client.Auth(smtp.PlainAuth("", m.username, m.password, m.host)); err != nil {
			return "", classifySMTP(err)
		}
	}
	if err := client.Mail(m.from); err != nil {
		return "", classifySMTP(err)
	}
	if err := client.Rcpt(address); err != nil {
		return "", classifySMTP(err)
	}
	w, err := client.Data()
	if err != nil {
		return "", classifySMTP(err)
	}
	if _, err := w.Write(msg); err != nil {
		return "", classifySMTP(err)
	}
	if err := w.Close(); err != nil {
		return "", classifySMTP(err)
	}
	_ = client.Quit()
	return messageID, nil
}

func (m *SMTPMailer) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(m.host, m.port)
	dialer := &net.Dialer{Timeout: m.timeout}
	tlsConfig := &tls.Config{ServerName: m.host}

	var conn net.Conn
	var err error
	if m.port == "465" {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(m.timeout))
	}

	client, err := smtp.NewClient(conn, m.host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if m.port != "465" {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				client.Close()
				return nil, err
			}
		}
	}
	return client, nil
}

func buildMessage(from, to, subject, body, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// classifySMTP maps SMTP reply codes: 4xx are transient, 5xx permanent.
// Connection level failures are transient.
func classifySMTP(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if protoErr.Code >= 500 {
			return apperrors.NewChannelPermanent("email", err)
		}
		return apperrors.NewChannelTransient("email", err)
	}
	return apperrors.NewChannelTransient("email", err)
}
