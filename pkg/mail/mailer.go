package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"

	"github.com/platinummonkey/hrm/pkg/observability"
)

// Message is a single outgoing email
type Message struct {
	To      []string
	Subject string
	HTML    string
	// Text is the plain-text alternative; derived from HTML when empty
	Text string
}

// Mailer delivers messages
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP server settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends mail through an SMTP server with PLAIN auth
type SMTPMailer struct {
	config SMTPConfig
	send   sendFunc
}

// NewSMTPMailer creates an SMTP mailer
func NewSMTPMailer(config SMTPConfig) (*SMTPMailer, error) {
	if config.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.From == "" {
		config.From = config.Username
	}
	if config.From == "" {
		return nil, errors.New("smtp sender address is required")
	}
	return &SMTPMailer{config: config, send: smtp.SendMail}, nil
}

// Send delivers msg. net/smtp has no context support, so ctx is only checked up front.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msg.To) == 0 {
		return errors.New("message has no recipients")
	}

	body, err := buildMIME(m.config.From, msg)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	if err := m.send(addr, auth, m.config.From, msg.To, body); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}

func buildMIME(from string, msg Message) ([]byte, error) {
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: multipart/alternative; boundary=%s\r\n\r\n",
		from,
		strings.Join(msg.To, ", "),
		mime.QEncoding.Encode("utf-8", msg.Subject),
		writer.Boundary(),
	)

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain; charset=utf-8", text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		part, err := writer.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, fmt.Errorf("failed to build mail part: %w", err)
		}
		if _, err := part.Write([]byte(p.body)); err != nil {
			return nil, fmt.Errorf("failed to write mail part: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close mail body: %w", err)
	}

	return append([]byte(header), buf.Bytes()...), nil
}

// LogMailer logs messages instead of sending them. Used when SMTP is not configured.
type LogMailer struct {
	logger *observability.Logger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(logger *observability.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Send logs the message
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	text := msg.Text
	if text == "" {
		text = HTMLToText(msg.HTML)
	}
	m.logger.WithFields(map[string]interface{}{
		"to":      strings.Join(msg.To, ","),
		"subject": msg.Subject,
		"body":    text,
	}).Info("mail not sent (log mailer)")
	return nil
}

var (
	styleOrScript = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	tags          = regexp.MustCompile(`<[^>]+>`)
	spaces        = regexp.MustCompile(`\s+`)
)

// HTMLToText strips markup for the plain-text alternative
func HTMLToText(html string) string {
	text := styleOrScript.ReplaceAllString(html, "")
	text = tags.ReplaceAllString(text, " ")
	text = spaces.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
