// Package mail renders and delivers the emails carrying action token links.
package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/hugh/go-backoffice/internal/database/models"
	"github.com/hugh/go-backoffice/internal/tokens"
	"github.com/hugh/go-backoffice/pkg/config"
)

//go:embed templates/*.html
var templateFS embed.FS

type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a rendered message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// NewSender returns the sender selected by cfg.Driver.
func NewSender(cfg *config.MailConfig, logger *slog.Logger) Sender {
	if cfg.Driver == "smtp" {
		return &SMTPSender{cfg: *cfg}
	}
	return &LogSender{logger: logger}
}

// SMTPSender sends through an SMTP relay, upgrading with STARTTLS when the
// server offers it.
type SMTPSender struct {
	cfg config.MailConfig
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	from := s.cfg.From
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.From)
	}

	body := strings.Join([]string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
		"",
		msg.HTML,
	}, "\r\n")

	dialer := net.Dialer{Timeout: 8 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("dialing smtp: %w", err)
	}
	deadline := time.Now().Add(15 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening smtp session: %w", err)
	}
	defer func() { _ = c.Quit() }()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(msg.To); err != nil {
		return err
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write([]byte(body)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// LogSender writes messages to the log instead of sending them.
type LogSender struct {
	logger *slog.Logger
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail", "to", msg.To, "subject", msg.Subject, "size", len(msg.HTML))
	s.logger.Debug("mail body", "to", msg.To, "html", msg.HTML)
	return nil
}

// MemorySender records messages. Used in development tooling and tests.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
}

func (s *MemorySender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *MemorySender) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

type templateSpec struct {
	file    string
	subject string
	button  string
}

var templateSpecs = map[models.TokenAction]templateSpec{
	models.ActionEmailVerification:    {"verification.html", "Verify your email", "Verify email"},
	models.ActionResetPassword:        {"reset_password.html", "Reset your password", "Reset password"},
	models.ActionMagicLink:            {"magic_link.html", "Your sign-in link", "Sign in"},
	models.ActionNewEmailConfirmation: {"email_change.html", "Confirm your new email", "Confirm email"},
}

// Branding supplies per-message presentation values.
type Branding struct {
	AppName string
	Color   string
}

type templateData struct {
	Subject   string
	AppName   string
	Color     string
	Action    string
	Link      string
	ExpiresAt time.Time
}

// Notifier renders token emails and hands them to a Sender.
type Notifier struct {
	sender    Sender
	templates map[models.TokenAction]*template.Template
	branding  func(ctx context.Context) Branding
}

// NewNotifier parses the embedded templates. branding may be nil.
func NewNotifier(sender Sender, branding func(ctx context.Context) Branding) (*Notifier, error) {
	n := &Notifier{
		sender:    sender,
		templates: make(map[models.TokenAction]*template.Template, len(templateSpecs)),
		branding:  branding,
	}
	for action, entry := range templateSpecs {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+entry.file)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.file, err)
		}
		n.templates[action] = tmpl
	}
	return n, nil
}

func (n *Notifier) Notify(ctx context.Context, note tokens.Notification) error {
	entry, ok := templateSpecs[note.Action]
	if !ok {
		return fmt.Errorf("no template for action %q", note.Action)
	}

	b := Branding{AppName: "Backoffice", Color: "#2563eb"}
	if n.branding != nil {
		b = n.branding(ctx)
	}

	var buf bytes.Buffer
	if err := n.templates[note.Action].ExecuteTemplate(&buf, "layout", templateData{
		Subject:   entry.subject,
		AppName:   b.AppName,
		Color:     b.Color,
		Action:    entry.button,
		Link:      note.Link,
		ExpiresAt: note.ExpiresAt,
	}); err != nil {
		return fmt.Errorf("rendering %s: %w", entry.file, err)
	}

	return n.sender.Send(ctx, Message{
		To:      note.To,
		Subject: entry.subject,
		HTML:    buf.String(),
	})
}

var _ tokens.Notifier = (*Notifier)(nil)
