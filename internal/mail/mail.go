// Package mail renders and delivers the account notification emails.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/account-service/internal/config"
)

// Template names.
const (
	Invitation    = "invitation"
	VerifyEmail   = "verifyEmail"
	ResetPassword = "resetPassword"
	TempPassword  = "tempPassword"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Message is one notification to render and deliver.
type Message struct {
	To       string
	Template string
	Data     map[string]any
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Renderer turns a Message into a subject and an HTML body.
type Renderer struct {
	tpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("mail: parse templates: %w", err)
	}
	return &Renderer{tpl: tpl}, nil
}

func (r *Renderer) Render(msg Message) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := r.tpl.ExecuteTemplate(&sb, msg.Template+".subject", msg.Data); err != nil {
		return "", "", fmt.Errorf("mail: render %s subject: %w", msg.Template, err)
	}
	if err := r.tpl.ExecuteTemplate(&bb, msg.Template+".body", msg.Data); err != nil {
		return "", "", fmt.Errorf("mail: render %s body: %w", msg.Template, err)
	}
	return strings.TrimSpace(sb.String()), bb.String(), nil
}

// SMTPMailer sends through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	cfg      config.MailConfig
	renderer *Renderer
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// LogMailer writes messages to the log instead of sending them. Used when
// no relay is configured.
type LogMailer struct {
	log      logrus.FieldLogger
	renderer *Renderer
}

// New picks the SMTP mailer when a relay host is configured.
func New(cfg config.MailConfig, log logrus.FieldLogger) (Mailer, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if cfg.Host == "" {
		log.Warn("mail: SMTP_HOST not set, notifications will only be logged")
		return &LogMailer{log: log, renderer: r}, nil
	}
	return &SMTPMailer{cfg: cfg, renderer: r, send: smtp.SendMail}, nil
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	subject, body, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	return m.send(addr, auth, m.cfg.From, []string{msg.To}, compose(m.cfg.From, msg.To, subject, body))
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	subject, body, err := m.renderer.Render(msg)
	if err != nil {
		return err
	}
	m.log.WithFields(logrus.Fields{
		"to":       msg.To,
		"template": msg.Template,
		"subject":  subject,
	}).Info("mail: " + body)
	return nil
}

func compose(from, to, subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return b.Bytes()
}
