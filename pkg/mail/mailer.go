package mail

import (
	"crypto/tls"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/FulgerX2007/scheduled-snapshots-app/pkg/model"
	"gopkg.in/gomail.v2"
)

// Default templates used when a target leaves them empty
const (
	DefaultSubject = "Dashboard snapshot: {{target.name}} ({{run.started_at}})"
	DefaultBody    = "Attached is the snapshot of {{target.name}} captured at {{run.started_at}}.\n\nSource: {{target.url}}"
)

// Mailer sends capture artifacts over SMTP
type Mailer struct {
	config model.SMTPConfig
}

// NewMailer creates a mailer for the given SMTP server
func NewMailer(config model.SMTPConfig) *Mailer {
	if config.Port == 0 {
		config.Port = 587
	}
	return &Mailer{config: config}
}

func (m *Mailer) dialer() *gomail.Dialer {
	dialer := gomail.NewDialer(m.config.Host, m.config.Port, m.config.Username, m.config.Password)

	if m.config.UseTLS {
		dialer.TLSConfig = &tls.Config{
			InsecureSkipVerify: m.config.SkipTLSVerify,
			ServerName:         m.config.Host,
		}
	} else {
		dialer.TLSConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
		dialer.SSL = false
	}
	return dialer
}

// Test connects to the SMTP server and closes the connection
func (m *Mailer) Test() error {
	if m.config.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if m.config.From == "" {
		return fmt.Errorf("from address is required")
	}

	closer, err := m.dialer().Dial()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server %s:%d: %w", m.config.Host, m.config.Port, err)
	}
	return closer.Close()
}

// BuildMessage assembles the email with the given files attached
func (m *Mailer) BuildMessage(recipients model.Recipients, subject, body string, attachments ...string) (*gomail.Message, error) {
	if len(recipients.To) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.config.From)
	msg.SetHeader("To", recipients.To...)
	if len(recipients.CC) > 0 {
		msg.SetHeader("Cc", recipients.CC...)
	}
	if len(recipients.BCC) > 0 {
		msg.SetHeader("Bcc", recipients.BCC...)
	}
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	for _, path := range attachments {
		if path == "" {
			continue
		}
		msg.Attach(path, gomail.Rename(filepath.Base(path)))
	}
	return msg, nil
}

// SendSnapshot mails the capture artifacts to the recipients
func (m *Mailer) SendSnapshot(recipients model.Recipients, subject, body string, attachments ...string) error {
	msg, err := m.BuildMessage(recipients, subject, body, attachments...)
	if err != nil {
		return err
	}

	if err := m.dialer().DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Printf("[MAIL] Sent '%s' to %d recipient(s)", subject, len(recipients.All()))
	return nil
}

// InterpolateTemplate replaces {{key}} placeholders with vars. Unknown
// placeholders are left as they are.
func InterpolateTemplate(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
