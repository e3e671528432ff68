// Package notify sends violation alerts and recap reports over SMTP using
// the settings stored in the database, so operators can re-point the mail
// relay without a restart.
package notify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/wneessen/go-mail"

	"github.com/technosupport/ppe-sentinel/internal/data"
)

// Message is one outbound email, already rendered.
type Message struct {
	To             string
	ToName         string
	Subject        string
	HTMLBody       string
	AttachmentName string
	Attachment     []byte
}

// Mailer delivers a rendered message with the given SMTP settings. Settings
// arrive per call because they live in the database and can change between
// sends.
type Mailer interface {
	Send(ctx context.Context, settings data.EmailSettings, msg Message) error
}

// SMTPMailer delivers through go-mail. Port 465 uses implicit TLS; anything
// else negotiates STARTTLS and refuses to continue on plaintext.
type SMTPMailer struct{}

func (SMTPMailer) Send(ctx context.Context, settings data.EmailSettings, msg Message) error {
	if settings.SMTPHost == "" || settings.SMTPFrom == "" {
		return fmt.Errorf("smtp settings incomplete")
	}

	m := mail.NewMsg()
	if err := m.From(settings.SMTPFrom); err != nil {
		return fmt.Errorf("from address: %w", err)
	}
	if msg.ToName != "" {
		if err := m.AddToFormat(msg.ToName, msg.To); err != nil {
			return fmt.Errorf("to address: %w", err)
		}
	} else if err := m.To(msg.To); err != nil {
		return fmt.Errorf("to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	if len(msg.Attachment) > 0 {
		if err := m.AttachReader(msg.AttachmentName, bytes.NewReader(msg.Attachment)); err != nil {
			return fmt.Errorf("attach %s: %w", msg.AttachmentName, err)
		}
	}

	opts := []mail.Option{
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(settings.SMTPUser),
		mail.WithPassword(settings.SMTPPass),
	}
	if settings.SMTPPort == 465 {
		opts = append(opts, mail.WithSSLPort(false))
	} else {
		opts = append(opts,
			mail.WithPort(settings.SMTPPort),
			mail.WithTLSPortPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(settings.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, m)
}
