package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"scriberd/internal/config"
	"scriberd/internal/services"
)

// Mailer sends individual messages over the configured SMTP transport.
type Mailer struct {
	cfg config.SMTP
}

// New constructs a mailer from the SMTP section of the configuration.
func New(cfg config.SMTP) *Mailer {
	return &Mailer{cfg: cfg}
}

// Send delivers one message. bodyHTML and attachmentPath are optional.
func (m *Mailer) Send(ctx context.Context, to, subject, bodyText, bodyHTML, attachmentPath string) error {
	if !m.cfg.Configured() {
		return services.Wrap(services.ErrConfiguration, "delivery", "send", "smtp host or sender missing", nil)
	}
	if strings.TrimSpace(to) == "" {
		return services.Wrap(services.ErrValidation, "delivery", "send", "recipient required", nil)
	}

	msg := mail.NewMsg()
	if m.cfg.SenderName != "" {
		if err := msg.FromFormat(m.cfg.SenderName, m.cfg.Sender); err != nil {
			return services.Wrap(services.ErrConfiguration, "delivery", "send", "invalid sender", err)
		}
	} else if err := msg.From(m.cfg.Sender); err != nil {
		return services.Wrap(services.ErrConfiguration, "delivery", "send", "invalid sender", err)
	}
	if err := msg.To(to); err != nil {
		return services.Wrap(services.ErrValidation, "delivery", "send", "invalid recipient", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, bodyText)
	if bodyHTML != "" {
		msg.AddAlternativeString(mail.TypeTextHTML, bodyHTML)
	}
	if attachmentPath != "" {
		msg.AttachFile(attachmentPath)
	}

	client, err := m.client()
	if err != nil {
		return err
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "send", fmt.Sprintf("to %s", to), err)
	}
	return nil
}

func (m *Mailer) client() (*mail.Client, error) {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
	}
	switch {
	case m.cfg.UseSSL:
		opts = append(opts, mail.WithSSLPort(false))
	case m.cfg.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if !m.cfg.VerifyTLS {
		opts = append(opts, mail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true})) //nolint:gosec
	}
	if m.cfg.Username != "" || m.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}

	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "delivery", "dial", "build smtp client", err)
	}
	return client, nil
}

// SmokeTest sends a minimal test message to the first address on the main
// roster. It reports a human-readable outcome alongside the error.
func (m *Mailer) SmokeTest(ctx context.Context, recipientsDir string) (string, error) {
	if !m.cfg.Configured() {
		return "", services.Wrap(services.ErrConfiguration, "delivery", "smoke test", "smtp host or sender missing", nil)
	}
	to := FirstRecipient(recipientsDir)
	if to == "" {
		return "", services.Wrap(services.ErrConfiguration, "delivery", "smoke test", "no recipients in "+recipientsDir, nil)
	}

	subject := "[SMTP TEST] " + Render(m.cfg.Subject, Vars{Name: "TEST", Slug: "test"})
	body := "This is a SMTP test from the transcriber service.\nIf you received this, SMTP works."
	if err := m.Send(ctx, to, subject, body, "", ""); err != nil {
		return "", err
	}
	return fmt.Sprintf("Sent test email to %s", to), nil
}
