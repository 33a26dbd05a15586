package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	gomail "gopkg.in/mail.v2"
)

const (
	FromName               = "Kix"
	maxRetries             = 3
	PaymentReceiptTemplate = "payment_receipt.tmpl"
)

//go:embed "templates"
var FS embed.FS

type Client interface {
	Send(templateFile, username, email string, data any) error
}

type SMTPMailer struct {
	dialer    *gomail.Dialer
	fromEmail string
}

func NewSMTPMailer(host string, port int, username, password, fromEmail string) (*SMTPMailer, error) {
	if host == "" || fromEmail == "" {
		return nil, fmt.Errorf("mailer: smtp host and from address are required")
	}
	return &SMTPMailer{
		dialer:    gomail.NewDialer(host, port, username, password),
		fromEmail: fromEmail,
	}, nil
}

// Send renders the named template ("subject" and "body" blocks) and delivers
// it, retrying transient SMTP failures a few times before giving up.
func (m *SMTPMailer) Send(templateFile, username, email string, data any) error {
	tmpl, err := template.ParseFS(FS, "templates/"+templateFile)
	if err != nil {
		return fmt.Errorf("mailer: parse template %s: %w", templateFile, err)
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return fmt.Errorf("mailer: render subject: %w", err)
	}

	body := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(body, "body", data); err != nil {
		return fmt.Errorf("mailer: render body: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.fromEmail, FromName)
	msg.SetAddressHeader("To", email, username)
	msg.SetHeader("Subject", subject.String())
	msg.SetBody("text/html", body.String())

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if lastErr = m.dialer.DialAndSend(msg); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("mailer: send %s to %s after %d attempts: %w", templateFile, email, maxRetries, lastErr)
}
