package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

const smtpProvider = "smtp"

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	FromEmail      string
	FromName       string
	DefaultSubject string
}

type SMTPSender struct {
	dialer         mailDialer
	fromEmail      string
	fromName       string
	defaultSubject string
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	switch {
	case cfg.Host == "":
		return nil, &ConfigError{Provider: smtpProvider, Setting: "SMTP_HOST"}
	case cfg.FromEmail == "":
		return nil, &ConfigError{Provider: smtpProvider, Setting: "SMTP_FROM_EMAIL"}
	case cfg.Username == "":
		return nil, &ConfigError{Provider: smtpProvider, Setting: "SMTP_USERNAME"}
	case cfg.Password == "":
		return nil, &ConfigError{Provider: smtpProvider, Setting: "SMTP_PASSWORD"}
	}
	return newSMTPSender(gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), cfg), nil
}

func newSMTPSender(d mailDialer, cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer:         d,
		fromEmail:      cfg.FromEmail,
		fromName:       cfg.FromName,
		defaultSubject: cfg.DefaultSubject,
	}
}

var (
	htmlTag     = regexp.MustCompile(`<[a-zA-Z][^>]*>`)
	htmlBreak   = regexp.MustCompile(`(?i)<\s*br\s*/?>`)
	htmlParaEnd = regexp.MustCompile(`(?i)</p\s*>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

func plainText(html string) string {
	text := htmlBreak.ReplaceAllString(html, "\n")
	text = htmlParaEnd.ReplaceAllString(text, "\n\n")
	text = anyTag.ReplaceAllString(text, "")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func (s *SMTPSender) Send(ctx context.Context, to string, content Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return "", ErrMissingAddress
	}

	subject := strings.TrimSpace(content.RenderedSubject())
	if subject == "" {
		subject = s.defaultSubject
	}
	body := content.Text()

	m := gomail.NewMessage()
	if s.fromName != "" {
		m.SetAddressHeader("From", s.fromEmail, s.fromName)
	} else {
		m.SetHeader("From", s.fromEmail)
	}
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	if htmlTag.MatchString(body) {
		m.SetBody("text/plain", plainText(body))
		m.AddAlternative("text/html", body)
	} else {
		m.SetBody("text/plain", body)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return "", &ProviderError{Provider: smtpProvider, Err: err}
	}
	// SMTP gives no usable message id back.
	return "smtp-" + uuid.NewString(), nil
}
