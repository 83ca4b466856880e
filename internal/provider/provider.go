// Package provider holds the channel senders the dispatch worker hands rendered
// messages to.
package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrContactDisabled = errors.New("customer has opted out of contact")
	ErrMissingAddress  = errors.New("customer has no address for channel")
)

// Sender delivers one message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, to string, content Content) (string, error)
}

// Content is either free text or a template. Templates with a ProviderTemplateID are
// rendered by the provider; otherwise Body and Subject are rendered locally.
type Content struct {
	Body               string
	Subject            string
	ProviderTemplateID string
	Variables          map[string]interface{}
}

func (c Content) Text() string {
	return Render(c.Body, c.Variables)
}

func (c Content) RenderedSubject() string {
	return Render(c.Subject, c.Variables)
}

// ProviderError wraps any failure reported while talking to a provider.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ConfigError means the provider cannot be used at all until its configuration is fixed.
type ConfigError struct {
	Provider string
	Setting  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing configuration %s", e.Provider, e.Setting)
}

// IsConfigError reports whether err is, or wraps, a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

var placeholder = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render replaces {{key}} placeholders with the stringified variable. Missing keys
// and nil values render empty.
func Render(text string, vars map[string]interface{}) string {
	if text == "" {
		return ""
	}
	return placeholder.ReplaceAllStringFunc(text, func(token string) string {
		key := placeholder.FindStringSubmatch(token)[1]
		v, ok := vars[key]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// NormalizePhone turns a stored or inbound phone string into E.164-like form.
// A whatsapp: prefix and whitespace are dropped, a leading + is trusted as-is,
// anything else keeps its digits, loses one national trunk 0 and gets the
// default country code.
func NormalizePhone(raw, defaultCountryCode string) string {
	v := strings.TrimSpace(raw)
	if strings.HasPrefix(strings.ToLower(v), "whatsapp:") {
		v = strings.TrimSpace(v[len("whatsapp:"):])
	}
	v = strings.Join(strings.Fields(v), "")
	if v == "" {
		return ""
	}
	if strings.HasPrefix(v, "+") {
		return v
	}

	var digits strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := strings.TrimPrefix(digits.String(), "0")
	if d == "" {
		return ""
	}
	return defaultCountryCode + d
}
