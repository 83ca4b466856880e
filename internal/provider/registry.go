package provider

import (
	"fmt"
	"sync"

	"github.com/jwalitptl/crm-api/internal/model"
)

const (
	AdapterTwilio = "twilio"
	AdapterSMTP   = "smtp"
	AdapterFake   = "fake"
)

// Config selects an adapter per channel and carries the adapters' credentials.
type Config struct {
	Adapters map[model.Channel]string
	Twilio   TwilioConfig
	SMS      TwilioConfig
	SMTP     SMTPConfig
}

// Registry builds senders on first use. Senders that fail to build are not cached.
type Registry struct {
	mu      sync.Mutex
	cfg     Config
	senders map[model.Channel]Sender
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, senders: make(map[model.Channel]Sender)}
}

// Register installs a prebuilt sender for channel.
func (r *Registry) Register(channel model.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = s
}

// For returns the sender for channel. Construction failures are ConfigErrors.
func (r *Registry) For(channel model.Channel) (Sender, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.senders[channel]; ok {
		return s, nil
	}
	s, err := r.build(channel)
	if err != nil {
		return nil, err
	}
	r.senders[channel] = s
	return s, nil
}

func (r *Registry) build(channel model.Channel) (Sender, error) {
	adapter, ok := r.cfg.Adapters[channel]
	if !ok || adapter == "" {
		return nil, &ConfigError{Provider: string(channel), Setting: fmt.Sprintf("providers.%s", channel)}
	}

	switch adapter {
	case AdapterFake:
		return NewFakeSender(), nil
	case AdapterTwilio:
		switch channel {
		case model.ChannelWhatsApp:
			cfg := r.cfg.Twilio
			cfg.WhatsApp = true
			return NewTwilioSender(cfg)
		case model.ChannelSMS:
			cfg := r.cfg.SMS
			cfg.WhatsApp = false
			return NewTwilioSender(cfg)
		}
	case AdapterSMTP:
		if channel == model.ChannelEmail {
			return NewSMTPSender(r.cfg.SMTP)
		}
	}
	return nil, &ConfigError{Provider: adapter, Setting: fmt.Sprintf("providers.%s (unsupported for %s)", channel, channel)}
}
