package config

import (
	"strings"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/provider"
	"github.com/jwalitptl/crm-api/internal/service/automation"
	"github.com/jwalitptl/crm-api/internal/worker"
	"github.com/jwalitptl/crm-api/pkg/messaging/rabbitmq"
	"github.com/jwalitptl/crm-api/pkg/messaging/redis"
)

func (c *Config) ToDispatcherConfig() worker.DispatcherConfig {
	return worker.DispatcherConfig{
		BatchSize:          c.Worker.BatchSize,
		PollInterval:       c.Worker.PollInterval,
		MaxRetries:         c.Worker.MaxRetries,
		DefaultCountryCode: c.Providers.DefaultCountryCode,
		SendsPerSecond:     c.Worker.SendsPerSecond,
		TemplateCacheTTL:   c.Worker.TemplateCacheTTL,
	}
}

// ToProviderConfig combines the adapter selection with the secrets read from the environment.
func (c *Config) ToProviderConfig(creds Credentials) provider.Config {
	return provider.Config{
		Adapters: map[model.Channel]string{
			model.ChannelWhatsApp: strings.ToLower(c.Providers.WhatsApp),
			model.ChannelSMS:      strings.ToLower(c.Providers.SMS),
			model.ChannelEmail:    strings.ToLower(c.Providers.Email),
		},
		Twilio: provider.TwilioConfig{
			AccountSID:         creds.Twilio.AccountSID,
			AuthToken:          creds.Twilio.AuthToken,
			From:               creds.Twilio.WhatsAppFrom,
			DefaultCountryCode: c.Providers.DefaultCountryCode,
		},
		SMS: provider.TwilioConfig{
			AccountSID:         creds.Twilio.AccountSID,
			AuthToken:          creds.Twilio.AuthToken,
			From:               creds.Twilio.SMSFrom,
			DefaultCountryCode: c.Providers.DefaultCountryCode,
		},
		SMTP: provider.SMTPConfig{
			Host:           creds.SMTP.Host,
			Port:           creds.SMTP.Port,
			Username:       creds.SMTP.Username,
			Password:       creds.SMTP.Password,
			FromEmail:      creds.SMTP.FromEmail,
			FromName:       creds.SMTP.FromName,
			DefaultSubject: c.Providers.DefaultEmailSubject,
		},
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}

func (c *RabbitMQConfig) ToBrokerConfig() rabbitmq.Config {
	return rabbitmq.Config{
		URL:      c.URL,
		Exchange: c.Exchange,
	}
}

func (c *AutomationConfig) ToEngineConfig() automation.Config {
	return automation.Config{
		WelcomeTemplateName: c.WelcomeTemplateName,
		FallbackText:        c.FallbackText,
	}
}
