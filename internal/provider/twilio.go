package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

const twilioProvider = "twilio"

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID         string
	AuthToken          string
	From               string
	WhatsApp           bool
	DefaultCountryCode string
}

// TwilioSender sends WhatsApp or SMS messages through the Twilio Messages API.
type TwilioSender struct {
	api         messageCreator
	from        string
	whatsapp    bool
	countryCode string
}

func NewTwilioSender(cfg TwilioConfig) (*TwilioSender, error) {
	switch {
	case cfg.AccountSID == "":
		return nil, &ConfigError{Provider: twilioProvider, Setting: "TWILIO_ACCOUNT_SID"}
	case cfg.AuthToken == "":
		return nil, &ConfigError{Provider: twilioProvider, Setting: "TWILIO_AUTH_TOKEN"}
	case cfg.From == "" && cfg.WhatsApp:
		return nil, &ConfigError{Provider: twilioProvider, Setting: "TWILIO_WHATSAPP_FROM"}
	case cfg.From == "":
		return nil, &ConfigError{Provider: twilioProvider, Setting: "TWILIO_SMS_FROM"}
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSender(client.Api, cfg), nil
}

func newTwilioSender(api messageCreator, cfg TwilioConfig) *TwilioSender {
	return &TwilioSender{
		api:         api,
		from:        cfg.From,
		whatsapp:    cfg.WhatsApp,
		countryCode: cfg.DefaultCountryCode,
	}
}

func (s *TwilioSender) address(phone string) string {
	if s.whatsapp {
		return "whatsapp:" + phone
	}
	return phone
}

func (s *TwilioSender) Send(ctx context.Context, to string, content Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	phone := NormalizePhone(to, s.countryCode)
	if phone == "" {
		return "", ErrMissingAddress
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(s.address(phone))
	params.SetFrom(s.address(NormalizePhone(s.from, s.countryCode)))

	if content.ProviderTemplateID != "" {
		vars := content.Variables
		if vars == nil {
			vars = map[string]interface{}{}
		}
		encoded, err := json.Marshal(vars)
		if err != nil {
			return "", &ProviderError{Provider: twilioProvider, Err: fmt.Errorf("failed to encode content variables: %w", err)}
		}
		params.SetContentSid(content.ProviderTemplateID)
		params.SetContentVariables(string(encoded))
	} else {
		params.SetBody(content.Text())
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		var restErr *twilioclient.TwilioRestError
		if errors.As(err, &restErr) {
			return "", &ProviderError{Provider: twilioProvider, Err: fmt.Errorf("status %d code %d: %s", restErr.Status, restErr.Code, restErr.Message)}
		}
		return "", &ProviderError{Provider: twilioProvider, Err: err}
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", &ProviderError{Provider: twilioProvider, Err: errors.New("response carried no message sid")}
	}
	return *resp.Sid, nil
}
