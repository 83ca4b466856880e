package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/crm-api/internal/config"
	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/service/inbound"
	"github.com/jwalitptl/crm-api/pkg/logger"
)

// emptyTwiML acknowledges a Twilio webhook without sending a reply.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

type InboundService interface {
	HandleInbound(ctx context.Context, rules config.InboundRules, msg inbound.Message) (*inbound.Result, error)
}

type RulesSource interface {
	Rules() config.InboundRules
}

type Handler struct {
	service InboundService
	rules   RulesSource
	log     *logger.Logger
}

func NewHandler(service InboundService, rules RulesSource, log *logger.Logger) *Handler {
	return &Handler{service: service, rules: rules, log: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/twilio/whatsapp", h.TwilioWhatsApp)
}

// TwilioWhatsApp records an inbound WhatsApp reply. Twilio retries anything but a
// 2xx, so every outcome is acknowledged and failures are only logged.
func (h *Handler) TwilioWhatsApp(c *gin.Context) {
	h.process(c)
	c.Data(http.StatusOK, "application/xml", []byte(emptyTwiML))
}

func (h *Handler) process(c *gin.Context) {
	defer func() {
		if p := recover(); p != nil {
			h.log.Error(fmt.Errorf("panic: %v", p), "Inbound webhook panicked",
				"stack", string(debug.Stack()))
		}
	}()

	msg := inbound.Message{
		Channel:           model.ChannelWhatsApp,
		From:              strings.TrimSpace(c.PostForm("From")),
		Body:              c.PostForm("Body"),
		ProviderMessageID: strings.TrimSpace(c.PostForm("MessageSid")),
		ProfileName:       strings.TrimSpace(c.PostForm("ProfileName")),
	}

	res, err := h.service.HandleInbound(c.Request.Context(), h.rules.Rules(), msg)
	switch {
	case errors.Is(err, inbound.ErrMissingSender):
		h.log.Warn("Ignoring inbound webhook without sender", "message_sid", msg.ProviderMessageID)
	case err != nil:
		h.log.Error(err, "Failed to process inbound webhook", "message_sid", msg.ProviderMessageID)
	default:
		h.log.Debug("Inbound webhook processed",
			"customer_id", res.CustomerID,
			"new_customer", res.IsNewCustomer,
			"cancelled", res.Cancelled)
	}
}
