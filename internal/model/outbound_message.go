package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelEmail    Channel = "email"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelSMS, ChannelEmail:
		return true
	}
	return false
}

// UsesPhone reports whether the channel addresses customers by phone number.
func (c Channel) UsesPhone() bool {
	return c == ChannelWhatsApp || c == ChannelSMS
}

type MessageStatus string

const (
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusCancelled MessageStatus = "cancelled"
)

// MaxBodyLength is the longest free-text body accepted at enqueue time, in characters.
const MaxBodyLength = 4000

// OutboundMessage is one queued request to send content to a customer.
// Rows are never deleted.
type OutboundMessage struct {
	Base
	OwnerID           uuid.UUID     `json:"owner_id" db:"owner_id"`
	CustomerID        uuid.UUID     `json:"customer_id" db:"customer_id"`
	Channel           Channel       `json:"channel" db:"channel"`
	Status            MessageStatus `json:"status" db:"status"`
	TemplateID        *uuid.UUID    `json:"template_id,omitempty" db:"template_id"`
	Body              *string       `json:"body,omitempty" db:"body"`
	Variables         JSONMap       `json:"variables" db:"variables"`
	NotBeforeAt       *time.Time    `json:"not_before_at,omitempty" db:"not_before_at"`
	CancelOnInbound   bool          `json:"cancel_on_inbound" db:"cancel_on_inbound"`
	CancelledAt       *time.Time    `json:"cancelled_at,omitempty" db:"cancelled_at"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty" db:"provider_message_id"`
	LastError         *string       `json:"last_error,omitempty" db:"last_error"`
	RetryCount        int           `json:"retry_count" db:"retry_count"`
}

// Claimable reports whether the message may be claimed at now given the retry ceiling.
func (m *OutboundMessage) Claimable(now time.Time, maxRetries int) bool {
	if m.Status != MessageStatusQueued && m.Status != MessageStatusFailed {
		return false
	}
	if m.RetryCount >= maxRetries {
		return false
	}
	return m.NotBeforeAt == nil || !m.NotBeforeAt.After(now)
}

// EnqueueRequest carries everything needed to create a queued message.
type EnqueueRequest struct {
	OwnerID         uuid.UUID
	CustomerID      uuid.UUID
	Channel         Channel
	TemplateID      *uuid.UUID
	Body            string
	Variables       map[string]interface{}
	DelayMinutes    int
	NotBeforeAt     *time.Time
	CancelOnInbound bool
}

// NewOutboundMessage validates req and builds the queued row.
// Exactly one of TemplateID or a non-blank Body must be set.
func NewOutboundMessage(req EnqueueRequest, now time.Time) (*OutboundMessage, error) {
	now = now.UTC()

	if req.OwnerID == uuid.Nil {
		return nil, validationError("owner is required")
	}
	if req.CustomerID == uuid.Nil {
		return nil, validationError("customer is required")
	}

	channel := req.Channel
	if channel == "" {
		channel = ChannelWhatsApp
	}
	if !channel.Valid() {
		return nil, validationError("invalid channel %q", req.Channel)
	}

	body := strings.TrimSpace(req.Body)
	hasTemplate := req.TemplateID != nil && *req.TemplateID != uuid.Nil
	switch {
	case hasTemplate && body != "":
		return nil, validationError("template_id and body are mutually exclusive")
	case !hasTemplate && body == "":
		return nil, validationError("either template_id or body is required")
	}
	if utf8.RuneCountInString(req.Body) > MaxBodyLength {
		return nil, validationError("body exceeds %d characters", MaxBodyLength)
	}

	if req.DelayMinutes < 0 {
		return nil, validationError("delay_minutes must not be negative")
	}
	if req.DelayMinutes > 0 && req.NotBeforeAt != nil {
		return nil, validationError("delay_minutes and not_before_at are mutually exclusive")
	}

	msg := &OutboundMessage{
		Base: Base{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		OwnerID:         req.OwnerID,
		CustomerID:      req.CustomerID,
		Channel:         channel,
		Status:          MessageStatusQueued,
		Variables:       JSONMap{},
		CancelOnInbound: req.CancelOnInbound,
	}
	if hasTemplate {
		id := *req.TemplateID
		msg.TemplateID = &id
	} else {
		// stored as given; trimming only decides whether a body is present
		raw := req.Body
		msg.Body = &raw
	}
	for k, v := range req.Variables {
		msg.Variables[k] = v
	}

	switch {
	case req.DelayMinutes > 0:
		at := now.Add(time.Duration(req.DelayMinutes) * time.Minute)
		msg.NotBeforeAt = &at
	case req.NotBeforeAt != nil:
		at := req.NotBeforeAt.UTC()
		msg.NotBeforeAt = &at
	}

	return msg, nil
}
