package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventMessageSent   = "message.sent"
	EventMessageFailed = "message.failed"
)

// LifecycleEvent is published to the broker when a message changes state
// or an inbound reply is processed.
type LifecycleEvent struct {
	Type       string                 `json:"type"`
	OwnerID    uuid.UUID              `json:"owner_id"`
	CustomerID uuid.UUID              `json:"customer_id"`
	MessageID  *uuid.UUID             `json:"message_id,omitempty"`
	Channel    Channel                `json:"channel"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}
