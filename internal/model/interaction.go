package model

import (
	"time"

	"github.com/google/uuid"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Interaction is an append-only record of one message sent or received.
type Interaction struct {
	ID                uuid.UUID `json:"id" db:"id"`
	OwnerID           uuid.UUID `json:"owner_id" db:"owner_id"`
	CustomerID        uuid.UUID `json:"customer_id" db:"customer_id"`
	Channel           Channel   `json:"channel" db:"channel"`
	Direction         Direction `json:"direction" db:"direction"`
	OccurredAt        time.Time `json:"occurred_at" db:"occurred_at"`
	Content           string    `json:"content" db:"content"`
	Subject           *string   `json:"subject,omitempty" db:"subject"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty" db:"provider_message_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}
