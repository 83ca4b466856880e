package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	StageNew     = "new"
	StageEngaged = "engaged"
)

// Customer is the subset of the CRM customer record the messaging core reads and writes.
type Customer struct {
	Base
	OwnerID        uuid.UUID  `json:"owner_id" db:"owner_id"`
	Name           string     `json:"name" db:"name"`
	Email          *string    `json:"email,omitempty" db:"email"`
	Phone          *string    `json:"phone,omitempty" db:"phone"`
	Stage          string     `json:"stage" db:"stage"`
	CanContact     bool       `json:"can_contact" db:"can_contact"`
	Language       *string    `json:"language,omitempty" db:"language"`
	NextFollowUpAt *time.Time `json:"next_follow_up_at,omitempty" db:"next_follow_up_at"`
	Tags           []string   `json:"tags,omitempty" db:"-"`
}

// Address returns the destination for channel, or "" when the customer has none.
func (c *Customer) Address(channel Channel) string {
	var v *string
	if channel.UsesPhone() {
		v = c.Phone
	} else {
		v = c.Email
	}
	if v == nil {
		return ""
	}
	return *v
}

// Tag is an owner-scoped label, unique by name per owner.
type Tag struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OwnerID   uuid.UUID `json:"owner_id" db:"owner_id"`
	Name      string    `json:"name" db:"name"`
	Color     *string   `json:"color,omitempty" db:"color"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is only needed to pick the default owner for unknown inbound senders.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
