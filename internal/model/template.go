package model

import (
	"time"

	"github.com/google/uuid"
)

// LanguageUnspecified is the fallback language of a template.
const LanguageUnspecified = "und"

type Template struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	Channel            Channel   `json:"channel" db:"channel"`
	Name               string    `json:"name" db:"name"`
	Language           string    `json:"language" db:"language"`
	Category           *string   `json:"category,omitempty" db:"category"`
	Subject            *string   `json:"subject,omitempty" db:"subject"`
	Body               string    `json:"body" db:"body"`
	ProviderTemplateID *string   `json:"provider_template_id,omitempty" db:"provider_template_id"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}
