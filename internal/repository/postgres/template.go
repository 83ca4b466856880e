package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
)

const templateColumns = `id, channel, name, language, category, subject, body, provider_template_id,
	created_at, updated_at`

type templateRepository struct {
	BaseRepository
}

func (r *templateRepository) Create(ctx context.Context, tpl *model.Template) error {
	if tpl == nil {
		return fmt.Errorf("template cannot be nil")
	}
	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	if tpl.Language == "" {
		tpl.Language = model.LanguageUnspecified
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
		tpl.UpdatedAt = tpl.CreatedAt
	}

	query := `
		INSERT INTO templates (` + templateColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		tpl.ID,
		tpl.Channel,
		tpl.Name,
		tpl.Language,
		tpl.Category,
		tpl.Subject,
		tpl.Body,
		tpl.ProviderTemplateID,
		tpl.CreatedAt.UTC(),
		tpl.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	var tpl model.Template
	if err := r.get(ctx, &tpl, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *templateRepository) FindByName(ctx context.Context, channel model.Channel, name, language string) (*model.Template, error) {
	query := `
		SELECT ` + templateColumns + `
		FROM templates
		WHERE channel = ? AND name = ? AND language = ?
	`
	var tpl model.Template
	if err := r.get(ctx, &tpl, query, channel, name, language); err != nil {
		return nil, err
	}
	return &tpl, nil
}
