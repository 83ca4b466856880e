package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

type templateRepository struct {
	view
}

func (r *templateRepository) Create(ctx context.Context, tpl *model.Template) error {
	if tpl == nil {
		return fmt.Errorf("template cannot be nil")
	}
	r.lock()
	defer r.unlock()

	if tpl.ID == uuid.Nil {
		tpl.ID = uuid.New()
	}
	if tpl.Language == "" {
		tpl.Language = model.LanguageUnspecified
	}
	cp := *tpl
	r.templates[cp.ID] = &cp
	return nil
}

func (r *templateRepository) Get(ctx context.Context, id uuid.UUID) (*model.Template, error) {
	r.lock()
	defer r.unlock()

	t, ok := r.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *templateRepository) FindByName(ctx context.Context, channel model.Channel, name, language string) (*model.Template, error) {
	r.lock()
	defer r.unlock()

	for _, t := range r.templates {
		if t.Channel == channel && t.Name == name && t.Language == language {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}
