package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
)

type interactionRepository struct {
	view
}

func (r *interactionRepository) Create(ctx context.Context, interaction *model.Interaction) error {
	if interaction == nil {
		return fmt.Errorf("interaction cannot be nil")
	}
	r.lock()
	defer r.unlock()

	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	cp := *interaction
	r.interactions = append(r.interactions, &cp)
	return nil
}

func (r *interactionRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*model.Interaction, error) {
	r.lock()
	defer r.unlock()

	var out []*model.Interaction
	for _, i := range r.interactions {
		if i.CustomerID == customerID {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}
