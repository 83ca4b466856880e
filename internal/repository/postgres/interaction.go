package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
)

type interactionRepository struct {
	BaseRepository
}

func (r *interactionRepository) Create(ctx context.Context, interaction *model.Interaction) error {
	if interaction == nil {
		return fmt.Errorf("interaction cannot be nil")
	}
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO interactions (
			id, owner_id, customer_id, channel, direction, occurred_at,
			content, subject, provider_message_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		interaction.ID,
		interaction.OwnerID,
		interaction.CustomerID,
		interaction.Channel,
		interaction.Direction,
		interaction.OccurredAt.UTC(),
		interaction.Content,
		interaction.Subject,
		interaction.ProviderMessageID,
		interaction.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

func (r *interactionRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*model.Interaction, error) {
	query := `
		SELECT id, owner_id, customer_id, channel, direction, occurred_at,
			content, subject, provider_message_id, created_at
		FROM interactions
		WHERE customer_id = ?
		ORDER BY occurred_at ASC, created_at ASC
	`
	var out []*model.Interaction
	if err := r.selectAll(ctx, &out, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}
	return out, nil
}
