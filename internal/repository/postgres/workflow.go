package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

const workflowColumns = `id, owner_id, name, trigger_event, is_enabled, conditions, actions, created_at, updated_at`

type workflowRepository struct {
	BaseRepository
}

func (r *workflowRepository) Create(ctx context.Context, workflow *model.Workflow) error {
	if workflow == nil {
		return fmt.Errorf("workflow cannot be nil")
	}
	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}

	query := `
		INSERT INTO workflows (` + workflowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		workflow.ID,
		workflow.OwnerID,
		workflow.Name,
		workflow.TriggerEvent,
		workflow.IsEnabled,
		workflow.Conditions,
		workflow.Actions,
		workflow.CreatedAt.UTC(),
		workflow.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	return nil
}

func (r *workflowRepository) Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	var workflow model.Workflow
	if err := r.get(ctx, &workflow, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &workflow, nil
}

func (r *workflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	query := `
		UPDATE workflows
		SET name = ?, trigger_event = ?, is_enabled = ?, conditions = ?, actions = ?, updated_at = ?
		WHERE id = ?
	`
	n, err := r.exec(ctx, query,
		workflow.Name,
		workflow.TriggerEvent,
		workflow.IsEnabled,
		workflow.Conditions,
		workflow.Actions,
		workflow.UpdatedAt.UTC(),
		workflow.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *workflowRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE owner_id = ?
		ORDER BY created_at ASC, id ASC
	`
	var out []*model.Workflow
	if err := r.selectAll(ctx, &out, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out, nil
}

func (r *workflowRepository) ListEnabledByTrigger(ctx context.Context, ownerID uuid.UUID, event string) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE owner_id = ? AND trigger_event = ? AND is_enabled = ?
		ORDER BY created_at ASC, id ASC
	`
	var out []*model.Workflow
	if err := r.selectAll(ctx, &out, query, ownerID, event, true); err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return out, nil
}
