package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

type workflowRepository struct {
	view
}

func cloneWorkflow(w *model.Workflow) *model.Workflow {
	cp := *w
	if w.Conditions != nil {
		cp.Conditions = make(model.JSONMap, len(w.Conditions))
		for k, v := range w.Conditions {
			cp.Conditions[k] = v
		}
	}
	cp.Actions = append(model.Actions(nil), w.Actions...)
	return &cp
}

func (r *workflowRepository) Create(ctx context.Context, workflow *model.Workflow) error {
	if workflow == nil {
		return fmt.Errorf("workflow cannot be nil")
	}
	r.lock()
	defer r.unlock()

	if workflow.ID == uuid.Nil {
		workflow.ID = uuid.New()
	}
	r.workflows[workflow.ID] = cloneWorkflow(workflow)
	return nil
}

func (r *workflowRepository) Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	r.lock()
	defer r.unlock()

	w, ok := r.workflows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneWorkflow(w), nil
}

func (r *workflowRepository) Update(ctx context.Context, workflow *model.Workflow) error {
	r.lock()
	defer r.unlock()

	if _, ok := r.workflows[workflow.ID]; !ok {
		return repository.ErrNotFound
	}
	r.workflows[workflow.ID] = cloneWorkflow(workflow)
	return nil
}

func (r *workflowRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Workflow, error) {
	return r.list(func(w *model.Workflow) bool { return w.OwnerID == ownerID }), nil
}

func (r *workflowRepository) ListEnabledByTrigger(ctx context.Context, ownerID uuid.UUID, event string) ([]*model.Workflow, error) {
	return r.list(func(w *model.Workflow) bool {
		return w.OwnerID == ownerID && w.IsEnabled && w.TriggerEvent == event
	}), nil
}

func (r *workflowRepository) list(keep func(*model.Workflow) bool) []*model.Workflow {
	r.lock()
	defer r.unlock()

	var out []*model.Workflow
	for _, w := range r.workflows {
		if keep(w) {
			out = append(out, cloneWorkflow(w))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
