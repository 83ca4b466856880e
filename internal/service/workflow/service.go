package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
	"github.com/jwalitptl/crm-api/internal/service/automation"
	apperrors "github.com/jwalitptl/crm-api/pkg/errors"
	"github.com/jwalitptl/crm-api/pkg/logger"
)

type CreateRequest struct {
	Name         string        `json:"name" binding:"required"`
	TriggerEvent string        `json:"trigger_event" binding:"required,trigger"`
	IsEnabled    *bool         `json:"is_enabled"`
	Conditions   model.JSONMap `json:"conditions"`
	Actions      model.Actions `json:"actions"`
}

// EventHandler runs the automations for one event.
type EventHandler interface {
	HandleEvent(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*automation.Result, error)
}

type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*model.Workflow, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Workflow, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*model.Workflow, error)
	Update(ctx context.Context, ownerID, id uuid.UUID, patch model.WorkflowPatch) (*model.Workflow, error)
	// Trigger runs handle_event for a CRM-side event on one of the owner's customers.
	Trigger(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*automation.Result, error)
}

type service struct {
	store  repository.Store
	engine EventHandler
	log    *logger.Logger
	now    func() time.Time
}

func NewService(store repository.Store, engine EventHandler, log *logger.Logger) Service {
	return &service{
		store:  store,
		engine: engine,
		log:    log,
		now:    time.Now,
	}
}

func (s *service) Create(ctx context.Context, ownerID uuid.UUID, req CreateRequest) (*model.Workflow, error) {
	now := s.now().UTC()
	w := &model.Workflow{
		Base:         model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		OwnerID:      ownerID,
		Name:         strings.TrimSpace(req.Name),
		TriggerEvent: strings.TrimSpace(req.TriggerEvent),
		IsEnabled:    true,
		Conditions:   req.Conditions,
		Actions:      req.Actions,
	}
	if req.IsEnabled != nil {
		w.IsEnabled = *req.IsEnabled
	}
	if w.Conditions == nil {
		w.Conditions = model.JSONMap{}
	}
	if w.Actions == nil {
		w.Actions = model.Actions{}
	}
	if err := w.Validate(); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}

	if err := s.store.Workflows().Create(ctx, w); err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("Workflow created", "workflow_id", w.ID, "trigger", w.TriggerEvent, "actions", len(w.Actions))
	return w, nil
}

func (s *service) Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Workflow, error) {
	w, err := s.store.Workflows().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("workflow", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	// other owners' workflows are invisible
	if w.OwnerID != ownerID {
		return nil, apperrors.NotFound("workflow", nil)
	}
	return w, nil
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]*model.Workflow, error) {
	ws, err := s.store.Workflows().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return ws, nil
}

func (s *service) Update(ctx context.Context, ownerID, id uuid.UUID, patch model.WorkflowPatch) (*model.Workflow, error) {
	w, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(w)
	w.Name = strings.TrimSpace(w.Name)
	w.TriggerEvent = strings.TrimSpace(w.TriggerEvent)
	if err := w.Validate(); err != nil {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	w.UpdatedAt = s.now().UTC()

	if err := s.store.Workflows().Update(ctx, w); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("workflow", err)
		}
		return nil, apperrors.Internal(err)
	}
	return w, nil
}

func (s *service) Trigger(ctx context.Context, ownerID uuid.UUID, event string, customerID uuid.UUID, evalCtx map[string]interface{}) (*automation.Result, error) {
	customer, err := s.store.Customers().Get(ctx, customerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("customer", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if customer.OwnerID != ownerID {
		return nil, apperrors.Forbidden("customer belongs to another account")
	}
	if evalCtx == nil {
		evalCtx = map[string]interface{}{}
	}

	res, err := s.engine.HandleEvent(ctx, ownerID, event, customerID, evalCtx)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return res, nil
}
