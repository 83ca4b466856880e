package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
	apperrors "github.com/jwalitptl/crm-api/pkg/errors"
	"github.com/jwalitptl/crm-api/pkg/logger"
	"github.com/jwalitptl/crm-api/pkg/metrics"
)

// ListLimit caps the number of messages returned by List.
const ListLimit = 200

// Enqueue validates req and stores the queued message. API calls and automation
// actions both go through here.
func Enqueue(ctx context.Context, repo repository.OutboundMessageRepository, req model.EnqueueRequest, now time.Time) (*model.OutboundMessage, error) {
	msg, err := model.NewOutboundMessage(req, now)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}
	return msg, nil
}

type Service interface {
	Create(ctx context.Context, ownerID uuid.UUID, req model.EnqueueRequest) (*model.OutboundMessage, error)
	Get(ctx context.Context, ownerID, id uuid.UUID) (*model.OutboundMessage, error)
	List(ctx context.Context, ownerID uuid.UUID) ([]*model.OutboundMessage, error)
	Cancel(ctx context.Context, ownerID, id uuid.UUID) (*model.OutboundMessage, error)
}

type service struct {
	store   repository.Store
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(store repository.Store, log *logger.Logger, m *metrics.Metrics) Service {
	return &service{
		store:   store,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

func (s *service) Create(ctx context.Context, ownerID uuid.UUID, req model.EnqueueRequest) (*model.OutboundMessage, error) {
	customer, err := s.store.Customers().Get(ctx, req.CustomerID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("customer", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if customer.OwnerID != ownerID {
		return nil, apperrors.Forbidden("customer belongs to another account")
	}

	if req.TemplateID != nil && *req.TemplateID != uuid.Nil {
		if _, err := s.store.Templates().Get(ctx, *req.TemplateID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.BadRequest("template not found", err)
			}
			return nil, apperrors.Internal(err)
		}
	}

	req.OwnerID = ownerID
	msg, err := Enqueue(ctx, s.store.Messages(), req, s.now())
	if errors.Is(err, model.ErrValidation) {
		return nil, apperrors.BadRequest(err.Error(), err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	s.log.Info("Message queued", "message_id", msg.ID, "customer_id", msg.CustomerID, "channel", msg.Channel)
	return msg, nil
}

func (s *service) Get(ctx context.Context, ownerID, id uuid.UUID) (*model.OutboundMessage, error) {
	msg, err := s.store.Messages().Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("outbound message", err)
	}
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if msg.OwnerID != ownerID {
		return nil, apperrors.Forbidden("message belongs to another account")
	}
	return msg, nil
}

func (s *service) List(ctx context.Context, ownerID uuid.UUID) ([]*model.OutboundMessage, error) {
	msgs, err := s.store.Messages().ListByOwner(ctx, ownerID, ListLimit)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	return msgs, nil
}

// Cancel moves a queued message to cancelled. Messages already claimed by a worker
// or finished are reported as a conflict and left untouched.
func (s *service) Cancel(ctx context.Context, ownerID, id uuid.UUID) (*model.OutboundMessage, error) {
	msg, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	n, err := s.store.Messages().Cancel(ctx, ownerID, []uuid.UUID{id}, s.now())
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	if n == 0 {
		return nil, apperrors.Conflict(fmt.Sprintf("message is %s and can no longer be cancelled", msg.Status))
	}
	s.metrics.MessagesCancelled.Add(float64(n))

	msg, err = s.store.Messages().Get(ctx, id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	s.log.Info("Message cancelled", "message_id", id)
	return msg, nil
}
