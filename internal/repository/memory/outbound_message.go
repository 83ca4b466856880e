package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

type messageRepository struct {
	view
}

func cloneMessage(m *model.OutboundMessage) *model.OutboundMessage {
	cp := *m
	if m.TemplateID != nil {
		id := *m.TemplateID
		cp.TemplateID = &id
	}
	cp.Body = cloneString(m.Body)
	cp.ProviderMessageID = cloneString(m.ProviderMessageID)
	cp.LastError = cloneString(m.LastError)
	cp.NotBeforeAt = cloneTime(m.NotBeforeAt)
	cp.CancelledAt = cloneTime(m.CancelledAt)
	if m.Variables != nil {
		cp.Variables = make(model.JSONMap, len(m.Variables))
		for k, v := range m.Variables {
			cp.Variables[k] = v
		}
	}
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (r *messageRepository) Create(ctx context.Context, msg *model.OutboundMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}
	r.lock()
	defer r.unlock()

	if _, exists := r.messages[msg.ID]; exists {
		return fmt.Errorf("failed to create outbound message: duplicate id %s", msg.ID)
	}
	r.messages[msg.ID] = cloneMessage(msg)
	r.messageOrder = append(r.messageOrder, msg.ID)
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.OutboundMessage, error) {
	r.lock()
	defer r.unlock()

	m, ok := r.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (r *messageRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*model.OutboundMessage, error) {
	r.lock()
	defer r.unlock()

	var out []*model.OutboundMessage
	for i := len(r.messageOrder) - 1; i >= 0; i-- {
		m := r.messages[r.messageOrder[i]]
		if m.OwnerID == ownerID {
			out = append(out, cloneMessage(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ordered returns messages oldest first, insertion order breaking ties. Caller holds mu.
func (r *messageRepository) ordered() []*model.OutboundMessage {
	out := make([]*model.OutboundMessage, 0, len(r.messageOrder))
	for _, id := range r.messageOrder {
		out = append(out, r.messages[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *messageRepository) ClaimBatch(ctx context.Context, limit, maxRetries int, now time.Time) ([]*model.OutboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	r.lock()
	defer r.unlock()

	var claimed []*model.OutboundMessage
	for _, m := range r.ordered() {
		if len(claimed) == limit {
			break
		}
		if !m.Claimable(now, maxRetries) {
			continue
		}
		m.Status = model.MessageStatusSending
		m.UpdatedAt = now
		claimed = append(claimed, cloneMessage(m))
	}
	return claimed, nil
}

func (r *messageRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, now time.Time) error {
	r.lock()
	defer r.unlock()

	m, ok := r.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.Status != model.MessageStatusSending {
		return repository.ErrNotClaimed
	}
	m.Status = model.MessageStatusSent
	m.ProviderMessageID = &providerMessageID
	m.LastError = nil
	m.UpdatedAt = now.UTC()
	return nil
}

func (r *messageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	r.lock()
	defer r.unlock()

	m, ok := r.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.Status != model.MessageStatusSending {
		return repository.ErrNotClaimed
	}
	m.Status = model.MessageStatusFailed
	m.LastError = &reason
	m.RetryCount++
	m.UpdatedAt = now.UTC()
	return nil
}

func (r *messageRepository) ReleaseClaims(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	r.lock()
	defer r.unlock()

	var n int64
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok || m.Status != model.MessageStatusSending {
			continue
		}
		m.Status = model.MessageStatusQueued
		m.UpdatedAt = now.UTC()
		n++
	}
	return n, nil
}

func (r *messageRepository) Cancel(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error) {
	r.lock()
	defer r.unlock()

	var n int64
	for _, id := range ids {
		m, ok := r.messages[id]
		if !ok || m.OwnerID != ownerID || m.Status != model.MessageStatusQueued {
			continue
		}
		cancel(m, now)
		n++
	}
	return n, nil
}

func (r *messageRepository) CancelOnInbound(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error) {
	r.lock()
	defer r.unlock()

	var n int64
	for _, m := range r.messages {
		if m.CustomerID != customerID || !m.CancelOnInbound || m.Status != model.MessageStatusQueued {
			continue
		}
		cancel(m, now)
		n++
	}
	return n, nil
}

func cancel(m *model.OutboundMessage, now time.Time) {
	at := now.UTC()
	m.Status = model.MessageStatusCancelled
	m.CancelledAt = &at
	m.UpdatedAt = at
}

func (r *messageRepository) CountStaleSending(ctx context.Context, before time.Time) (int64, error) {
	r.lock()
	defer r.unlock()

	var n int64
	for _, m := range r.messages {
		if m.Status == model.MessageStatusSending && m.UpdatedAt.Before(before) {
			n++
		}
	}
	return n, nil
}
