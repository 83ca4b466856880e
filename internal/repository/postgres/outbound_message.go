package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

const messageColumns = `id, owner_id, customer_id, channel, status, template_id, body, variables,
	not_before_at, cancel_on_inbound, cancelled_at, provider_message_id, last_error, retry_count,
	created_at, updated_at`

type outboundMessageRepository struct {
	BaseRepository
}

func NewOutboundMessageRepository(db *sqlx.DB) repository.OutboundMessageRepository {
	return &outboundMessageRepository{BaseRepository{ext: db}}
}

func (r *outboundMessageRepository) Create(ctx context.Context, msg *model.OutboundMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	query := `
		INSERT INTO outbound_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		msg.ID,
		msg.OwnerID,
		msg.CustomerID,
		msg.Channel,
		msg.Status,
		msg.TemplateID,
		msg.Body,
		msg.Variables,
		utcPtr(msg.NotBeforeAt),
		msg.CancelOnInbound,
		utcPtr(msg.CancelledAt),
		msg.ProviderMessageID,
		msg.LastError,
		msg.RetryCount,
		msg.CreatedAt.UTC(),
		msg.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create outbound message: %w", err)
	}
	return nil
}

func (r *outboundMessageRepository) Get(ctx context.Context, id uuid.UUID) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	err := r.get(ctx, &msg, `SELECT `+messageColumns+` FROM outbound_messages WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *outboundMessageRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*model.OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	var msgs []*model.OutboundMessage
	if err := r.selectAll(ctx, &msgs, query, ownerID, limit); err != nil {
		return nil, fmt.Errorf("failed to list outbound messages: %w", err)
	}
	return msgs, nil
}

type claimCandidate struct {
	ID     uuid.UUID           `db:"id"`
	Status model.MessageStatus `db:"status"`
}

// ClaimBatch picks candidates with a plain read and then claims each row with a
// single conditional UPDATE, so two workers can read the same candidates but only
// one of them gets a row back from the update.
func (r *outboundMessageRepository) ClaimBatch(ctx context.Context, limit, maxRetries int, now time.Time) ([]*model.OutboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}
	now = now.UTC()

	query := `
		SELECT id, status
		FROM outbound_messages
		WHERE status IN ('queued', 'failed')
		AND retry_count < ?
		AND (not_before_at IS NULL OR not_before_at <= ?)
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`
	var candidates []claimCandidate
	if err := r.selectAll(ctx, &candidates, query, maxRetries, now, limit); err != nil {
		return nil, fmt.Errorf("failed to select claim candidates: %w", err)
	}

	claim := `
		UPDATE outbound_messages
		SET status = 'sending', updated_at = ?
		WHERE id = ? AND status = ? AND retry_count < ?
		RETURNING ` + messageColumns

	claimed := make([]*model.OutboundMessage, 0, len(candidates))
	for _, c := range candidates {
		var msg model.OutboundMessage
		err := r.get(ctx, &msg, claim, now, c.ID, c.Status, maxRetries)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return claimed, fmt.Errorf("failed to claim message %s: %w", c.ID, err)
		}
		claimed = append(claimed, &msg)
	}
	return claimed, nil
}

func (r *outboundMessageRepository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, now time.Time) error {
	query := `
		UPDATE outbound_messages
		SET status = 'sent', provider_message_id = ?, last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'sending'
	`
	n, err := r.exec(ctx, query, providerMessageID, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark message sent: %w", err)
	}
	if n == 0 {
		return repository.ErrNotClaimed
	}
	return nil
}

func (r *outboundMessageRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	query := `
		UPDATE outbound_messages
		SET status = 'failed', last_error = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id = ? AND status = 'sending'
	`
	n, err := r.exec(ctx, query, reason, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark message failed: %w", err)
	}
	if n == 0 {
		return repository.ErrNotClaimed
	}
	return nil
}

func (r *outboundMessageRepository) ReleaseClaims(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`
		UPDATE outbound_messages
		SET status = 'queued', updated_at = ?
		WHERE status = 'sending' AND id IN (?)
	`, now.UTC(), ids)
	if err != nil {
		return 0, err
	}
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to release claims: %w", err)
	}
	return n, nil
}

func (r *outboundMessageRepository) Cancel(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now = now.UTC()
	query, args, err := sqlx.In(`
		UPDATE outbound_messages
		SET status = 'cancelled', cancelled_at = ?, updated_at = ?
		WHERE owner_id = ? AND status = 'queued' AND id IN (?)
	`, now, now, ownerID, ids)
	if err != nil {
		return 0, err
	}
	n, err := r.exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel messages: %w", err)
	}
	return n, nil
}

func (r *outboundMessageRepository) CancelOnInbound(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error) {
	now = now.UTC()
	query := `
		UPDATE outbound_messages
		SET status = 'cancelled', cancelled_at = ?, updated_at = ?
		WHERE customer_id = ? AND status = 'queued' AND cancel_on_inbound = ?
	`
	n, err := r.exec(ctx, query, now, now, customerID, true)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending messages: %w", err)
	}
	return n, nil
}

func (r *outboundMessageRepository) CountStaleSending(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.get(ctx, &n, `SELECT COUNT(*) FROM outbound_messages WHERE status = 'sending' AND updated_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count stale messages: %w", err)
	}
	return n, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
