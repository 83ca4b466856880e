package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("record not found")

// ErrNotClaimed is returned when a completion targets a message that is no longer in sending.
var ErrNotClaimed = errors.New("message is not claimed")

type (
	// OutboundMessageRepository owns the queue state of outbound messages.
	// Every mutation bumps updated_at.
	OutboundMessageRepository interface {
		Create(ctx context.Context, msg *model.OutboundMessage) error
		Get(ctx context.Context, id uuid.UUID) (*model.OutboundMessage, error)
		ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]*model.OutboundMessage, error)

		// ClaimBatch selects up to limit claimable messages oldest first and moves each one
		// to sending with a conditional update. Rows lost to a concurrent claim or
		// cancellation are skipped.
		ClaimBatch(ctx context.Context, limit, maxRetries int, now time.Time) ([]*model.OutboundMessage, error)
		MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, now time.Time) error
		MarkFailed(ctx context.Context, id uuid.UUID, reason string, now time.Time) error
		ReleaseClaims(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)

		// Cancel and CancelOnInbound only touch rows still in queued.
		Cancel(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, now time.Time) (int64, error)
		CancelOnInbound(ctx context.Context, customerID uuid.UUID, now time.Time) (int64, error)

		CountStaleSending(ctx context.Context, before time.Time) (int64, error)
	}

	CustomerRepository interface {
		Create(ctx context.Context, customer *model.Customer) error
		Get(ctx context.Context, id uuid.UUID) (*model.Customer, error)
		GetByPhone(ctx context.Context, phone string) (*model.Customer, error)
		UpdateStage(ctx context.Context, id uuid.UUID, stage string, now time.Time) error
		SetNextFollowUp(ctx context.Context, id uuid.UUID, at time.Time, now time.Time) error
	}

	TagRepository interface {
		// AddToCustomer gets or creates the owner's tag and links it to the customer.
		// Linking an already linked tag is a no-op.
		AddToCustomer(ctx context.Context, ownerID, customerID uuid.UUID, name, color string) error
		ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]string, error)
	}

	TemplateRepository interface {
		Create(ctx context.Context, tpl *model.Template) error
		Get(ctx context.Context, id uuid.UUID) (*model.Template, error)
		// FindByName matches channel, name and language exactly.
		FindByName(ctx context.Context, channel model.Channel, name, language string) (*model.Template, error)
	}

	InteractionRepository interface {
		Create(ctx context.Context, interaction *model.Interaction) error
		ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]*model.Interaction, error)
	}

	WorkflowRepository interface {
		Create(ctx context.Context, workflow *model.Workflow) error
		Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
		Update(ctx context.Context, workflow *model.Workflow) error
		ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*model.Workflow, error)
		// ListEnabledByTrigger returns the owner's enabled workflows for event, oldest first.
		ListEnabledByTrigger(ctx context.Context, ownerID uuid.UUID, event string) ([]*model.Workflow, error)
	}

	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		MostRecent(ctx context.Context) (*model.User, error)
	}

	// Store groups the repositories over one backend. Repositories obtained from the
	// Store passed to WithTx's callback share that transaction.
	Store interface {
		Messages() OutboundMessageRepository
		Customers() CustomerRepository
		Tags() TagRepository
		Templates() TemplateRepository
		Interactions() InteractionRepository
		Workflows() WorkflowRepository
		Users() UserRepository

		WithTx(ctx context.Context, fn func(tx Store) error) error
		Ping(ctx context.Context) error
	}
)

// ResolveTemplate finds a template for language and falls back to the unspecified-language variant.
func ResolveTemplate(ctx context.Context, repo TemplateRepository, channel model.Channel, name, language string) (*model.Template, error) {
	if language == "" {
		language = model.LanguageUnspecified
	}
	tpl, err := repo.FindByName(ctx, channel, name, language)
	if err == nil || !errors.Is(err, ErrNotFound) || language == model.LanguageUnspecified {
		return tpl, err
	}
	return repo.FindByName(ctx, channel, name, model.LanguageUnspecified)
}
