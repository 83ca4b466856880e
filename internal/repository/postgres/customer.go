package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

const customerColumns = `id, owner_id, name, email, phone, stage, can_contact, language,
	next_follow_up_at, created_at, updated_at`

type customerRepository struct {
	BaseRepository
}

func NewCustomerRepository(db *sqlx.DB) repository.CustomerRepository {
	return &customerRepository{BaseRepository{ext: db}}
}

func (r *customerRepository) Create(ctx context.Context, customer *model.Customer) error {
	if customer == nil {
		return fmt.Errorf("customer cannot be nil")
	}
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}

	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		customer.ID,
		customer.OwnerID,
		customer.Name,
		customer.Email,
		customer.Phone,
		customer.Stage,
		customer.CanContact,
		customer.Language,
		utcPtr(customer.NextFollowUpAt),
		customer.CreatedAt.UTC(),
		customer.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

func (r *customerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	var customer model.Customer
	if err := r.get(ctx, &customer, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return r.withTags(ctx, &customer)
}

// GetByPhone returns the oldest customer with an exact phone match.
func (r *customerRepository) GetByPhone(ctx context.Context, phone string) (*model.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE phone = ?
		ORDER BY created_at ASC
		LIMIT 1
	`
	var customer model.Customer
	if err := r.get(ctx, &customer, query, phone); err != nil {
		return nil, err
	}
	return r.withTags(ctx, &customer)
}

func (r *customerRepository) withTags(ctx context.Context, customer *model.Customer) (*model.Customer, error) {
	tags, err := (&tagRepository{r.BaseRepository}).ListForCustomer(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	customer.Tags = tags
	return customer, nil
}

func (r *customerRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage string, now time.Time) error {
	n, err := r.exec(ctx, `UPDATE customers SET stage = ?, updated_at = ? WHERE id = ?`, stage, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update customer stage: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *customerRepository) SetNextFollowUp(ctx context.Context, id uuid.UUID, at time.Time, now time.Time) error {
	n, err := r.exec(ctx, `UPDATE customers SET next_follow_up_at = ?, updated_at = ? WHERE id = ?`, at.UTC(), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set follow-up: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

type tagRepository struct {
	BaseRepository
}

func (r *tagRepository) AddToCustomer(ctx context.Context, ownerID, customerID uuid.UUID, name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tag name cannot be empty")
	}

	var exists int
	if err := r.get(ctx, &exists, `SELECT 1 FROM customers WHERE id = ?`, customerID); err != nil {
		return err
	}

	var colorArg *string
	if color != "" {
		colorArg = &color
	}
	now := time.Now().UTC()

	_, err := r.exec(ctx, `
		INSERT INTO tags (id, owner_id, name, color, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (owner_id, name) DO NOTHING
	`, uuid.New(), ownerID, name, colorArg, now)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}

	var tagID uuid.UUID
	if err := r.get(ctx, &tagID, `SELECT id FROM tags WHERE owner_id = ? AND name = ?`, ownerID, name); err != nil {
		return fmt.Errorf("failed to load tag: %w", err)
	}

	_, err = r.exec(ctx, `
		INSERT INTO customer_tags (customer_id, tag_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (customer_id, tag_id) DO NOTHING
	`, customerID, tagID, now)
	if err != nil {
		return fmt.Errorf("failed to tag customer: %w", err)
	}
	return nil
}

func (r *tagRepository) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]string, error) {
	query := `
		SELECT t.name
		FROM customer_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.customer_id = ?
		ORDER BY ct.created_at ASC, t.name ASC
	`
	names := []string{}
	if err := r.selectAll(ctx, &names, query, customerID); err != nil {
		return nil, fmt.Errorf("failed to list customer tags: %w", err)
	}
	return names, nil
}
