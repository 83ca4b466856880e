package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
	"github.com/jwalitptl/crm-api/internal/repository"
)

type customerRepository struct {
	view
}

func cloneCustomer(c *model.Customer) *model.Customer {
	cp := *c
	cp.Email = cloneString(c.Email)
	cp.Phone = cloneString(c.Phone)
	cp.Language = cloneString(c.Language)
	cp.NextFollowUpAt = cloneTime(c.NextFollowUpAt)
	cp.Tags = append([]string(nil), c.Tags...)
	return &cp
}

func (r *customerRepository) Create(ctx context.Context, customer *model.Customer) error {
	if customer == nil {
		return fmt.Errorf("customer cannot be nil")
	}
	r.lock()
	defer r.unlock()

	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	if _, exists := r.customers[customer.ID]; exists {
		return fmt.Errorf("failed to create customer: duplicate id %s", customer.ID)
	}
	r.customers[customer.ID] = cloneCustomer(customer)
	return nil
}

func (r *customerRepository) Get(ctx context.Context, id uuid.UUID) (*model.Customer, error) {
	r.lock()
	defer r.unlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.withTags(c), nil
}

func (r *customerRepository) GetByPhone(ctx context.Context, phone string) (*model.Customer, error) {
	r.lock()
	defer r.unlock()

	var found *model.Customer
	for _, c := range r.customers {
		if c.Phone == nil || *c.Phone != phone {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return r.withTags(found), nil
}

// withTags clones c with its tag names attached. Caller holds mu.
func (r *customerRepository) withTags(c *model.Customer) *model.Customer {
	cp := cloneCustomer(c)
	cp.Tags = nil
	for _, id := range r.customerTags[c.ID] {
		cp.Tags = append(cp.Tags, r.tags[id].Name)
	}
	return cp
}

func (r *customerRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage string, now time.Time) error {
	r.lock()
	defer r.unlock()

	c, ok := r.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.Stage = stage
	c.UpdatedAt = now.UTC()
	return nil
}

func (r *customerRepository) SetNextFollowUp(ctx context.Context, id uuid.UUID, at time.Time, now time.Time) error {
	r.lock()
	defer r.unlock()

	c, ok := r.customers[id]
	if !ok {
		return repository.ErrNotFound
	}
	at = at.UTC()
	c.NextFollowUpAt = &at
	c.UpdatedAt = now.UTC()
	return nil
}

type tagRepository struct {
	view
}

func (r *tagRepository) AddToCustomer(ctx context.Context, ownerID, customerID uuid.UUID, name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("tag name cannot be empty")
	}
	r.lock()
	defer r.unlock()

	if _, ok := r.customers[customerID]; !ok {
		return repository.ErrNotFound
	}

	var tag *model.Tag
	for _, t := range r.tags {
		if t.OwnerID == ownerID && t.Name == name {
			tag = t
			break
		}
	}
	if tag == nil {
		tag = &model.Tag{ID: uuid.New(), OwnerID: ownerID, Name: name, CreatedAt: time.Now().UTC()}
		if color != "" {
			tag.Color = &color
		}
		r.tags[tag.ID] = tag
	}

	for _, id := range r.customerTags[customerID] {
		if id == tag.ID {
			return nil
		}
	}
	r.customerTags[customerID] = append(r.customerTags[customerID], tag.ID)
	return nil
}

func (r *tagRepository) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]string, error) {
	r.lock()
	defer r.unlock()

	names := make([]string, 0, len(r.customerTags[customerID]))
	for _, id := range r.customerTags[customerID] {
		names = append(names, r.tags[id].Name)
	}
	return names, nil
}

type userRepository struct {
	view
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	r.lock()
	defer r.unlock()

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	u := *user
	r.users[u.ID] = &u
	return nil
}

func (r *userRepository) MostRecent(ctx context.Context) (*model.User, error) {
	r.lock()
	defer r.unlock()

	var latest *model.User
	for _, u := range r.users {
		if latest == nil || u.CreatedAt.After(latest.CreatedAt) {
			latest = u
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	u := *latest
	return &u, nil
}
