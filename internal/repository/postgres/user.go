package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/crm-api/internal/model"
)

type userRepository struct {
	BaseRepository
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := r.exec(ctx, `INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`,
		user.ID, user.Email, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// MostRecent returns the newest user, which owns unknown inbound senders when no
// default owner is configured.
func (r *userRepository) MostRecent(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := r.get(ctx, &user, `SELECT id, email, created_at FROM users ORDER BY created_at DESC LIMIT 1`); err != nil {
		return nil, err
	}
	return &user, nil
}
