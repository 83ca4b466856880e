package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/crm-api/internal/repository"
)

// BaseRepository runs queries against either the pool or an open transaction.
// Queries are written with ? placeholders and rebound for the driver.
type BaseRepository struct {
	ext sqlx.ExtContext
}

func (r BaseRepository) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := sqlx.GetContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func (r BaseRepository) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, r.ext, dest, r.ext.Rebind(query), args...)
}

func (r BaseRepository) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := r.ext.ExecContext(ctx, r.ext.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Store implements repository.Store over sqlx.
type Store struct {
	db *sqlx.DB
	BaseRepository
	inTx bool
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, BaseRepository: BaseRepository{ext: db}}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Messages() repository.OutboundMessageRepository {
	return &outboundMessageRepository{s.BaseRepository}
}

func (s *Store) Customers() repository.CustomerRepository {
	return &customerRepository{s.BaseRepository}
}

func (s *Store) Tags() repository.TagRepository {
	return &tagRepository{s.BaseRepository}
}

func (s *Store) Templates() repository.TemplateRepository {
	return &templateRepository{s.BaseRepository}
}

func (s *Store) Interactions() repository.InteractionRepository {
	return &interactionRepository{s.BaseRepository}
}

func (s *Store) Workflows() repository.WorkflowRepository {
	return &workflowRepository{s.BaseRepository}
}

func (s *Store) Users() repository.UserRepository {
	return &userRepository{s.BaseRepository}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a transaction. Nested calls join the outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{db: s.db, BaseRepository: BaseRepository{ext: tx}, inTx: true}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
