package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Bootstrap schema for the tables the messaging core touches. Production databases
// are migrated by the CRM; EnsureSchema is for development and tests.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		stage TEXT NOT NULL DEFAULT 'new',
		can_contact BOOLEAN NOT NULL DEFAULT TRUE,
		language TEXT,
		next_follow_up_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_customers_phone ON customers (phone)`,
	`CREATE TABLE IF NOT EXISTS tags (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_tags_owner_name UNIQUE (owner_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS customer_tags (
		customer_id UUID NOT NULL REFERENCES customers (id),
		tag_id UUID NOT NULL REFERENCES tags (id),
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (customer_id, tag_id)
	)`,
	`CREATE TABLE IF NOT EXISTS templates (
		id UUID PRIMARY KEY,
		channel TEXT NOT NULL,
		name TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'und',
		category TEXT,
		subject TEXT,
		body TEXT NOT NULL,
		provider_template_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		CONSTRAINT uq_templates_channel_name_language UNIQUE (channel, name, language)
	)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		customer_id UUID NOT NULL,
		channel TEXT NOT NULL,
		direction TEXT NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		content TEXT NOT NULL,
		subject TEXT,
		provider_message_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_interactions_customer ON interactions (customer_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS outbound_messages (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		customer_id UUID NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		template_id UUID,
		body TEXT,
		variables JSONB NOT NULL DEFAULT '{}',
		not_before_at TIMESTAMPTZ,
		cancel_on_inbound BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_at TIMESTAMPTZ,
		provider_message_id TEXT,
		last_error TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_outbound_messages_owner_created ON outbound_messages (owner_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS ix_outbound_messages_status_not_before ON outbound_messages (status, not_before_at)`,
	`CREATE INDEX IF NOT EXISTS ix_outbound_messages_customer_status ON outbound_messages (customer_id, status)`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id UUID PRIMARY KEY,
		owner_id UUID NOT NULL,
		name TEXT NOT NULL,
		trigger_event TEXT NOT NULL,
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		conditions JSONB NOT NULL DEFAULT '{}',
		actions JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_workflows_owner_trigger ON workflows (owner_id, trigger_event)`,
}

// sqliteTypes rewrites the Postgres column types into ones sqlite understands.
// DATETIME keeps the driver parsing timestamps back into time.Time.
var sqliteTypes = strings.NewReplacer(
	"TIMESTAMPTZ", "DATETIME",
	"UUID", "TEXT",
	"JSONB", "TEXT",
)

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range postgresSchema {
		if db.DriverName() == "sqlite" {
			stmt = sqliteTypes.Replace(stmt)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
