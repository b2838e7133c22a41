package database

import (
	"context"
	"fmt"

	"calsync_server/pkg/logger"

	"github.com/jmoiron/sqlx"
)

// migrations are idempotent and applied in order on startup when AUTO_MIGRATE is set.
// calendar_events and tasks usually exist already (owned by the CRM); the
// statements only add what the sync needs.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calendar_integrations (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL UNIQUE,
		remote_account_email TEXT NOT NULL DEFAULT '',
		access_token TEXT NOT NULL DEFAULT '',
		refresh_token TEXT NOT NULL DEFAULT '',
		token_expires_at TIMESTAMPTZ,
		calendar_id TEXT NOT NULL DEFAULT 'primary',
		time_zone TEXT NOT NULL DEFAULT '',
		sync_events BOOLEAN NOT NULL DEFAULT TRUE,
		sync_tasks BOOLEAN NOT NULL DEFAULT TRUE,
		sync_direction TEXT NOT NULL DEFAULT 'both'
			CHECK (sync_direction IN ('to_remote', 'from_remote', 'both')),
		auto_sync BOOLEAN NOT NULL DEFAULT TRUE,
		last_sync_at TIMESTAMPTZ,
		webhook_channel_id TEXT,
		webhook_resource_id TEXT,
		webhook_expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_integrations_auto_sync
		ON calendar_integrations (last_sync_at NULLS FIRST) WHERE auto_sync = TRUE`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_integrations_channel
		ON calendar_integrations (webhook_channel_id) WHERE webhook_channel_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS calendar_events (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		location TEXT,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE calendar_events ADD COLUMN IF NOT EXISTS remote_event_id TEXT`,
	`ALTER TABLE calendar_events ADD COLUMN IF NOT EXISTS is_synced BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_events_user_remote
		ON calendar_events (user_id, remote_event_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_events_push
		ON calendar_events (user_id, start_time) WHERE remote_event_id IS NULL`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		due_date TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS remote_event_id TEXT`,
	`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS is_synced BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_user_remote
		ON tasks (user_id, remote_event_id)`,

	`CREATE TABLE IF NOT EXISTS integration_settings (
		service_name TEXT PRIMARY KEY,
		is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		settings JSONB NOT NULL DEFAULT '{}'::jsonb,
		scopes TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema statements in a single transaction.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for i, stmt := range migrations {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}

	logger.Info("[database.Migrate] Applied %d schema statements", len(migrations))
	return nil
}
