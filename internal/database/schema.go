package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the tables the service needs if they do not exist.
// Kept idempotent so it can run on every boot.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash BYTEA NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'user',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS managed_users (
			admin_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (admin_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS user_quotas (
			user_id TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			policy TEXT NOT NULL DEFAULT 'limited',
			quota_limit BIGINT,
			quota_used BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, resource_type)
		);

		CREATE TABLE IF NOT EXISTS generation_jobs (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			source_address TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			prompt TEXT NOT NULL,
			model TEXT NOT NULL,
			mode TEXT NOT NULL DEFAULT 'text',
			details JSONB,
			state TEXT NOT NULL,
			external_operation TEXT,
			result_media_id TEXT,
			failure_category TEXT,
			error_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS generation_jobs_state_idx
			ON generation_jobs (state);
		CREATE INDEX IF NOT EXISTS generation_jobs_owner_idx
			ON generation_jobs (owner_user_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS media_records (
			id TEXT PRIMARY KEY,
			owner_user_id TEXT NOT NULL,
			source_address TEXT NOT NULL,
			media_type TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			details JSONB,
			bucket TEXT NOT NULL,
			object_key TEXT NOT NULL,
			thumbnail_key TEXT,
			signature BYTEA,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS media_records_owner_idx
			ON media_records (owner_user_id, created_at DESC);
	`

	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
