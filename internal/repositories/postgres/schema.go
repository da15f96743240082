package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
		id              TEXT PRIMARY KEY,
		input_text      TEXT NOT NULL DEFAULT '',
		input_file_path TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS work_item_changes (
		seq       BIGSERIAL PRIMARY KEY,
		kind      TEXT NOT NULL,
		item_id   TEXT NOT NULL,
		new_image JSONB,
		old_image JSONB,
		at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS feed_offsets (
		consumer   TEXT PRIMARY KEY,
		seq        BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
		id       BIGSERIAL PRIMARY KEY,
		event_id TEXT NOT NULL,
		item_id  TEXT NOT NULL DEFAULT '',
		reason   TEXT NOT NULL,
		attempts INT NOT NULL,
		at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS launches (
		item_id         TEXT PRIMARY KEY,
		state           TEXT NOT NULL,
		attempts        INT NOT NULL DEFAULT 1,
		instance_id     TEXT NOT NULL DEFAULT '',
		provider        TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		exit_code       INT,
		claimed_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS work_items_created_at_idx ON work_items (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS launches_state_claimed_idx ON launches (state, claimed_at)`,
}

// Migrate creates tables and indexes if missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
	}
	return nil
}
