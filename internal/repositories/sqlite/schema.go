package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
  id              TEXT PRIMARY KEY,
  input_text      TEXT NOT NULL DEFAULT '',
  input_file_path TEXT NOT NULL DEFAULT '',
  created_at      INTEGER NOT NULL,
  updated_at      INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS work_item_changes (
  seq       INTEGER PRIMARY KEY AUTOINCREMENT,
  kind      TEXT NOT NULL,
  item_id   TEXT NOT NULL,
  new_image TEXT,
  old_image TEXT,
  at        INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS feed_offsets (
  consumer   TEXT PRIMARY KEY,
  seq        INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS dead_letters (
  id       INTEGER PRIMARY KEY AUTOINCREMENT,
  event_id TEXT NOT NULL,
  item_id  TEXT NOT NULL DEFAULT '',
  reason   TEXT NOT NULL,
  attempts INTEGER NOT NULL,
  at       INTEGER NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS launches (
  item_id         TEXT PRIMARY KEY,
  state           TEXT NOT NULL,
  attempts        INTEGER NOT NULL DEFAULT 1,
  instance_id     TEXT NOT NULL DEFAULT '',
  provider        TEXT NOT NULL DEFAULT '',
  idempotency_key TEXT NOT NULL,
  last_error      TEXT NOT NULL DEFAULT '',
  exit_code       INTEGER,
  claimed_at      INTEGER NOT NULL,
  updated_at      INTEGER NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS work_items_created_at_idx ON work_items(created_at);`,
	`CREATE INDEX IF NOT EXISTS launches_state_claimed_idx ON launches(state, claimed_at);`,
}

// bootstrap creates tables and indexes if missing.
func bootstrap(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
