// Package migrations creates the audit schema.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS token_actions (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		action      TEXT NOT NULL,
		asset_type  TEXT NOT NULL DEFAULT '',
		tx_hash     TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS token_actions_user_created_idx ON token_actions (user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS token_actions_tx_hash_idx ON token_actions (tx_hash) WHERE tx_hash <> ''`,
}

// Apply runs every migration in order. Statements are idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
