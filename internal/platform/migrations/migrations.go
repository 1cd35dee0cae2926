// Package migrations applies the PostgreSQL schema. Statements are idempotent
// so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		email         TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		level         INTEGER NOT NULL DEFAULT 1,
		xp            INTEGER NOT NULL DEFAULT 0,
		total_xp      INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_email ON users (lower(email))`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_users_username ON users (lower(username))`,
	`CREATE TABLE IF NOT EXISTS habits (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL REFERENCES users (id) ON DELETE CASCADE,
		title             TEXT NOT NULL,
		description       TEXT NOT NULL DEFAULT '',
		frequency         TEXT NOT NULL,
		difficulty        TEXT NOT NULL,
		is_active         BOOLEAN NOT NULL DEFAULT TRUE,
		current_streak    INTEGER NOT NULL DEFAULT 0,
		best_streak       INTEGER NOT NULL DEFAULT 0,
		last_completed_at TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_habits_user_active ON habits (user_id, is_active)`,
	`CREATE TABLE IF NOT EXISTS habit_completions (
		id           TEXT PRIMARY KEY,
		habit_id     TEXT NOT NULL REFERENCES habits (id) ON DELETE CASCADE,
		completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	// One completion per habit per UTC calendar day, enforced by the database
	// as a backstop behind the application check.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_habit_completions_day
		ON habit_completions (habit_id, ((completed_at AT TIME ZONE 'UTC')::date))`,
}

// Apply runs every schema statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
