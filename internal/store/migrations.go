package store

import (
	"fmt"
	"strings"
)

// Migrations are written in the dialect overlap between SQLite and Postgres:
// TEXT primary keys (UUIDs are generated application-side), TIMESTAMP
// columns, BOOLEAN flags.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email_cipher TEXT NOT NULL,
			email_index TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			hashed_key TEXT NOT NULL,
			last_rotated TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS prompts (
			id TEXT PRIMARY KEY,
			author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '',
			votes INTEGER NOT NULL DEFAULT 0,
			copies INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			prompt_id TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			value INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(prompt_id, user_id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_api_keys_owner ON api_keys(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_prompts_author ON prompts(author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_votes_prompt ON votes(prompt_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Re-running ALTER-style migrations is a no-op on both engines;
			// duplicate-column errors are tolerated for idempotency.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
