// Package store persists users, prompts, votes, and API key records. It
// speaks SQLite (modernc, embedded — used for development and tests) and
// PostgreSQL (pgx stdlib driver — the production deployment) through sqlx.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/r1hq/r1/internal/model"
)

// Store manages the relational state backing the API.
type Store struct {
	db *sqlx.DB
}

// Open connects to the database identified by dsn. An empty dsn opens an
// in-memory SQLite database; a postgres:// (or postgresql://) URL opens a
// PostgreSQL connection; anything else is treated as a SQLite file path.
func Open(dsn string) (*Store, error) {
	driver := "sqlite"
	switch {
	case dsn == "":
		dsn = ":memory:?_journal_mode=WAL"
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		driver = "pgx"
	default:
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = dsn + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. CreatedAt and UpdatedAt are populated on u.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	const q = `INSERT INTO users
		(id, username, email_cipher, email_index, password_hash, is_admin, created_at, updated_at)
		VALUES
		(:id, :username, :email_cipher, :email_index, :password_hash, :is_admin, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, u); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID returns a user by ID.
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT * FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &u, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmailIndex returns a user by the blind index of their email.
func (s *Store) GetUserByEmailIndex(ctx context.Context, index string) (*model.User, error) {
	var u model.User
	q := s.db.Rebind("SELECT * FROM users WHERE email_index = ?")
	if err := s.db.GetContext(ctx, &u, q, index); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email index: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	q := s.db.Rebind("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return checkAffected(result, "update user last login")
}

// SetUserAdmin grants or revokes the admin flag for a user.
func (s *Store) SetUserAdmin(ctx context.Context, id string, admin bool) error {
	q := s.db.Rebind("UPDATE users SET is_admin = ?, updated_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, admin, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user admin: %w", err)
	}
	return checkAffected(result, "set user admin")
}

// DeleteUser removes a user. API keys, prompts, and votes owned by the user
// are cascade deleted by the foreign key constraints.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	q := s.db.Rebind("DELETE FROM users WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return checkAffected(result, "delete user")
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The hashed_key must already be
// set; the store never sees plaintext key material.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	const q = `INSERT INTO api_keys
		(id, owner_id, hashed_key, last_rotated, expires_at, created_at, updated_at)
		VALUES
		(:id, :owner_id, :hashed_key, :last_rotated, :expires_at, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, key); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetActiveAPIKeyByOwner returns the owner's most recently rotated key record
// that has not yet expired, or ErrNotFound.
func (s *Store) GetActiveAPIKeyByOwner(ctx context.Context, ownerID string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.db.Rebind(`SELECT * FROM api_keys
		WHERE owner_id = ? AND expires_at > ?
		ORDER BY last_rotated DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &key, q, ownerID, time.Now().UTC()); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by owner: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all API key records, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RotateAPIKey swaps in new key material for an existing record, keeping the
// record identity. The update is conditional on the current hash: if another
// rotation committed first, no row matches and ErrConflict is returned, so
// two interleaved rotations cannot silently lose one side's update.
func (s *Store) RotateAPIKey(ctx context.Context, id, expectedHash, newHash string, rotatedAt, expiresAt time.Time) error {
	q := s.db.Rebind(`UPDATE api_keys
		SET hashed_key = ?, last_rotated = ?, expires_at = ?, updated_at = ?
		WHERE id = ? AND hashed_key = ?`)
	result, err := s.db.ExecContext(ctx, q,
		newHash, rotatedAt.UTC(), expiresAt.UTC(), time.Now().UTC(), id, expectedHash)
	if err != nil {
		return fmt.Errorf("rotate api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteAPIKeysByOwner removes every key record owned by a user and returns
// how many were deleted.
func (s *Store) DeleteAPIKeysByOwner(ctx context.Context, ownerID string) (int64, error) {
	q := s.db.Rebind("DELETE FROM api_keys WHERE owner_id = ?")
	result, err := s.db.ExecContext(ctx, q, ownerID)
	if err != nil {
		return 0, fmt.Errorf("delete api keys by owner: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete api keys rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Prompts
// ---------------------------------------------------------------------------

// CreatePrompt inserts a new prompt.
func (s *Store) CreatePrompt(ctx context.Context, p *model.Prompt) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	const q = `INSERT INTO prompts
		(id, author_id, title, body, tags, votes, copies, created_at, updated_at)
		VALUES
		(:id, :author_id, :title, :body, :tags, :votes, :copies, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, q, p); err != nil {
		return fmt.Errorf("insert prompt: %w", err)
	}
	return nil
}

// GetPrompt returns a prompt by ID.
func (s *Store) GetPrompt(ctx context.Context, id string) (*model.Prompt, error) {
	var p model.Prompt
	q := s.db.Rebind("SELECT * FROM prompts WHERE id = ?")
	if err := s.db.GetContext(ctx, &p, q, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return &p, nil
}

// ListPrompts returns prompts ordered by vote count, newest first within a
// tie, with limit/offset pagination.
func (s *Store) ListPrompts(ctx context.Context, limit, offset int) ([]model.Prompt, error) {
	var prompts []model.Prompt
	q := s.db.Rebind("SELECT * FROM prompts ORDER BY votes DESC, created_at DESC LIMIT ? OFFSET ?")
	if err := s.db.SelectContext(ctx, &prompts, q, limit, offset); err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return prompts, nil
}

// UpdatePrompt updates a prompt's mutable fields. UpdatedAt is refreshed.
func (s *Store) UpdatePrompt(ctx context.Context, p *model.Prompt) error {
	p.UpdatedAt = time.Now().UTC()

	const q = `UPDATE prompts SET
		title = :title, body = :body, tags = :tags, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	return checkAffected(result, "update prompt")
}

// DeletePrompt removes a prompt by ID.
func (s *Store) DeletePrompt(ctx context.Context, id string) error {
	q := s.db.Rebind("DELETE FROM prompts WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	return checkAffected(result, "delete prompt")
}

// AddVote records a user's vote on a prompt and adjusts the prompt's vote
// count in the same transaction. Voting twice on the same prompt replaces
// the previous vote.
func (s *Store) AddVote(ctx context.Context, v *model.Vote) error {
	v.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Remove a previous vote by this user, if any, and back out its value.
	var prev model.Vote
	q := tx.Rebind("SELECT * FROM votes WHERE prompt_id = ? AND user_id = ?")
	err = tx.GetContext(ctx, &prev, q, v.PromptID, v.UserID)
	switch {
	case err == nil:
		q = tx.Rebind("DELETE FROM votes WHERE id = ?")
		if _, err := tx.ExecContext(ctx, q, prev.ID); err != nil {
			return fmt.Errorf("delete previous vote: %w", err)
		}
		q = tx.Rebind("UPDATE prompts SET votes = votes - ? WHERE id = ?")
		if _, err := tx.ExecContext(ctx, q, prev.Value, v.PromptID); err != nil {
			return fmt.Errorf("back out previous vote: %w", err)
		}
	case err != sql.ErrNoRows:
		return fmt.Errorf("get previous vote: %w", err)
	}

	q = tx.Rebind("INSERT INTO votes (id, prompt_id, user_id, value, created_at) VALUES (?, ?, ?, ?, ?)")
	if _, err := tx.ExecContext(ctx, q, v.ID, v.PromptID, v.UserID, v.Value, v.CreatedAt); err != nil {
		return fmt.Errorf("insert vote: %w", err)
	}

	q = tx.Rebind("UPDATE prompts SET votes = votes + ? WHERE id = ?")
	result, err := tx.ExecContext(ctx, q, v.Value, v.PromptID)
	if err != nil {
		return fmt.Errorf("apply vote: %w", err)
	}
	if err := checkAffected(result, "apply vote"); err != nil {
		return err
	}

	return tx.Commit()
}

// IncrementCopies bumps the copy counter for a prompt.
func (s *Store) IncrementCopies(ctx context.Context, promptID string) error {
	q := s.db.Rebind("UPDATE prompts SET copies = copies + 1 WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, promptID)
	if err != nil {
		return fmt.Errorf("increment copies: %w", err)
	}
	return checkAffected(result, "increment copies")
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

func checkAffected(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
