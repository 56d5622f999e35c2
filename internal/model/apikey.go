package model

import "time"

// APIKey represents a per-user API key credential. The raw key is shown to
// the owner exactly once at creation or rotation; only a bcrypt hash is
// persisted. A key authenticates requests iff the current time is strictly
// before ExpiresAt, which is always LastRotated plus the rotation interval.
type APIKey struct {
	ID          string    `json:"id" db:"id"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	HashedKey   string    `json:"-" db:"hashed_key"` // bcrypt hash, never expose
	LastRotated time.Time `json:"last_rotated" db:"last_rotated"`
	ExpiresAt   time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the key is no longer valid for authentication
// at the given instant.
func (k *APIKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}
