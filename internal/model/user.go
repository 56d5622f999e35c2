package model

import "time"

// User represents a community member. The email address is stored encrypted
// (AES-GCM) alongside a keyed blind index used for equality lookup at login;
// the plaintext email never touches the database.
type User struct {
	ID           string     `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	EmailCipher  string     `json:"-" db:"email_cipher"` // AES-GCM, base64
	EmailIndex   string     `json:"-" db:"email_index"`  // keyed blind index, hex
	PasswordHash string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	IsAdmin      bool       `json:"is_admin" db:"is_admin"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// Principal is the resolved, request-scoped identity produced by a successful
// authentication step. It is constructed fresh per request and never persisted.
type Principal struct {
	ID      string
	IsAdmin bool
}
