package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r1hq/r1/internal/crypto"
	"github.com/r1hq/r1/internal/store"
)

const (
	testJWTSecret = "test-secret-key-for-jwt"
	testDataKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

func newTestAuth(t *testing.T) (*AuthService, *store.Store) {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cipher, err := crypto.NewCipher(testDataKey)
	if err != nil {
		t.Fatalf("crypto.NewCipher: %v", err)
	}
	return NewAuthService(st, cipher, testJWTSecret, time.Hour), st
}

func TestRegisterAndLogin(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	u, err := auth.Register(ctx, "alice", "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.PasswordHash == "correct-horse" {
		t.Error("password must not be stored in plaintext")
	}
	if u.EmailCipher == "alice@example.com" {
		t.Error("email must not be stored in plaintext")
	}

	email, err := auth.RevealEmail(u)
	if err != nil {
		t.Fatalf("RevealEmail: %v", err)
	}
	if email != "alice@example.com" {
		t.Errorf("got %q, want original email", email)
	}

	token, logged, err := auth.Login(ctx, "alice@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != u.ID {
		t.Errorf("got user %q, want %q", logged.ID, u.ID)
	}

	principal, err := auth.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.ID != u.ID || principal.IsAdmin {
		t.Errorf("unexpected principal %+v", principal)
	}
}

func TestRegisterValidation(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	cases := []struct {
		name, username, email, password string
	}{
		{"empty username", "", "a@b.com", "longenough"},
		{"bad email", "bob", "not-an-email", "longenough"},
		{"short password", "bob", "a@b.com", "short"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := auth.Register(ctx, tc.username, tc.email, tc.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("expected ErrInvalidCredentials, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "alice", "dup@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Same email, different case: the blind index normalizes, so this is a
	// duplicate.
	if _, err := auth.Register(ctx, "alice2", "DUP@example.com", "correct-horse"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	if _, err := auth.Register(ctx, "bob", "bob@example.com", "correct-horse"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, _, err := auth.Login(ctx, "bob@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := auth.Login(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	auth, _ := newTestAuth(t)

	if _, err := auth.Authenticate(context.Background(), "garbage.token.here"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	auth, st := newTestAuth(t)
	ctx := context.Background()

	u, err := auth.Register(ctx, "carol", "carol@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	expired := NewAuthService(st, auth.cipher, testJWTSecret, -time.Hour)
	token, err := expired.IssueJWT(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if _, err := auth.Authenticate(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for expired token, got %v", err)
	}
}

func TestAuthenticateDeletedUser(t *testing.T) {
	auth, st := newTestAuth(t)
	ctx := context.Background()

	u, err := auth.Register(ctx, "dave", "dave@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, err := auth.IssueJWT(ctx, u.ID)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	if err := st.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if _, err := auth.Authenticate(ctx, token); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
