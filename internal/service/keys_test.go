package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/store"
)

func newTestKeyService(t *testing.T) (*KeyService, *store.Store) {
	t.Helper()
	st, err := store.Open("") // in-memory
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewKeyService(st), st
}

func newTestOwner(t *testing.T, st *store.Store, username string) string {
	t.Helper()
	u := &model.User{
		ID:           uuid.NewString(),
		Username:     username,
		EmailCipher:  "cipher-" + username,
		EmailIndex:   "index-" + username,
		PasswordHash: "hash",
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u.ID
}

// countingStore wraps a KeyStore and counts every call that reaches it.
type countingStore struct {
	inner KeyStore
	calls int
}

func (c *countingStore) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	c.calls++
	return c.inner.CreateAPIKey(ctx, key)
}

func (c *countingStore) GetActiveAPIKeyByOwner(ctx context.Context, ownerID string) (*model.APIKey, error) {
	c.calls++
	return c.inner.GetActiveAPIKeyByOwner(ctx, ownerID)
}

func (c *countingStore) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	c.calls++
	return c.inner.ListAPIKeys(ctx)
}

func (c *countingStore) RotateAPIKey(ctx context.Context, id, expectedHash, newHash string, rotatedAt, expiresAt time.Time) error {
	c.calls++
	return c.inner.RotateAPIKey(ctx, id, expectedHash, newHash, rotatedAt, expiresAt)
}

func (c *countingStore) DeleteAPIKeysByOwner(ctx context.Context, ownerID string) (int64, error) {
	c.calls++
	return c.inner.DeleteAPIKeysByOwner(ctx, ownerID)
}

func TestGenerateFormat(t *testing.T) {
	k1, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.HasPrefix(k1, KeyPrefix) {
		t.Errorf("expected prefix %q, got %q", KeyPrefix, k1)
	}
	// 32 bytes base64url without padding is 43 chars.
	if len(k1) != len(KeyPrefix)+43 {
		t.Errorf("unexpected key length %d", len(k1))
	}

	k2, _ := Generate()
	if k1 == k2 {
		t.Error("expected distinct keys from consecutive calls")
	}
}

func TestCreateAndValidate(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "alice")

	plaintext, err := ks.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		t.Errorf("expected prefixed plaintext, got %q", plaintext)
	}

	gotOwner, err := ks.Validate(ctx, plaintext)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if gotOwner != owner {
		t.Errorf("got owner %q, want %q", gotOwner, owner)
	}

	// The record holds a hash, not the plaintext, and the expiry invariant
	// holds: expires_at = last_rotated + rotation interval.
	keys, _ := st.ListAPIKeys(ctx)
	if len(keys) != 1 {
		t.Fatalf("got %d records, want 1", len(keys))
	}
	if keys[0].HashedKey == plaintext {
		t.Error("plaintext must never be persisted")
	}
	if !keys[0].ExpiresAt.Equal(keys[0].LastRotated.Add(RotationInterval)) {
		t.Errorf("expiry invariant violated: expires %v, rotated %v", keys[0].ExpiresAt, keys[0].LastRotated)
	}
}

func TestValidateRejectsBadPrefixWithoutStoreAccess(t *testing.T) {
	ks, st := newTestKeyService(t)
	counting := &countingStore{inner: st}
	ks.store = counting

	_, err := ks.Validate(context.Background(), "not-prefixed-key")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if counting.calls != 0 {
		t.Errorf("expected zero store calls for bad prefix, got %d", counting.calls)
	}
}

func TestValidateUnknownKey(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "bob")

	if _, err := ks.Create(ctx, owner); err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong, _ := Generate()
	if _, err := ks.Validate(ctx, wrong); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for unknown key, got %v", err)
	}
}

func TestValidateEnforcesExpiry(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "carol")

	plaintext, err := ks.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Warm the validation cache, then move the clock past the expiry. Both
	// the cached path and the scan path must reject the expired key even
	// though the stored hash still matches.
	if _, err := ks.Validate(ctx, plaintext); err != nil {
		t.Fatalf("Validate before expiry: %v", err)
	}

	ks.now = func() time.Time { return time.Now().Add(RotationInterval + time.Hour) }

	if _, err := ks.Validate(ctx, plaintext); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after expiry (cached path), got %v", err)
	}
	if _, err := ks.Validate(ctx, plaintext); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound after expiry (scan path), got %v", err)
	}
}

func TestRotateAtomicity(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "dave")

	oldKey, err := ks.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	recordsBefore, _ := st.ListAPIKeys(ctx)

	newKey, err := ks.Rotate(ctx, oldKey)
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if newKey == oldKey {
		t.Fatal("expected fresh key material")
	}

	// Old plaintext stops validating; new plaintext resolves to the same
	// owner through the same record.
	if _, err := ks.Validate(ctx, oldKey); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected old key to be invalid after rotation, got %v", err)
	}
	gotOwner, err := ks.Validate(ctx, newKey)
	if err != nil {
		t.Fatalf("Validate new key: %v", err)
	}
	if gotOwner != owner {
		t.Errorf("got owner %q, want %q", gotOwner, owner)
	}

	recordsAfter, _ := st.ListAPIKeys(ctx)
	if len(recordsAfter) != 1 || recordsAfter[0].ID != recordsBefore[0].ID {
		t.Error("rotation must keep the record identity")
	}
	if !recordsAfter[0].ExpiresAt.Equal(recordsAfter[0].LastRotated.Add(RotationInterval)) {
		t.Error("expiry invariant violated after rotation")
	}
}

func TestRotateUnknownKey(t *testing.T) {
	ks, _ := newTestKeyService(t)

	wrong, _ := Generate()
	if _, err := ks.Rotate(context.Background(), wrong); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := ks.Rotate(context.Background(), "bad-prefix"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for bad prefix, got %v", err)
	}
}

func TestRevokeDeletesAllOwnerKeys(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "erin")

	k1, err := ks.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	k2, err := ks.Create(ctx, owner)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Validate both so the second key is sitting in the cache when the
	// first is used to revoke.
	if _, err := ks.Validate(ctx, k2); err != nil {
		t.Fatalf("Validate k2: %v", err)
	}

	ok, err := ks.Revoke(ctx, k1)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if !ok {
		t.Fatal("expected revocation to report success")
	}

	keys, _ := st.ListAPIKeys(ctx)
	if len(keys) != 0 {
		t.Errorf("expected all owner keys deleted, %d remain", len(keys))
	}
	if _, err := ks.Validate(ctx, k1); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected k1 invalid after revocation, got %v", err)
	}
	if _, err := ks.Validate(ctx, k2); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected k2 invalid after revocation, got %v", err)
	}
}

func TestGetOrCreate(t *testing.T) {
	ks, st := newTestKeyService(t)
	ctx := context.Background()
	owner := newTestOwner(t, st, "frank")

	// No key yet: mints one and returns the plaintext.
	first, err := ks.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !strings.HasPrefix(first, KeyPrefix) {
		t.Errorf("expected plaintext on first call, got %q", first)
	}

	// A valid key exists: returns the stored hash, which is an identifier
	// only and must not validate as a credential.
	second, err := ks.GetOrCreate(ctx, owner)
	if err != nil {
		t.Fatalf("GetOrCreate (existing): %v", err)
	}
	if second == first {
		t.Error("existing-key path cannot return the original plaintext")
	}
	keys, _ := st.ListAPIKeys(ctx)
	if len(keys) != 1 || second != keys[0].HashedKey {
		t.Error("expected the stored hash on the existing-key path")
	}
	if _, err := ks.Validate(ctx, second); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("the returned hash must not authenticate, got %v", err)
	}
}
