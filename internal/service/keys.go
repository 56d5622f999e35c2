package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/r1hq/r1/internal/crypto"
	"github.com/r1hq/r1/internal/model"
)

const (
	// KeyPrefix marks every issued key so leaked credentials are
	// identifiable by format. Keys without it are rejected before any
	// store access.
	KeyPrefix = "r1_"

	// RotationInterval is how long a key remains valid after (re)generation.
	RotationInterval = 30 * 24 * time.Hour

	// Validation results are cached briefly so the bcrypt scan only runs
	// once per key per interval, not on every signed request.
	validationCacheTTL = time.Minute
)

// ErrKeyNotFound is the uniform failure signal for every lookup path:
// unknown key, expired key, bad prefix, lost rotation race. Callers cannot
// distinguish these cases, which is deliberate.
var ErrKeyNotFound = errors.New("api key not found")

// KeyStore is the persistence interface the key lifecycle manager needs.
// *store.Store satisfies it.
type KeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetActiveAPIKeyByOwner(ctx context.Context, ownerID string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
	RotateAPIKey(ctx context.Context, id, expectedHash, newHash string, rotatedAt, expiresAt time.Time) error
	DeleteAPIKeysByOwner(ctx context.Context, ownerID string) (int64, error)
}

// KeyService owns the full lifecycle of API key credentials: generation,
// hashed storage, validation, rotation, and revocation. It holds no mutable
// state across requests beyond the store and a short-lived validation cache.
type KeyService struct {
	store KeyStore
	cache *gocache.Cache
	now   func() time.Time
}

type cacheEntry struct {
	ownerID   string
	expiresAt time.Time
}

// NewKeyService creates a KeyService backed by the given store.
func NewKeyService(store KeyStore) *KeyService {
	return &KeyService{
		store: store,
		cache: gocache.New(validationCacheTTL, 5*time.Minute),
		now:   time.Now,
	}
}

// Generate produces a fresh plaintext API key: 32 bytes of cryptographically
// secure randomness, base64url encoded, with the recognizable prefix. Pure
// aside from the randomness; nothing sequential or time-derived goes in.
func Generate() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate key material: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Create mints a new key for the owner and persists its bcrypt hash. The
// returned plaintext is disclosed here and never again; only the hash is
// stored.
func (s *KeyService) Create(ctx context.Context, ownerID string) (string, error) {
	plaintext, err := Generate()
	if err != nil {
		return "", err
	}
	hash, err := crypto.HashSecret(plaintext)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	key := &model.APIKey{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		HashedKey:   hash,
		LastRotated: now,
		ExpiresAt:   now.Add(RotationInterval),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return "", fmt.Errorf("persist api key: %w", err)
	}
	return plaintext, nil
}

// GetOrCreate returns the plaintext of a newly minted key when the owner has
// no valid key. When a non-expired record already exists it returns that
// record's stored hash instead: the plaintext is unrecoverable by design, so
// there is nothing else to hand back. The hash is an opaque identifier only;
// it cannot be used to sign or authenticate requests. Callers that need a
// usable credential must call Rotate or Create.
func (s *KeyService) GetOrCreate(ctx context.Context, ownerID string) (string, error) {
	existing, err := s.store.GetActiveAPIKeyByOwner(ctx, ownerID)
	if err == nil {
		return existing.HashedKey, nil
	}
	return s.Create(ctx, ownerID)
}

// Validate resolves a plaintext key to its owner. It rejects non-prefixed
// input without touching the store, otherwise scans stored records and
// verifies the plaintext against each bcrypt hash. A matching record that
// has expired is treated exactly like no match. Fails closed: the only
// outcomes are an owner ID or ErrKeyNotFound.
func (s *KeyService) Validate(ctx context.Context, plaintext string) (string, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return "", ErrKeyNotFound
	}

	ck := cacheKey(plaintext)
	if v, ok := s.cache.Get(ck); ok {
		entry := v.(cacheEntry)
		if s.now().Before(entry.expiresAt) {
			return entry.ownerID, nil
		}
		s.cache.Delete(ck)
		return "", ErrKeyNotFound
	}

	key, err := s.lookup(ctx, plaintext)
	if err != nil {
		return "", err
	}
	s.cache.Set(ck, cacheEntry{ownerID: key.OwnerID, expiresAt: key.ExpiresAt}, gocache.DefaultExpiration)
	return key.OwnerID, nil
}

// lookup scans all stored records for one whose hash verifies against the
// plaintext. O(number of keys) with a bcrypt comparison per candidate; the
// validation cache in Validate keeps this off the per-request path.
func (s *KeyService) lookup(ctx context.Context, plaintext string) (*model.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	for i := range keys {
		if !crypto.VerifySecret(keys[i].HashedKey, plaintext) {
			continue
		}
		if keys[i].Expired(s.now()) {
			return nil, ErrKeyNotFound
		}
		return &keys[i], nil
	}
	return nil, ErrKeyNotFound
}

// Rotate replaces the key material behind an existing record: same record
// identity and owner, new hash and timestamps, committed in one conditional
// update. On success the old plaintext stops validating and the returned new
// plaintext is the only usable credential. On any failure nothing is
// mutated and ErrKeyNotFound is returned; a rotation that loses the race to
// a concurrent rotation fails the same way rather than clobbering it.
func (s *KeyService) Rotate(ctx context.Context, oldPlaintext string) (string, error) {
	if !strings.HasPrefix(oldPlaintext, KeyPrefix) {
		return "", ErrKeyNotFound
	}
	key, err := s.lookup(ctx, oldPlaintext)
	if err != nil {
		return "", err
	}

	newPlaintext, err := Generate()
	if err != nil {
		return "", err
	}
	newHash, err := crypto.HashSecret(newPlaintext)
	if err != nil {
		return "", err
	}

	now := s.now().UTC()
	if err := s.store.RotateAPIKey(ctx, key.ID, key.HashedKey, newHash, now, now.Add(RotationInterval)); err != nil {
		return "", ErrKeyNotFound
	}
	s.cache.Delete(cacheKey(oldPlaintext))
	return newPlaintext, nil
}

// Revoke validates the key and deletes every record owned by the resolved
// user, not just the matching one. Returns whether any deletion occurred.
func (s *KeyService) Revoke(ctx context.Context, plaintext string) (bool, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return false, ErrKeyNotFound
	}
	key, err := s.lookup(ctx, plaintext)
	if err != nil {
		return false, err
	}

	n, err := s.store.DeleteAPIKeysByOwner(ctx, key.OwnerID)
	if err != nil {
		return false, fmt.Errorf("revoke api keys: %w", err)
	}
	// Cached validations for any of the owner's keys are now stale.
	s.cache.Flush()
	return n > 0, nil
}

func cacheKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
