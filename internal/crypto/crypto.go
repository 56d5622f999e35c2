// Package crypto holds the hashing and encryption primitives shared by the
// auth core: bcrypt for at-rest credential hashing, AES-GCM for reversible
// email storage, and a keyed blind index for equality lookup without
// decryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrDecrypt is returned when a ciphertext cannot be opened, either because
// it was produced under a different key or because it was tampered with.
var ErrDecrypt = errors.New("cannot decrypt value")

// HashSecret returns the bcrypt hash of a secret. bcrypt embeds a fresh
// random salt on every call, so two hashes of the same secret never match.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether the candidate matches the stored bcrypt hash.
// bcrypt comparison takes roughly constant effort regardless of where the
// candidate diverges from the stored value.
func VerifySecret(hash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

// Cipher performs authenticated reversible encryption (AES-256-GCM) and
// computes keyed blind indexes. It replaces the lookup scheme the site
// originally used for email addresses, which relied on a hardcoded guess
// list to reverse a one-way function.
type Cipher struct {
	aead     cipher.AEAD
	indexKey []byte
}

// NewCipher creates a Cipher from a hex-encoded 32-byte key. The same key
// material is used to derive both the AES key and the blind-index HMAC key.
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode data key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("data key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	indexMAC := hmac.New(sha256.New, key)
	indexMAC.Write([]byte("blind-index"))

	return &Cipher{
		aead:     aead,
		indexKey: indexMAC.Sum(nil),
	}, nil
}

// Seal encrypts plaintext and returns nonce||ciphertext, base64-encoded.
// A fresh random nonce is generated per call, so identical plaintexts
// produce distinct ciphertexts.
func (c *Cipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal. Returns ErrDecrypt on any failure
// so callers cannot distinguish a wrong key from a tampered ciphertext.
func (c *Cipher) Open(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecrypt
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrDecrypt
	}
	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

// EmailIndex computes the deterministic blind index for an email address,
// normalized to lower case. Equal emails always map to the same index, which
// is all the login path needs; the index reveals nothing without the key.
func (c *Cipher) EmailIndex(email string) string {
	mac := hmac.New(sha256.New, c.indexKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(mac.Sum(nil))
}
