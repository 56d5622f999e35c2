package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/server/middleware"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/signing"
)

// KeyHandler serves the API key lifecycle endpoints. Creation and get-or-create
// are driven by the bearer principal; rotation and revocation authenticate by
// the key itself through the x-api-key header, so a caller never needs a live
// session to retire a leaked credential.
type KeyHandler struct {
	keys    *service.KeyService
	metrics *metrics.Metrics
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(keys *service.KeyService, m *metrics.Metrics) *KeyHandler {
	return &KeyHandler{
		keys:    keys,
		metrics: m,
	}
}

// keyResponse carries a plaintext key back to the caller. The plaintext is
// shown exactly once; only a bcrypt hash is stored.
type keyResponse struct {
	Key              string        `json:"api_key"`
	RotationInterval time.Duration `json:"rotation_interval_seconds"`
}

func newKeyResponse(plaintext string) keyResponse {
	return keyResponse{
		Key:              plaintext,
		RotationInterval: service.RotationInterval / time.Second,
	}
}

// Create mints a fresh API key for the authenticated user.
// POST /api/keys
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	plaintext, err := h.keys.Create(r.Context(), p.ID)
	if err != nil {
		h.metrics.RecordKeyOp("create", "error")
		writeError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	h.metrics.RecordKeyOp("create", "ok")
	writeJSON(w, http.StatusCreated, newKeyResponse(plaintext))
}

// GetOrCreate returns a key for the authenticated user, minting one only if
// none is active. When an active key already exists its stored hash is
// returned rather than the plaintext, which is unrecoverable; callers that
// need a usable credential after losing theirs should rotate instead.
// GET /api/keys
func (h *KeyHandler) GetOrCreate(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	key, err := h.keys.GetOrCreate(r.Context(), p.ID)
	if err != nil {
		h.metrics.RecordKeyOp("create", "error")
		writeError(w, http.StatusInternalServerError, "Failed to get API key")
		return
	}

	writeJSON(w, http.StatusOK, newKeyResponse(key))
}

// Rotate exchanges the presented key for a fresh one. The old key stops
// validating the moment the new one exists.
// POST /api/keys/rotate
func (h *KeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	plaintext := r.Header.Get(signing.HeaderAPIKey)
	if plaintext == "" {
		writeError(w, http.StatusUnauthorized, "API key required")
		return
	}

	rotated, err := h.keys.Rotate(r.Context(), plaintext)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			h.metrics.RecordKeyOp("rotate", "error")
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		h.metrics.RecordKeyOp("rotate", "error")
		writeError(w, http.StatusInternalServerError, "Failed to rotate API key")
		return
	}

	h.metrics.RecordKeyOp("rotate", "ok")
	writeJSON(w, http.StatusOK, newKeyResponse(rotated))
}

// Revoke deletes every key belonging to the presented key's owner.
// DELETE /api/keys
func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	plaintext := r.Header.Get(signing.HeaderAPIKey)
	if plaintext == "" {
		writeError(w, http.StatusUnauthorized, "API key required")
		return
	}

	revoked, err := h.keys.Revoke(r.Context(), plaintext)
	if err != nil {
		if errors.Is(err, service.ErrKeyNotFound) {
			h.metrics.RecordKeyOp("revoke", "error")
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		h.metrics.RecordKeyOp("revoke", "error")
		writeError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}

	h.metrics.RecordKeyOp("revoke", "ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"revoked": revoked,
	})
}
