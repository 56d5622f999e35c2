package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/store"
)

// AdminHandler serves the admin-only user management endpoints. The routes
// are gated by RequireAdmin, so every request here already carries an admin
// principal.
type AdminHandler struct {
	authSvc *service.AuthService
	store   *store.Store
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(authSvc *service.AuthService, st *store.Store) *AdminHandler {
	return &AdminHandler{
		authSvc: authSvc,
		store:   st,
	}
}

// ListUsers returns all registered accounts with decrypted emails.
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	resources := make([]userResponse, 0, len(users))
	for i := range users {
		u := &users[i]
		resp := userResponse{
			ID:          u.ID,
			Username:    u.Username,
			IsAdmin:     u.IsAdmin,
			LastLoginAt: u.LastLoginAt,
			CreatedAt:   u.CreatedAt,
		}
		if email, err := h.authSvc.RevealEmail(u); err == nil {
			resp.Email = email
		}
		resources = append(resources, resp)
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count: len(resources),
		},
	})
}

// setAdminRequest is the payload for the SetAdmin endpoint.
type setAdminRequest struct {
	IsAdmin bool `json:"is_admin"`
}

// SetAdmin grants or revokes the admin flag on an account.
// PUT /api/admin/users/{userId}
func (h *AdminHandler) SetAdmin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")

	var req setAdminRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.SetUserAdmin(r.Context(), id, req.IsAdmin); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	u, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, userResponse{
		ID:          u.ID,
		Username:    u.Username,
		IsAdmin:     u.IsAdmin,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	})
}

// DeleteUser removes an account along with its keys, prompts, and votes.
// DELETE /api/admin/users/{userId}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userId")

	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "User deleted",
	})
}
