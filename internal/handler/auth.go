package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/r1hq/r1/internal/metrics"
	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/server/middleware"
	"github.com/r1hq/r1/internal/service"
	"github.com/r1hq/r1/internal/store"
)

// AuthHandler serves registration, login, and the authenticated profile
// endpoint.
type AuthHandler struct {
	authSvc *service.AuthService
	store   *store.Store
	metrics *metrics.Metrics
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc *service.AuthService, st *store.Store, m *metrics.Metrics) *AuthHandler {
	return &AuthHandler{
		authSvc: authSvc,
		store:   st,
		metrics: m,
	}
}

// registerRequest is the expected payload for the Register endpoint.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
}

// userResponse is the public shape of a user account. Email is decrypted on
// the way out; the stored ciphertext and password hash never leave the server.
type userResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	IsAdmin     bool       `json:"is_admin"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (h *AuthHandler) userToResponse(u *model.User, includeEmail bool) userResponse {
	resp := userResponse{
		ID:          u.ID,
		Username:    u.Username,
		IsAdmin:     u.IsAdmin,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
	if includeEmail {
		if email, err := h.authSvc.RevealEmail(u); err == nil {
			resp.Email = email
		}
	}
	return resp
}

// Register creates a new user account.
// POST /api/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	u, err := h.authSvc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "Username, a valid email, and a password of at least 8 characters are required")
		case errors.Is(err, service.ErrUserExists):
			writeError(w, http.StatusConflict, "An account with this email already exists")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to create account")
		}
		return
	}

	writeJSON(w, http.StatusCreated, h.userToResponse(u, true))
}

// Login authenticates an email/password pair and returns a JWT session token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	token, u, err := h.authSvc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			h.metrics.RecordAuth("bearer", "rejected")
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.metrics.RecordAuth("bearer", "error")
		writeError(w, http.StatusInternalServerError, "Authentication error")
		return
	}

	h.metrics.RecordAuth("bearer", "ok")
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.authSvc.TokenTTL().Seconds()),
		UserID:    u.ID,
		Username:  u.Username,
	})
}

// Me returns the authenticated user's own profile, including the decrypted
// email address.
// GET /api/users/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	u, err := h.store.GetUserByID(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load profile")
		return
	}

	writeJSON(w, http.StatusOK, h.userToResponse(u, true))
}
