package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/r1hq/r1/internal/model"
	"github.com/r1hq/r1/internal/server/middleware"
	"github.com/r1hq/r1/internal/store"
)

const (
	defaultPageSize = 25
	maxPageSize     = 100
)

// PromptHandler serves the prompt catalog: CRUD, voting, and copy tracking.
type PromptHandler struct {
	store *store.Store
}

// NewPromptHandler creates a new PromptHandler.
func NewPromptHandler(st *store.Store) *PromptHandler {
	return &PromptHandler{store: st}
}

// promptRequest is the payload for creating or updating a prompt.
type promptRequest struct {
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Tags  []string `json:"tags"`
}

// promptResponse is the public shape of a prompt.
type promptResponse struct {
	ID        string   `json:"id"`
	AuthorID  string   `json:"author_id"`
	Title     string   `json:"title"`
	Body      string   `json:"body"`
	Tags      []string `json:"tags"`
	Votes     int64    `json:"votes"`
	Copies    int64    `json:"copies"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

func promptToResponse(p *model.Prompt) promptResponse {
	var tags []string
	if p.Tags != "" {
		tags = strings.Split(p.Tags, ",")
	}
	return promptResponse{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Title:     p.Title,
		Body:      p.Body,
		Tags:      tags,
		Votes:     p.Votes,
		Copies:    p.Copies,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

func joinTags(tags []string) string {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return strings.Join(cleaned, ",")
}

// List returns a page of prompts, newest first.
// GET /api/prompts
func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", defaultPageSize), 1, maxPageSize)
	offset := clampInt(queryInt(r, "offset", 0), 0, 1<<30)

	prompts, err := h.store.ListPrompts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list prompts")
		return
	}

	resources := make([]promptResponse, 0, len(prompts))
	for i := range prompts {
		resources = append(resources, promptToResponse(&prompts[i]))
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta: &model.ResponseMeta{
			Count:  len(resources),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// Create publishes a new prompt owned by the requesting principal.
// POST /api/prompts
func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req promptRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	prompt := &model.Prompt{
		ID:       uuid.NewString(),
		AuthorID: p.ID,
		Title:    strings.TrimSpace(req.Title),
		Body:     req.Body,
		Tags:     joinTags(req.Tags),
	}
	if err := h.store.CreatePrompt(r.Context(), prompt); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create prompt")
		return
	}

	writeJSON(w, http.StatusCreated, promptToResponse(prompt))
}

// Get returns a single prompt.
// GET /api/prompts/{promptId}
func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptId")

	prompt, err := h.store.GetPrompt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}

	writeJSON(w, http.StatusOK, promptToResponse(prompt))
}

// Update modifies a prompt. Only the author or an admin may update.
// PUT /api/prompts/{promptId}
func (h *PromptHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id := chi.URLParam(r, "promptId")

	existing, err := h.store.GetPrompt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}

	if existing.AuthorID != p.ID && !p.IsAdmin {
		writeError(w, http.StatusForbidden, "Only the author may modify this prompt")
		return
	}

	var req promptRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Title) != "" {
		existing.Title = strings.TrimSpace(req.Title)
	}
	if req.Body != "" {
		existing.Body = req.Body
	}
	if req.Tags != nil {
		existing.Tags = joinTags(req.Tags)
	}

	if err := h.store.UpdatePrompt(r.Context(), existing); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update prompt")
		return
	}

	writeJSON(w, http.StatusOK, promptToResponse(existing))
}

// Delete removes a prompt. Only the author or an admin may delete.
// DELETE /api/prompts/{promptId}
func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id := chi.URLParam(r, "promptId")

	existing, err := h.store.GetPrompt(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}

	if existing.AuthorID != p.ID && !p.IsAdmin {
		writeError(w, http.StatusForbidden, "Only the author may delete this prompt")
		return
	}

	if err := h.store.DeletePrompt(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete prompt")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Prompt deleted",
	})
}

// voteRequest is the payload for the Vote endpoint. Value must be 1 or -1;
// voting again replaces the caller's previous vote on the prompt.
type voteRequest struct {
	Value int `json:"value"`
}

// Vote records an up or down vote on a prompt.
// POST /api/prompts/{promptId}/vote
func (h *PromptHandler) Vote(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id := chi.URLParam(r, "promptId")

	var req voteRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Value != 1 && req.Value != -1 {
		writeError(w, http.StatusBadRequest, "Vote value must be 1 or -1")
		return
	}

	if _, err := h.store.GetPrompt(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}

	vote := &model.Vote{
		ID:       uuid.NewString(),
		PromptID: id,
		UserID:   p.ID,
		Value:    req.Value,
	}
	if err := h.store.AddVote(r.Context(), vote); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record vote")
		return
	}

	prompt, err := h.store.GetPrompt(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get prompt")
		return
	}
	writeJSON(w, http.StatusOK, promptToResponse(prompt))
}

// Copy increments a prompt's copy counter. Any principal may record a copy.
// POST /api/prompts/{promptId}/copy
func (h *PromptHandler) Copy(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id := chi.URLParam(r, "promptId")

	if err := h.store.IncrementCopies(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Prompt not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to record copy")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}
