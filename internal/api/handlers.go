package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"dearq/internal/middleware"
	"dearq/internal/services"
)

// identity pulls the authenticated participant out of the context and makes
// sure the row exists. RequireAuth runs first, so a missing id is a bug, not
// a user error.
func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "login required"})
		return "", false
	}
	if _, err := h.participants.GetOrCreate(r.Context(), claims.PID, claims.Name); err != nil {
		h.writeError(w, r, err)
		return "", false
	}
	return claims.PID, true
}

// GET /api/me
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	p, err := h.participants.Get(r.Context(), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// POST /api/onboarding
func (h *Handler) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	var in services.OnboardingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	p, err := h.participants.CompleteOnboarding(r.Context(), pid, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/today
func (h *Handler) handleToday(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	resolved, err := h.assignments.Resolve(r.Context(), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

// POST /api/answer
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		AssignmentID string `json:"assignment_id"`
		Content      string `json:"content"`
		ShareToken   string `json:"share_token,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if body.AssignmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "assignment_id is required"})
		return
	}
	res, err := h.gate.Submit(r.Context(), services.SubmitInput{
		AssignmentID:  body.AssignmentID,
		ParticipantID: pid,
		Content:       body.Content,
		ShareToken:    body.ShareToken,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/conversation/{id}
func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	detail, err := h.assignments.Conversation(r.Context(), chi.URLParam(r, "id"), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// GET /api/history?limit=n
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.assignments.History(r.Context(), pid, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
