package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dearq/internal/models"
)

type shareTokenResponse struct {
	Token     string `json:"token"`
	Message   string `json:"message"`
	ExpiresAt string `json:"expires_at"`
}

func tokenResponse(t *models.ShareToken) shareTokenResponse {
	return shareTokenResponse{
		Token:     t.Token,
		Message:   t.Message,
		ExpiresAt: t.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// POST /api/share — token that lets a stranger answer my solo assignment.
func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		AssignmentID string `json:"assignment_id"`
		Message      string `json:"message,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	t, err := h.share.IssueAnswerShare(r.Context(), pid, body.AssignmentID, body.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(t))
}

// POST /api/invite — plain pairing invite.
func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	var body struct {
		Message string `json:"message,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
	}
	t, err := h.share.IssueInvite(r.Context(), pid, body.Message)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse(t))
}

// GET /api/join/{token} — preview the inviter before accepting.
func (h *Handler) handleJoinPreview(w http.ResponseWriter, r *http.Request) {
	invite, err := h.share.Validate(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"creator": map[string]string{
			"id":           invite.Creator.ID,
			"display_name": invite.Creator.DisplayName,
			"bio":          invite.Creator.Bio,
		},
		"message":       invite.Token.Message,
		"assignment_id": invite.Token.AssignmentID,
		"expires_at":    invite.ExpiresAt,
	})
}

// POST /api/join/{token} — consume the invite and pair up.
func (h *Handler) handleJoinConsume(w http.ResponseWriter, r *http.Request) {
	pid, ok := h.identity(w, r)
	if !ok {
		return
	}
	rel, err := h.share.Consume(r.Context(), chi.URLParam(r, "token"), pid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// GET /api/admin/dashboard — passcode-protected read-only counts.
func (h *Handler) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Authorize(r.Header.Get("X-Admin-Passcode")); err != nil {
		h.writeError(w, r, err)
		return
	}
	sum, err := h.admin.Dashboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
