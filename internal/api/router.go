package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"dearq/internal/middleware"
	"dearq/internal/services"
)

// Handler wires the HTTP surface to the services.
type Handler struct {
	participants *services.ParticipantService
	assignments  *services.AssignmentService
	gate         *services.GateService
	share        *services.ShareService
	admin        *services.AdminService
	auth         *middleware.Auth
	logger       *zap.Logger
}

func NewHandler(
	participants *services.ParticipantService,
	assignments *services.AssignmentService,
	gate *services.GateService,
	share *services.ShareService,
	admin *services.AdminService,
	auth *middleware.Auth,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		participants: participants,
		assignments:  assignments,
		gate:         gate,
		share:        share,
		admin:        admin,
		auth:         auth,
		logger:       logger,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(h.auth.WithAuth)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		// Token preview needs no login; everything else does.
		r.Get("/join/{token}", h.handleJoinPreview)
		r.Get("/admin/dashboard", h.handleAdminDashboard)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/me", h.handleMe)
			r.Post("/onboarding", h.handleOnboarding)
			r.Get("/today", h.handleToday)
			r.Post("/answer", h.handleAnswer)
			r.Get("/conversation/{id}", h.handleConversation)
			r.Get("/history", h.handleHistory)
			r.Post("/share", h.handleShare)
			r.Post("/invite", h.handleInvite)
			r.Post("/join/{token}", h.handleJoinConsume)
		})
	})

	return r
}
