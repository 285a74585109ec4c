package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OnlineLister reports the users with a live connection.
type OnlineLister interface {
	Online() []string
}

// HealthHandler serves the detailed health endpoint.
type HealthHandler struct {
	store    Pinger
	presence OnlineLister
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store Pinger, presence OnlineLister) *HealthHandler {
	return &HealthHandler{store: store, presence: presence}
}

// RegisterHealth registers /api/health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}

// Health reports database connectivity and the number of connected users.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	online := len(h.presence.Online())
	if err := h.store.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"database": err.Error(),
			"online":   online,
		})
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"database": "ok",
		"online":   online,
	})
}
