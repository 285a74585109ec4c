package api

import (
	"errors"
	"net/http"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/messaging"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/go-chi/chi/v5"
)

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type sendRequest struct {
	Recipient string `json:"recipient" validate:"required"`
	Content   string `json:"content" validate:"required,max=4000"`
}

// RegisterRoutes registers the public auth routes and the chat routes
// guarded by requireAuth.
func (h *Handler) RegisterRoutes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Post("/login", h.Login)
	r.Post("/register", h.Register)

	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Put("/status", h.UpdateStatus)
		r.Post("/messages", h.SendMessage)
		r.Get("/messages/{recipientId}", h.GetMessages)
	})
}

// UpdateStatus sets the caller's availability.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req statusRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "Invalid status")
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		Error(w, http.StatusBadRequest, "Invalid status")
		return
	}

	err = h.presence.SetStatus(r.Context(), userID, status)
	if errors.Is(err, domain.ErrUserNotFound) {
		Error(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to update status", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusOK, map[string]string{"message": "Status updated successfully"})
}

// SendMessage routes a message from the caller to the recipient.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req sendRequest
	if err := h.decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	msg, err := h.router.Send(r.Context(), userID, req.Recipient, req.Content)
	if errors.Is(err, messaging.ErrRecipientNotFound) {
		Error(w, http.StatusBadRequest, "Recipient not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to send message", "error", err, "user_id", userID, "recipient_id", req.Recipient)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusOK, map[string]domain.Message{"message": msg})
}

// GetMessages returns the conversation between the caller and recipientId.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	peerID := chi.URLParam(r, "recipientId")

	msgs, err := store.Collect(h.router.History(r.Context(), userID, peerID))
	if err != nil {
		h.logger.Error("Failed to load messages", "error", err, "user_id", userID, "recipient_id", peerID)
		Error(w, http.StatusInternalServerError, "Server error")
		return
	}

	JSON(w, http.StatusOK, msgs)
}
