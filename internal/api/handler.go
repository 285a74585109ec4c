// Package api provides HTTP handlers for the chat relay API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const maxBodyBytes = 1 << 20

// Authenticator handles credential checks and registration.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (token, userID string, err error)
	Register(ctx context.Context, creds auth.Credentials, status domain.Status) (*domain.User, error)
}

// StatusSetter persists a user's presence status.
type StatusSetter interface {
	SetStatus(ctx context.Context, userID string, status domain.Status) error
}

// MessageRouter sends messages and reads conversation history.
type MessageRouter interface {
	Send(ctx context.Context, senderID, recipientID, content string) (domain.Message, error)
	History(ctx context.Context, userID, peerID string) iter.Seq2[domain.Message, error]
}

// Handler provides common handler utilities.
type Handler struct {
	auth     Authenticator
	presence StatusSetter
	router   MessageRouter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(authn Authenticator, presence StatusSetter, router MessageRouter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:     authn,
		presence: presence,
		router:   router,
		validate: validator.New(),
		logger:   logger.With("component", "api"),
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// decode reads a JSON body into v and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := h.validate.Struct(v); err != nil {
		return err
	}
	return nil
}

// validationMessage renders decode errors for the client.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	fields := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		return strings.ToLower(fe.Field()) + " " + fe.Tag()
	})
	return "invalid " + strings.Join(fields, ", ")
}
