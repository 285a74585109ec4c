// Package messaging routes direct messages between users, substituting an
// automated reply when the recipient is busy.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/fallback"
	"github.com/ashureev/chatrelay/internal/presence"
	"github.com/ashureev/chatrelay/internal/store"
)

// DefaultFallbackMessage is delivered for busy recipients when the responder
// has nothing to say.
const DefaultFallbackMessage = "I am currently unavailable. Please try again later."

var (
	// ErrRecipientNotFound means the recipient id is unknown. Nothing was stored.
	ErrRecipientNotFound = errors.New("recipient not found")
	// ErrPersistenceFailure means the message could not be stored. Nothing was
	// pushed and the whole send may be retried.
	ErrPersistenceFailure = errors.New("persistence failure")
)

// Presence is the subset of the presence registry the router reads.
type Presence interface {
	Status(ctx context.Context, userID string) (domain.Status, error)
	Lookup(userID string) (presence.Conn, bool)
}

// Router implements send and history for direct messages.
type Router struct {
	presence        Presence
	store           store.ConversationStore
	responder       fallback.Responder
	fallbackMessage string
	logger          *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithFallbackMessage overrides DefaultFallbackMessage. Empty keeps the default.
func WithFallbackMessage(msg string) Option {
	return func(r *Router) {
		if msg != "" {
			r.fallbackMessage = msg
		}
	}
}

// NewRouter creates a router. A nil responder behaves like fallback.Disabled.
func NewRouter(p Presence, s store.ConversationStore, responder fallback.Responder, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if responder == nil {
		responder = fallback.Disabled{}
	}
	r := &Router{
		presence:        p,
		store:           s,
		responder:       responder,
		fallbackMessage: DefaultFallbackMessage,
		logger:          logger.With("component", "router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Send resolves the recipient, picks the effective content, persists it and
// pushes it to the recipient's live connection if there is one. Once the
// message is stored Send succeeds regardless of live delivery.
func (r *Router) Send(ctx context.Context, senderID, recipientID, content string) (domain.Message, error) {
	log := r.logger.With("user_id", senderID, "recipient_id", recipientID)

	log.Debug("Routing message", "state", "recipient_lookup")
	status, err := r.presence.Status(ctx, recipientID)
	if errors.Is(err, domain.ErrUserNotFound) {
		log.Info("Recipient not found")
		return domain.Message{}, ErrRecipientNotFound
	}
	if err != nil {
		log.Error("Recipient lookup failed", "error", err)
		return domain.Message{}, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	log.Debug("Routing message", "state", "content_resolution", "status", status)
	effective := r.resolveContent(ctx, status, content)

	log.Debug("Routing message", "state", "persist")
	stored, err := r.store.Append(ctx, domain.Message{
		Sender:    senderID,
		Recipient: recipientID,
		Content:   effective,
	})
	if err != nil {
		log.Error("Failed to persist message", "error", err)
		return domain.Message{}, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	log.Debug("Routing message", "state", "deliver", "message_id", stored.ID)
	r.deliver(ctx, stored)

	log.Debug("Routing message", "state", "done", "message_id", stored.ID)
	return stored, nil
}

func (r *Router) resolveContent(ctx context.Context, status domain.Status, content string) string {
	if status != domain.StatusBusy {
		return content
	}
	if reply, ok := r.responder.Respond(ctx, content); ok {
		return reply
	}
	return r.fallbackMessage
}

func (r *Router) deliver(ctx context.Context, msg domain.Message) {
	conn, ok := r.presence.Lookup(msg.Recipient)
	if !ok {
		return
	}
	if err := conn.Push(ctx, msg); err != nil {
		r.logger.Warn("Live delivery failed",
			"recipient_id", msg.Recipient,
			"message_id", msg.ID,
			"error", err)
	}
}

// History returns the conversation between userID and peerID, oldest first.
func (r *Router) History(ctx context.Context, userID, peerID string) iter.Seq2[domain.Message, error] {
	return r.store.Query(ctx, userID, peerID)
}
