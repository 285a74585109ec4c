// Package gateway serves the WebSocket side of the relay: it binds live
// connections in the presence registry and accepts messages over the socket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/messaging"
	"github.com/ashureev/chatrelay/internal/presence"
	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

const readLimit = 64 << 10

// Sender routes a message on behalf of an authenticated user.
type Sender interface {
	Send(ctx context.Context, senderID, recipientID, content string) (domain.Message, error)
}

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	registry      *presence.Registry
	sender        Sender
	validate      *validator.Validate
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger

	// clients holds every accepted connection, joined or not.
	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHandler creates a gateway handler. The request context must carry the
// user ID set by auth.Middleware.
func NewHandler(registry *presence.Registry, sender Sender, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:      registry,
		sender:        sender,
		validate:      validator.New(),
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger.With("component", "gateway"),
		clients:       make(map[*Client]struct{}),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	h.logger.Info("WebSocket connection request", "user_id", userID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := newClient(userID, ws, h.logger)
	h.track(client)
	go client.writeLoop(ctx)
	defer h.disconnect(client)

	h.readLoop(ctx, client)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) readLoop(ctx context.Context, c *Client) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				c.logger.Debug("WebSocket closed")
			} else {
				c.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}

		var frame inFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(c, outFrame{Type: frameError, Error: errCodeBadFrame})
			continue
		}

		switch frame.Type {
		case frameJoin:
			h.join(c, frame.UserID)
		case frameSend:
			h.send(ctx, c, frame)
		case framePing:
			h.reply(c, outFrame{Type: framePong})
		default:
			h.reply(c, outFrame{Type: frameError, Error: errCodeUnknownType})
		}
	}
}

// join binds the connection under its authenticated identity. A claimed id
// that differs from it is refused.
func (h *Handler) join(c *Client, claimed string) {
	if claimed != "" && claimed != c.userID {
		c.logger.Warn("Join rejected: identity mismatch", "claimed_user_id", claimed)
		h.reply(c, outFrame{Type: frameError, Error: errCodeIdentityMismatch})
		return
	}

	if prev := h.registry.Bind(c.userID, c); prev != nil {
		if old, ok := prev.(*Client); ok {
			go old.close(websocket.StatusNormalClosure, "session replaced")
		}
		c.logger.Info("Replaced existing session")
	}
	c.logger.Info("User joined")
	h.reply(c, outFrame{Type: frameJoined, UserID: c.userID})
}

func (h *Handler) send(ctx context.Context, c *Client, frame inFrame) {
	if err := h.validate.Struct(frame); err != nil {
		h.reply(c, outFrame{Type: frameError, Error: errCodeInvalidSend})
		return
	}

	msg, err := h.sender.Send(ctx, c.userID, frame.Recipient, frame.Content)
	switch {
	case errors.Is(err, messaging.ErrRecipientNotFound):
		h.reply(c, outFrame{Type: frameError, Error: errCodeRecipientNotFound})
	case err != nil:
		c.logger.Error("Failed to send message", "error", err, "recipient_id", frame.Recipient)
		h.reply(c, outFrame{Type: frameError, Error: errCodeServer})
	default:
		h.reply(c, outFrame{Type: frameSent, Message: &msg})
	}
}

func (h *Handler) reply(c *Client, frame outFrame) {
	if err := c.enqueue(frame); err != nil {
		c.logger.Debug("Failed to queue frame", "type", frame.Type, "error", err)
	}
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	if _, ok := h.registry.Unbind(c); ok {
		c.logger.Info("User disconnected")
	}
	c.close(websocket.StatusNormalClosure, "session ended")
}

// CloseAll drops every binding and closes all accepted connections, joined
// or not, waiting for the close handshakes to finish.
func (h *Handler) CloseAll(reason string) {
	h.registry.Reset()

	h.mu.Lock()
	clients := lo.Keys(h.clients)
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, reason)
		}()
	}
	wg.Wait()
	h.logger.Info("Closed live connections", "reason", reason)
}
