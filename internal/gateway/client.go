package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/coder/websocket"
)

const (
	outboundBufferSize = 64
	writeTimeout       = 10 * time.Second
)

// ErrStaleConnection is returned by Push when the connection is closed or
// cannot keep up.
var ErrStaleConnection = errors.New("stale connection")

// Client is one live WebSocket connection. Frames are written only by the
// client's write loop; everything else enqueues.
type Client struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newClient(userID string, ws *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, outboundBufferSize),
		done:   make(chan struct{}),
		logger: logger.With("user_id", userID),
	}
}

// UserID returns the authenticated identity of the connection.
func (c *Client) UserID() string {
	return c.userID
}

// Push queues a stored message for delivery without blocking.
func (c *Client) Push(_ context.Context, msg domain.Message) error {
	return c.enqueue(outFrame{Type: frameMessage, Message: &msg})
}

func (c *Client) enqueue(frame outFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	select {
	case <-c.done:
		return ErrStaleConnection
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrStaleConnection
	default:
		return fmt.Errorf("%w: outbound queue full", ErrStaleConnection)
	}
}

func (c *Client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Debug("WebSocket write error", "error", err)
				}
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// close marks the client stale and closes the socket. Safe to call repeatedly.
func (c *Client) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		if err := c.ws.Close(code, reason); err != nil {
			c.logger.Debug("Failed to close websocket", "error", err)
		}
	})
}
