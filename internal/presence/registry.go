// Package presence tracks user availability and live connection bindings.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/samber/lo"
)

// Conn is a live, addressable connection to one client.
// Implementations must be comparable; bindings are matched by identity.
type Conn interface {
	Push(ctx context.Context, msg domain.Message) error
}

// StatusStore is the durable backing for user statuses.
type StatusStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateStatus(ctx context.Context, userID string, status domain.Status) error
}

// Registry is the process-wide presence map. All reads and writes of the
// status cache and the connection bindings go through mu, and no I/O is
// performed while it is held.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]domain.Status
	conns    map[string]Conn

	// statusWriteMu orders write-through status updates so the cache
	// converges on the last value persisted.
	statusWriteMu sync.Mutex

	users  StatusStore
	logger *slog.Logger
}

// NewRegistry creates an empty registry backed by users.
func NewRegistry(users StatusStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		statuses: make(map[string]domain.Status),
		conns:    make(map[string]Conn),
		users:    users,
		logger:   logger.With("component", "presence"),
	}
}

// SetStatus persists and caches the status for userID.
func (r *Registry) SetStatus(ctx context.Context, userID string, status domain.Status) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}

	r.statusWriteMu.Lock()
	defer r.statusWriteMu.Unlock()

	if err := r.users.UpdateStatus(ctx, userID, status); err != nil {
		return err
	}

	r.mu.Lock()
	r.statuses[userID] = status
	r.mu.Unlock()

	r.logger.Info("Status updated", "user_id", userID, "status", status)
	return nil
}

// Status returns the current status for userID. Unknown users yield
// domain.ErrUserNotFound.
func (r *Registry) Status(ctx context.Context, userID string) (domain.Status, error) {
	r.mu.Lock()
	status, ok := r.statuses[userID]
	r.mu.Unlock()
	if ok {
		return status, nil
	}

	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("load user status: %w", err)
	}
	if user == nil {
		return "", domain.ErrUserNotFound
	}
	status = user.Status
	if !status.Valid() {
		status = domain.StatusAvailable
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent SetStatus may have cached a newer value meanwhile.
	if cached, ok := r.statuses[userID]; ok {
		return cached, nil
	}
	r.statuses[userID] = status
	return status, nil
}

// Bind records conn as the live connection for userID and returns the
// handle it replaced, if any. The replaced handle is not closed here.
func (r *Registry) Bind(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.conns[userID]
	r.conns[userID] = conn
	if prev == conn {
		return nil
	}
	return prev
}

// Unbind removes the binding whose handle is conn, whichever user it is
// registered under.
func (r *Registry) Unbind(conn Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, current := range r.conns {
		if current == conn {
			delete(r.conns, userID)
			return userID, true
		}
	}
	return "", false
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// Online returns the sorted ids of users with a live connection.
func (r *Registry) Online() []string {
	r.mu.Lock()
	ids := lo.Keys(r.conns)
	r.mu.Unlock()

	slices.Sort(ids)
	return ids
}

// Reset drops every binding and returns the handles that were bound.
func (r *Registry) Reset() []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := lo.Values(r.conns)
	r.conns = make(map[string]Conn)
	return conns
}
