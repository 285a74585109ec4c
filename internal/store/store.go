// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
)

// UserStore persists registered users and their presence status.
type UserStore interface {
	// CreateUser inserts a new user. Returns domain.ErrUserExists if the email is taken.
	CreateUser(ctx context.Context, user *domain.User) error

	// GetUser retrieves a user by id. Returns (nil, nil) when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByEmail retrieves a user by email. Returns (nil, nil) when absent.
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdateStatus overwrites the status of a user.
	// Returns domain.ErrUserNotFound if no row was updated.
	UpdateStatus(ctx context.Context, userID string, status domain.Status) error
}

// ConversationStore is the append-only, time-ordered message log.
type ConversationStore interface {
	// Append assigns the message id, timestamp and sequence, then durably
	// records it. The returned message carries the assigned fields.
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)

	// Query returns the conversation between a and b in ascending
	// (timestamp, seq) order. Every range over the result runs a fresh query.
	Query(ctx context.Context, a, b string) iter.Seq2[domain.Message, error]
}

// Repository is the full persistence surface of the sqlite backend.
type Repository interface {
	UserStore
	ConversationStore

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Collect drains a conversation sequence into a slice.
func Collect(seq iter.Seq2[domain.Message, error]) ([]domain.Message, error) {
	msgs := []domain.Message{}
	for m, err := range seq {
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// monotonicClock hands out timestamps that never go backwards, even if the
// wall clock does. Callers serialise access.
type monotonicClock struct {
	now  func() time.Time
	last time.Time
}

func newMonotonicClock(last time.Time) *monotonicClock {
	return &monotonicClock{now: time.Now, last: last}
}

func (c *monotonicClock) next() time.Time {
	ts := c.now().UTC()
	if ts.Before(c.last) {
		ts = c.last
	}
	return ts
}

func (c *monotonicClock) commit(ts time.Time) {
	c.last = ts
}

// appendLock serialises timestamp and sequence assignment for one store.
type appendLock struct {
	mu    sync.Mutex
	clock *monotonicClock
}
