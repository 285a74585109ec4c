// Package domain contains core domain types for the chat relay.
package domain

import (
	"errors"
	"time"
)

// Status is a user's self-reported availability.
type Status string

const (
	// StatusAvailable delivers messages unchanged.
	StatusAvailable Status = "AVAILABLE"
	// StatusBusy routes inbound messages through the fallback responder.
	StatusBusy Status = "BUSY"
)

var (
	// ErrUserNotFound is returned when a user id is unknown to the user store.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when registering an email that is already taken.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidStatus is returned for a status outside AVAILABLE/BUSY.
	ErrInvalidStatus = errors.New("invalid status")
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusBusy
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// User represents a registered user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
