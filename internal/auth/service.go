package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid credentials")

var validate = validator.New()

// Credentials is the login and registration payload.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Users is the user-store surface needed for authentication.
type Users interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// Service handles login and registration.
type Service struct {
	users  Users
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewService creates an authentication service.
func NewService(users Users, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{users: users, tokens: tokens, logger: logger.With("component", "auth")}
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (token, userID string, err error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return "", "", fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return "", "", ErrInvalidCredentials
	}

	match, err := ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		// Same outcome for a bad hash to avoid user enumeration.
		return "", "", ErrInvalidCredentials
	}

	token, err = s.tokens.Issue(user.ID)
	if err != nil {
		return "", "", err
	}
	s.logger.Info("User logged in", "user_id", user.ID)
	return token, user.ID, nil
}

// Register validates the credentials and creates an AVAILABLE user.
func (s *Service) Register(ctx context.Context, creds Credentials, status domain.Status) (*domain.User, error) {
	creds.Email = normalizeEmail(creds.Email)
	if err := validate.Struct(creds); err != nil {
		return nil, err
	}
	if status == "" {
		status = domain.StatusAvailable
	}
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        creds.Email,
		PasswordHash: hash,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info("User registered", "user_id", user.ID)
	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
