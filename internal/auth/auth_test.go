package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*domain.User)}
}

func (m *memUsers) CreateUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[user.Email]; ok {
		return domain.ErrUserExists
	}
	copy := *user
	m.byEmail[user.Email] = &copy
	return nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmail[email], nil
}

func TestHashAndCompare(t *testing.T) {
	req := require.New(t)

	hash, err := HashPassword("correct horse battery")
	req.NoError(err)
	req.True(strings.HasPrefix(hash, "$2"))

	match, err := ComparePassword("correct horse battery", hash)
	req.NoError(err)
	req.True(match)

	match, err = ComparePassword("wrong", hash)
	req.NoError(err)
	req.False(match)
}

func TestTokenRoundTrip(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("test-secret", time.Hour)

	token, err := issuer.Issue("user-1")
	req.NoError(err)

	claims, err := issuer.Verify(token)
	req.NoError(err)
	req.Equal("user-1", claims.UserID)
}

func TestTokenRejected(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	other := NewTokenIssuer("other-secret", time.Hour)
	expired := NewTokenIssuer("test-secret", -time.Minute)

	foreign, err := other.Issue("user-1")
	require.NoError(t, err)
	stale, err := expired.Issue("user-1")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"wrong secret": foreign,
		"expired":      stale,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Verify(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestMiddleware(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	headerOnly := Middleware(issuer)(next)
	withQuery := Middleware(issuer, AllowQueryToken())(next)

	tests := []struct {
		name   string
		h      http.Handler
		setup  func(r *http.Request)
		status int
		userID string
	}{
		{"missing token", headerOnly, func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"invalid token", headerOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusForbidden, ""},
		{"bearer header", headerOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusNoContent, "user-1"},
		{"query param ignored by default", headerOnly, func(r *http.Request) { r.URL.RawQuery = TokenQueryParam + "=" + token }, http.StatusUnauthorized, ""},
		{"query param when allowed", withQuery, func(r *http.Request) { r.URL.RawQuery = TokenQueryParam + "=" + token }, http.StatusNoContent, "user-1"},
		{"header wins over query", withQuery, func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
			r.URL.RawQuery = TokenQueryParam + "=" + token
		}, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			r := httptest.NewRequest(http.MethodGet, "/messages/x", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			tt.h.ServeHTTP(w, r)
			require.Equal(t, tt.status, w.Code)
			require.Equal(t, tt.userID, seen)
			if tt.status >= 400 {
				var body map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				require.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestServiceRegisterAndLogin(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenIssuer("test-secret", time.Hour)
	svc := NewService(newMemUsers(), issuer, nil)
	ctx := context.Background()

	user, err := svc.Register(ctx, Credentials{Email: " A@Example.com ", Password: "password123"}, "")
	req.NoError(err)
	req.Equal("a@example.com", user.Email)
	req.Equal(domain.StatusAvailable, user.Status)

	token, userID, err := svc.Login(ctx, "a@example.com", "password123")
	req.NoError(err)
	req.Equal(user.ID, userID)
	claims, err := issuer.Verify(token)
	req.NoError(err)
	req.Equal(user.ID, claims.UserID)

	_, _, err = svc.Login(ctx, "a@example.com", "wrong-password")
	req.ErrorIs(err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, "nobody@example.com", "password123")
	req.ErrorIs(err, ErrInvalidCredentials)

	_, err = svc.Register(ctx, Credentials{Email: "a@example.com", Password: "password123"}, "")
	req.ErrorIs(err, domain.ErrUserExists)
}

func TestServiceRegisterValidation(t *testing.T) {
	svc := NewService(newMemUsers(), NewTokenIssuer("s", time.Hour), nil)
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"invalid email", Credentials{"notanemail", "password123"}},
		{"password too short", Credentials{"a@example.com", "short"}},
		{"password too long", Credentials{"a@example.com", strings.Repeat("a", 73)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tt.creds, "")
			var verrs validator.ValidationErrors
			require.ErrorAs(t, err, &verrs)
		})
	}

	_, err := svc.Register(context.Background(), Credentials{"b@example.com", "password123"}, "AWAY")
	require.ErrorIs(t, err, domain.ErrInvalidStatus)
}
