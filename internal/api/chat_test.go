package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/messaging"
	"github.com/ashureev/chatrelay/internal/presence"
	"github.com/ashureev/chatrelay/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse"

type testAPI struct {
	srv      *httptest.Server
	repo     *store.SQLiteStore
	registry *presence.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	registry := presence.NewRegistry(repo, nil)
	router := messaging.NewRouter(registry, repo, nil, nil)
	h := NewHandler(auth.NewService(repo, tokens, nil), registry, router, nil)

	r := chi.NewRouter()
	h.RegisterRoutes(r, auth.Middleware(tokens))
	NewHealthHandler(repo, registry).RegisterHealth(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, repo: repo, registry: registry}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, a.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func decodeMap(t *testing.T, data []byte) map[string]string {
	t.Helper()
	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// signup registers and logs in, returning the session token and user id.
func (a *testAPI) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	code, body := a.do(t, http.MethodPost, "/register", "", map[string]string{
		"email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = a.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": email, "password": testPassword,
	})
	require.Equal(t, http.StatusOK, code, string(body))
	resp := decodeMap(t, body)
	require.NotEmpty(t, resp["token"])
	require.NotEmpty(t, resp["userId"])
	return resp["token"], resp["userId"]
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "alice@example.com")

	code, body := a.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong-password",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid credentials", decodeMap(t, body)["error"])

	code, body = a.do(t, http.MethodPost, "/login", "", map[string]string{
		"email": "nobody@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Invalid credentials", decodeMap(t, body)["error"])

	code, _ = a.do(t, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestRegister(t *testing.T) {
	a := newTestAPI(t)
	a.signup(t, "alice@example.com")

	code, body := a.do(t, http.MethodPost, "/register", "", map[string]string{
		"email": "ALICE@example.com", "password": testPassword,
	})
	require.Equal(t, http.StatusConflict, code, string(body))

	code, body = a.do(t, http.MethodPost, "/register", "", map[string]string{
		"email": "not-an-email", "password": testPassword,
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, decodeMap(t, body)["error"], "email")

	code, _ = a.do(t, http.MethodPost, "/register", "", map[string]string{
		"email": "bob@example.com", "password": testPassword, "status": "AWAY",
	})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newTestAPI(t)

	code, _ := a.do(t, http.MethodPut, "/status", "", map[string]string{"status": "BUSY"})
	require.Equal(t, http.StatusUnauthorized, code)

	code, _ = a.do(t, http.MethodPut, "/status", "not-a-token", map[string]string{"status": "BUSY"})
	require.Equal(t, http.StatusForbidden, code)

	code, _ = a.do(t, http.MethodGet, "/messages/someone", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestUpdateStatus(t *testing.T) {
	a := newTestAPI(t)
	token, userID := a.signup(t, "alice@example.com")

	code, body := a.do(t, http.MethodPut, "/status", token, map[string]string{"status": "BUSY"})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Status updated successfully", decodeMap(t, body)["message"])

	user, err := a.repo.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusBusy, user.Status)

	code, _ = a.do(t, http.MethodPut, "/status", token, map[string]string{"status": "away"})
	require.Equal(t, http.StatusBadRequest, code)
}

func TestSendAndHistory(t *testing.T) {
	a := newTestAPI(t)
	aliceToken, aliceID := a.signup(t, "alice@example.com")
	bobToken, bobID := a.signup(t, "bob@example.com")

	for _, content := range []string{"hi bob", "are you there?"} {
		code, body := a.do(t, http.MethodPost, "/messages", aliceToken, map[string]string{
			"recipient": bobID, "content": content,
		})
		require.Equal(t, http.StatusOK, code, string(body))

		var resp struct {
			Message domain.Message `json:"message"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		require.Equal(t, content, resp.Message.Content)
		require.Equal(t, aliceID, resp.Message.Sender)
		require.NotEmpty(t, resp.Message.ID)
	}
	code, _ := a.do(t, http.MethodPost, "/messages", bobToken, map[string]string{
		"recipient": aliceID, "content": "yes",
	})
	require.Equal(t, http.StatusOK, code)

	for _, view := range []struct{ token, peer string }{{aliceToken, bobID}, {bobToken, aliceID}} {
		code, body := a.do(t, http.MethodGet, "/messages/"+view.peer, view.token, nil)
		require.Equal(t, http.StatusOK, code)

		var msgs []domain.Message
		require.NoError(t, json.Unmarshal(body, &msgs))
		require.Len(t, msgs, 3)
		require.Equal(t, "hi bob", msgs[0].Content)
		require.Equal(t, "are you there?", msgs[1].Content)
		require.Equal(t, "yes", msgs[2].Content)
	}
}

func TestSendToBusyRecipientUsesFallback(t *testing.T) {
	a := newTestAPI(t)
	aliceToken, _ := a.signup(t, "alice@example.com")
	bobToken, bobID := a.signup(t, "bob@example.com")

	code, _ := a.do(t, http.MethodPut, "/status", bobToken, map[string]string{"status": "BUSY"})
	require.Equal(t, http.StatusOK, code)

	code, body := a.do(t, http.MethodPost, "/messages", aliceToken, map[string]string{
		"recipient": bobID, "content": "urgent",
	})
	require.Equal(t, http.StatusOK, code)

	var resp struct {
		Message domain.Message `json:"message"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, messaging.DefaultFallbackMessage, resp.Message.Content)
}

func TestSendErrors(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.signup(t, "alice@example.com")

	code, body := a.do(t, http.MethodPost, "/messages", token, map[string]string{
		"recipient": "ghost", "content": "hello",
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "Recipient not found", decodeMap(t, body)["error"])

	code, body = a.do(t, http.MethodPost, "/messages", token, map[string]string{"recipient": "ghost"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, decodeMap(t, body)["error"], "content")
}

func TestHistoryEmpty(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.signup(t, "alice@example.com")

	code, body := a.do(t, http.MethodGet, "/messages/nobody", token, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "[]", strings.TrimSpace(string(body)))
}

type failingRouter struct{ err error }

func (f failingRouter) Send(context.Context, string, string, string) (domain.Message, error) {
	return domain.Message{}, f.err
}

func (f failingRouter) History(context.Context, string, string) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		yield(domain.Message{}, f.err)
	}
}

func TestPersistenceFailureIsServerError(t *testing.T) {
	err := errors.Join(messaging.ErrPersistenceFailure, errors.New("disk full"))
	h := NewHandler(nil, nil, failingRouter{err: err}, nil)

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"recipient":"bob","content":"hi"}`))
	req = req.WithContext(auth.WithUserID(req.Context(), "alice"))
	w := httptest.NewRecorder()
	h.SendMessage(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Equal(t, "Server error", decodeMap(t, w.Body.Bytes())["error"])

	r := chi.NewRouter()
	r.Get("/messages/{recipientId}", h.GetMessages)
	req = httptest.NewRequest(http.MethodGet, "/messages/bob", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "alice"))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeOnline []string

func (f fakeOnline) Online() []string { return f }

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		pingErr  error
		wantCode int
		want     string
	}{
		{name: "healthy", wantCode: http.StatusOK, want: "ok"},
		{name: "database down", pingErr: errors.New("database is closed"), wantCode: http.StatusServiceUnavailable, want: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(fakePinger{err: tt.pingErr}, fakeOnline{"alice", "bob"})
			w := httptest.NewRecorder()
			h.Health(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			require.Equal(t, tt.wantCode, w.Code)
			var got map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			require.Equal(t, tt.want, got["status"])
			require.EqualValues(t, 2, got["online"])
		})
	}
}
