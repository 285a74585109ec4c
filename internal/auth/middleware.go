package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TokenQueryParam carries the session token for WebSocket upgrades, where
// browsers cannot set an Authorization header. It is only honoured by
// middleware built with AllowQueryToken.
const TokenQueryParam = "token"

type contextKey int

const userIDKey contextKey = iota

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a context carrying an authenticated user ID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// MiddlewareOption configures Middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	allowQuery bool
}

// AllowQueryToken also accepts the token from the TokenQueryParam query
// parameter. Use it only on routes kept out of access logs.
func AllowQueryToken() MiddlewareOption {
	return func(c *middlewareConfig) {
		c.allowQuery = true
	}
}

func tokenFromRequest(r *http.Request, allowQuery bool) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if allowQuery {
		return r.URL.Query().Get(TokenQueryParam)
	}
	return ""
}

// Middleware rejects requests without a valid session token and injects the
// verified user ID. A missing token is 401, an invalid one 403.
func Middleware(tokens *TokenIssuer, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var cfg middlewareConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r, cfg.allowQuery)
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			claims, err := tokens.Verify(raw)
			if err != nil {
				slog.Debug("Rejected session token", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Debug("Failed to write auth error", "error", err)
	}
}
