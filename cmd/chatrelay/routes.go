package main

import (
	"net/http"

	"github.com/ashureev/chatrelay/internal/api"
	"github.com/ashureev/chatrelay/internal/auth"
	"github.com/ashureev/chatrelay/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

type routes struct {
	api            *api.Handler
	health         *api.HealthHandler
	ws             http.Handler
	tokens         *auth.TokenIssuer
	allowedOrigins []string
}

func newRouter(rt routes) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(rt.allowedOrigins))

	// The upgrade carries the session token in its query string, so it is kept
	// out of the access log. The gateway logs connections itself.
	r.With(auth.Middleware(rt.tokens, auth.AllowQueryToken())).Get("/ws", rt.ws.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.StripQueryParam(auth.TokenQueryParam))
		r.Use(chiMiddleware.Logger)

		rt.health.RegisterHealth(r)
		rt.api.RegisterRoutes(r, auth.Middleware(rt.tokens))
	})

	return r
}
