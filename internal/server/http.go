// Package server assembles the HTTP API: route registration, bearer
// authentication, CORS, and health checks.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/rs/cors"

	authhandler "session-manager/backend/internal/auth/handler"
	"session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/security"
	"session-manager/backend/internal/server/middleware"
	sessionhandler "session-manager/backend/internal/session/handler"
	"session-manager/backend/internal/session/store"
)

// Pinger reports backing-store liveness (e.g. *sql.DB.PingContext).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Deps holds the dependencies the HTTP API is assembled from.
type Deps struct {
	// Auth is the auth flow coordinator behind every route.
	Auth *service.AuthService
	// Tokens validates bearer credentials in the auth middleware.
	Tokens *security.TokenProvider
	// Sessions is consulted by the auth middleware for the store-presence
	// double check.
	Sessions store.Store
	// DB reports account directory liveness for /v1/health. May be nil.
	DB Pinger
	// SessionStore reports session store liveness for /v1/health. May be nil.
	SessionStore Pinger
	// AllowedOrigins is the CORS origin allowlist. Empty disables
	// cross-origin access entirely.
	AllowedOrigins []string
}

// NewHandler builds the full HTTP handler: routes, auth middleware on
// protected routes, and CORS on the outside.
//
// Route → handler mapping:
//   - POST /v1/auth/login      → internal/auth/handler (public)
//   - POST /v1/auth/refresh    → internal/auth/handler (public; expired bearer)
//   - POST /v1/auth/logout     → internal/auth/handler
//   - POST /v1/sessions/renew  → internal/session/handler
//   - GET  /v1/sessions        → internal/session/handler
//   - GET  /v1/admin/stats     → internal/session/handler
//   - GET  /v1/health          → liveness of Postgres and the session store (public)
func NewHandler(deps Deps) http.Handler {
	auth := authhandler.NewHandler(deps.Auth)
	sessions := sessionhandler.NewHandler(deps.Auth)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", auth.Login)
	mux.HandleFunc("POST /v1/auth/refresh", auth.Refresh)
	mux.Handle("POST /v1/auth/logout", protected(deps, auth.Logout))
	mux.Handle("POST /v1/sessions/renew", protected(deps, sessions.Renew))
	mux.Handle("GET /v1/sessions", protected(deps, sessions.List))
	mux.Handle("GET /v1/admin/stats", protected(deps, sessions.Stats))
	mux.HandleFunc("GET /v1/health", healthHandler(deps))

	// No configured origins means no CORS headers at all; an empty list would
	// otherwise fall back to the library's allow-all default.
	if len(deps.AllowedOrigins) == 0 {
		return mux
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", authhandler.RefreshSecretHeader},
		AllowCredentials: true,
	})
	return corsHandler.Handler(mux)
}

func protected(deps Deps, h http.HandlerFunc) http.Handler {
	return middleware.Auth(deps.Tokens, deps.Sessions, h)
}

func healthHandler(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		failing := map[string]string{}
		if deps.DB != nil {
			if err := deps.DB.PingContext(ctx); err != nil {
				failing["database"] = err.Error()
			}
		}
		if deps.SessionStore != nil {
			if err := deps.SessionStore.PingContext(ctx); err != nil {
				failing["session_store"] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if len(failing) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			if err := json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failing": failing}); err != nil {
				log.Printf("server: encode health response: %v", err)
			}
			return
		}
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			log.Printf("server: encode health response: %v", err)
		}
	}
}
