// Package middleware provides HTTP middleware for the server: bearer
// authentication with the session-store double check.
package middleware

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"session-manager/backend/internal/security"
	sessiondomain "session-manager/backend/internal/session/domain"
)

const bearerPrefix = "bearer "

// SessionReader is the slice of the session store the middleware needs to
// confirm a presented credential still maps to a live session.
type SessionReader interface {
	Get(ctx context.Context, token string) (*sessiondomain.Session, error)
}

// Auth wraps next with bearer authentication. A request passes only when the
// access token validates and the session it references is still present in
// the store, so logout and eviction revoke access immediately even though the
// token itself is stateless. Store errors fail closed.
func Auth(tokens *security.TokenProvider, sessions SessionReader, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r)
		if token == "" {
			unauthorized(w)
			return
		}
		id, err := tokens.Validate(token)
		if err != nil {
			unauthorized(w)
			return
		}
		sess, err := sessions.Get(r.Context(), id.SessionToken)
		if err != nil {
			log.Printf("auth middleware: session lookup failed: %v", err)
			unauthorized(w)
			return
		}
		if sess == nil || sess.AccountID != id.AccountID {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// extractBearer returns the Bearer token from the Authorization header, or ""
// if missing or malformed.
func extractBearer(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "missing or invalid authorization"})
}
