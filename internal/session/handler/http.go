// Package handler exposes session operations over HTTP: renewal, listing,
// and stats. All routes require authentication.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/server/middleware"
)

// Handler handles session endpoints.
type Handler struct {
	auth *service.AuthService
}

func NewHandler(auth *service.AuthService) *Handler {
	return &Handler{auth: auth}
}

// Renew handles POST /v1/sessions/renew: slides the caller's session TTL.
func (h *Handler) Renew(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	if err := h.auth.Renew(r.Context(), id.AccountID, id.SessionToken); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		internalError(w, "renew", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /v1/sessions: the caller's live sessions, oldest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	views, err := h.auth.ActiveSessions(r.Context(), id.AccountID, id.SessionToken)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "session no longer active")
			return
		}
		internalError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// Stats handles GET /v1/admin/stats. Admins get the global aggregate; other
// callers get the same shape scoped to their own account.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	stats, err := h.auth.Stats(r.Context(), id.AccountID, id.Role, id.SessionToken)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "session no longer active")
			return
		}
		internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("session handler: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("session handler: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
