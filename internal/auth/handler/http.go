// Package handler exposes the auth flow over HTTP: login, logout, and
// refresh rotation.
package handler

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/server/middleware"
)

// RefreshSecretHeader carries the opaque refresh secret on rotation requests.
const RefreshSecretHeader = "X-Refresh-Token"

const (
	maxUsernameLen = 64
	maxPasswordLen = 128
	maxDeviceLen   = 128
)

// Handler handles authentication endpoints.
type Handler struct {
	auth *service.AuthService
}

func NewHandler(auth *service.AuthService) *Handler {
	return &Handler{auth: auth}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Device   string `json:"device"`
}

type accountResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type credentialsResponse struct {
	AccessToken   string          `json:"accessToken"`
	RefreshSecret string          `json:"refreshSecret"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	Account       accountResponse `json:"account"`
}

// Login handles POST /v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Device = strings.TrimSpace(req.Device)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if len(req.Username) > maxUsernameLen || len(req.Password) > maxPasswordLen || len(req.Device) > maxDeviceLen {
		writeError(w, http.StatusBadRequest, "field too long")
		return
	}
	if req.Device == "" {
		req.Device = "unknown"
	}

	result, err := h.auth.Login(r.Context(), req.Username, req.Password, req.Device)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		internalError(w, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentials(result))
}

// Logout handles POST /v1/auth/logout. Requires authentication; the session
// being destroyed is the caller's own.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.GetIdentity(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	if err := h.auth.Logout(r.Context(), id.AccountID, id.SessionToken); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		internalError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /v1/auth/refresh. Public route: the bearer token is
// expected to be expired, so it cannot pass the auth middleware. The token's
// signature is still verified before anything else happens.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	expiredToken := extractBearer(r)
	refreshSecret := strings.TrimSpace(r.Header.Get(RefreshSecretHeader))
	if expiredToken == "" || refreshSecret == "" {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh credentials")
		return
	}
	result, err := h.auth.Refresh(r.Context(), expiredToken, refreshSecret)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefresh) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		internalError(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, toCredentials(result))
}

func toCredentials(result *service.LoginResult) credentialsResponse {
	return credentialsResponse{
		AccessToken:   result.AccessToken,
		RefreshSecret: result.RefreshSecret,
		ExpiresAt:     result.ExpiresAt,
		Account: accountResponse{
			ID:       result.AccountID,
			Username: result.Username,
			Role:     result.Role,
		},
	}
}

const bearerPrefix = "bearer "

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

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("auth handler: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, op string, err error) {
	log.Printf("auth handler: %s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
