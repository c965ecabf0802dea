package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	accountdomain "session-manager/backend/internal/account/domain"
	"session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/security"
	"session-manager/backend/internal/session/store"
)

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]*accountdomain.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*accountdomain.Account)}
}

func (m *memAccounts) GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (m *memAccounts) GetByIDSet(ctx context.Context, ids []string) ([]*accountdomain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*accountdomain.Account
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memAccounts) Create(ctx context.Context, a *accountdomain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.accounts[a.ID] = &copied
	return nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))
	cipher, err := security.NewCipher(key)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	tokens, err := security.NewTokenProvider(
		[]byte("test-secret-test-secret-test-secret!"),
		"session-manager", "session-manager-client", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenProvider: %v", err)
	}
	accounts := newMemAccounts()
	sessions := store.NewMemoryStore(accounts)
	auth := service.NewAuthService(accounts, sessions, cipher, tokens, nil,
		time.Hour, 7*24*time.Hour, 2, true)
	return Deps{
		Auth:     auth,
		Tokens:   tokens,
		Sessions: sessions,
	}
}

func TestNewHandler_LoginAndProtectedFlow(t *testing.T) {
	handler := NewHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		strings.NewReader(`{"username":"alice","password":"pw","device":"laptop"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	// Protected route with the issued token.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	// Same route without a token is refused.
	req = httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list status = %d, want 401", rec.Code)
	}
}

func TestNewHandler_HealthOK(t *testing.T) {
	deps := newTestDeps(t)
	deps.DB = PingFunc(func(ctx context.Context) error { return nil })
	deps.SessionStore = PingFunc(func(ctx context.Context) error { return nil })
	handler := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestNewHandler_HealthDegraded(t *testing.T) {
	deps := newTestDeps(t)
	deps.DB = PingFunc(func(ctx context.Context) error { return nil })
	deps.SessionStore = PingFunc(func(ctx context.Context) error { return errors.New("redis down") })
	handler := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var body struct {
		Status  string            `json:"status"`
		Failing map[string]string `json:"failing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "degraded" {
		t.Fatalf("status field = %q, want degraded", body.Status)
	}
	if _, ok := body.Failing["session_store"]; !ok {
		t.Fatalf("failing map should name session_store: %+v", body.Failing)
	}
}

func TestNewHandler_MethodNotAllowed(t *testing.T) {
	handler := NewHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
