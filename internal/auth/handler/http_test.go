package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	accountdomain "session-manager/backend/internal/account/domain"
	"session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/security"
	"session-manager/backend/internal/server/middleware"
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

func newTestHandler(t *testing.T) (*Handler, *security.TokenProvider) {
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
	return NewHandler(auth), tokens
}

func doLogin(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLogin_Success(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doLogin(t, h, `{"username":"alice","password":"hunter2","device":"laptop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", rec.Code, rec.Body.String())
	}

	var resp credentialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" || resp.RefreshSecret == "" {
		t.Fatal("response must carry both credentials")
	}
	if resp.Account.Username != "alice" || resp.Account.Role != accountdomain.RoleUser {
		t.Fatalf("unexpected account in response: %+v", resp.Account)
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(t)

	if rec := doLogin(t, h, `{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: status = %d, want 400", rec.Code)
	}
	if rec := doLogin(t, h, `{"username":"","password":"pw"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty username: status = %d, want 400", rec.Code)
	}
	if rec := doLogin(t, h, `{"username":"alice","password":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty password: status = %d, want 400", rec.Code)
	}
	long := strings.Repeat("x", 200)
	if rec := doLogin(t, h, `{"username":"`+long+`","password":"pw"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized username: status = %d, want 400", rec.Code)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	h, _ := newTestHandler(t)
	if rec := doLogin(t, h, `{"username":"alice","password":"hunter2"}`); rec.Code != http.StatusOK {
		t.Fatalf("provisioning login failed: %d", rec.Code)
	}

	rec := doLogin(t, h, `{"username":"alice","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogout_RequiresIdentity(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	rec := httptest.NewRecorder()
	h.Logout(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLogout_Flow(t *testing.T) {
	h, tokens := newTestHandler(t)
	rec := doLogin(t, h, `{"username":"alice","password":"hunter2"}`)
	var resp credentialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	id, err := tokens.Validate(resp.AccessToken)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout", nil)
	req = req.WithContext(middleware.WithIdentity(req.Context(), id))
	out := httptest.NewRecorder()
	h.Logout(out, req)
	if out.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want 204", out.Code)
	}

	// Second logout for the same session reports it gone.
	out = httptest.NewRecorder()
	h.Logout(out, req)
	if out.Code != http.StatusNotFound {
		t.Fatalf("repeat logout status = %d, want 404", out.Code)
	}
}

func TestRefresh_Success(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doLogin(t, h, `{"username":"alice","password":"hunter2","device":"laptop"}`)
	var resp credentialsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	req.Header.Set(RefreshSecretHeader, resp.RefreshSecret)
	out := httptest.NewRecorder()
	h.Refresh(out, req)

	if out.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", out.Code, out.Body.String())
	}
	var rotated credentialsResponse
	if err := json.Unmarshal(out.Body.Bytes(), &rotated); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if rotated.AccessToken == resp.AccessToken {
		t.Fatal("refresh must mint a new access token")
	}
}

func TestRefresh_MissingCredentials(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	out := httptest.NewRecorder()
	h.Refresh(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("missing everything: status = %d, want 401", out.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	out = httptest.NewRecorder()
	h.Refresh(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("missing refresh secret: status = %d, want 401", out.Code)
	}
}

func TestRefresh_GarbageToken(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	req.Header.Set(RefreshSecretHeader, "some-secret")
	out := httptest.NewRecorder()
	h.Refresh(out, req)
	if out.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", out.Code)
	}
}
