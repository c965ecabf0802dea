// Package service implements the auth flow coordinator: login, logout,
// renewal, refresh rotation, and session reporting. It composes the account
// directory, the session store, the credential cipher, and the token issuer.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	accountdomain "session-manager/backend/internal/account/domain"
	"session-manager/backend/internal/security"
	sessiondomain "session-manager/backend/internal/session/domain"
	"session-manager/backend/internal/session/store"
	"session-manager/backend/internal/telemetry"
)

// Sentinel errors for the auth flow; the handler maps them to HTTP statuses.
// Unknown usernames and wrong passwords both surface as ErrInvalidCredentials
// so a caller cannot probe which accounts exist.
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidRefresh     = errors.New("invalid or expired refresh credentials")
)

// AccountRepo is the minimal account directory needed by the auth service.
type AccountRepo interface {
	GetByUsername(ctx context.Context, username string) (*accountdomain.Account, error)
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	Create(ctx context.Context, a *accountdomain.Account) error
}

// LoginResult holds the credentials handed to the client after a successful
// login or rotation. The refresh secret is shown exactly once and never
// stored server-side.
type LoginResult struct {
	AccessToken   string
	RefreshSecret string
	ExpiresAt     time.Time
	AccountID     string
	Username      string
	Role          string
}

// SessionView is one session as reported to its owner.
type SessionView struct {
	Token        string    `json:"token"`
	Device       string    `json:"device"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Current      bool      `json:"current"`
}

// AuthService coordinates the session lifecycle across the account directory,
// the session store, and the token issuer.
type AuthService struct {
	accounts AccountRepo
	sessions store.Store
	cipher   *security.Cipher
	tokens   *security.TokenProvider
	emitter  telemetry.EventEmitter

	sessionTTL    time.Duration
	refreshWindow time.Duration
	sessionLimit  int
	autoProvision bool

	tracer trace.Tracer
	logins metric.Int64Counter
}

// NewAuthService returns an AuthService with the given dependencies.
// emitter may be nil, which disables event emission.
func NewAuthService(
	accounts AccountRepo,
	sessions store.Store,
	cipher *security.Cipher,
	tokens *security.TokenProvider,
	emitter telemetry.EventEmitter,
	sessionTTL, refreshWindow time.Duration,
	sessionLimit int,
	autoProvision bool,
) *AuthService {
	logins, err := otel.Meter("auth").Int64Counter("auth.logins",
		metric.WithDescription("successful logins, by outcome"))
	if err != nil {
		logins = nil
	}
	return &AuthService{
		accounts:      accounts,
		sessions:      sessions,
		cipher:        cipher,
		tokens:        tokens,
		emitter:       emitter,
		sessionTTL:    sessionTTL,
		refreshWindow: refreshWindow,
		sessionLimit:  sessionLimit,
		autoProvision: autoProvision,
		tracer:        otel.Tracer("auth"),
		logins:        logins,
	}
}

// Login authenticates the username and password, creates a session under the
// per-account cap, and issues the bearer credentials. When auto-provisioning
// is enabled an unknown username becomes a fresh account on first login;
// otherwise it is rejected indistinguishably from a bad password.
func (s *AuthService) Login(ctx context.Context, username, password, device string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Login")
	defer span.End()

	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	acct, err := s.accounts.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		if !s.autoProvision {
			return nil, ErrInvalidCredentials
		}
		if acct, err = s.provision(ctx, username, password); err != nil {
			return nil, err
		}
	} else {
		stored, err := s.cipher.Decrypt(acct.PasswordCipher, acct.PasswordIV)
		if err != nil || stored != password {
			return nil, ErrInvalidCredentials
		}
	}

	result, err := s.openSession(ctx, acct, device, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.count(ctx, "login")
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		EventType: telemetry.EventLogin,
		AccountID: acct.ID,
		Username:  acct.Username,
		Device:    device,
		CreatedAt: time.Now().UTC(),
	})
	return result, nil
}

// Logout destroys the session. Returns ErrSessionNotFound when the session
// was already gone; the store-level delete itself is idempotent.
func (s *AuthService) Logout(ctx context.Context, accountID, sessionToken string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Logout")
	defer span.End()

	deleted, err := s.sessions.DeleteAndUnindex(ctx, sessionToken, accountID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrSessionNotFound
	}
	s.count(ctx, "logout")
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		EventType:    telemetry.EventLogout,
		AccountID:    accountID,
		SessionToken: sessionToken,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

// Renew slides the session's TTL and recency. The existence check runs first
// so an expired or evicted session is reported rather than silently ignored;
// renewal itself never creates or resurrects a session.
func (s *AuthService) Renew(ctx context.Context, accountID, sessionToken string) error {
	ctx, span := s.tracer.Start(ctx, "AuthService.Renew")
	defer span.End()

	sess, err := s.sessions.Get(ctx, sessionToken)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	if err := s.sessions.RenewIfPresent(ctx, accountID, sessionToken, s.sessionTTL); err != nil {
		return err
	}
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		EventType:    telemetry.EventRenew,
		AccountID:    accountID,
		SessionToken: sessionToken,
		CreatedAt:    time.Now().UTC(),
	})
	return nil
}

// Refresh rotates an expired bearer credential into a fresh session and
// token pair. The expired token's signature must still verify; the embedded
// session token must resolve to a live session whose last activity falls
// within the refresh window. A session outside the window is destroyed
// before the request is refused, so a later retry cannot succeed either.
func (s *AuthService) Refresh(ctx context.Context, expiredToken, refreshSecret string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Refresh")
	defer span.End()

	if refreshSecret == "" {
		return nil, ErrInvalidRefresh
	}
	id, err := s.tokens.DecodeExpired(expiredToken)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	sess, err := s.sessions.Get(ctx, id.SessionToken)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		s.refuseRefresh(ctx, id)
		return nil, ErrInvalidRefresh
	}
	now := time.Now().UTC()
	if now.After(sess.LastActiveAt.Add(s.refreshWindow)) {
		// Stale beyond the refresh window: destroy it before refusing.
		if _, err := s.sessions.DeleteAndUnindex(ctx, sess.Token, sess.AccountID); err != nil {
			return nil, err
		}
		s.refuseRefresh(ctx, id)
		return nil, ErrInvalidRefresh
	}
	acct, err := s.accounts.GetByID(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		s.refuseRefresh(ctx, id)
		return nil, ErrInvalidRefresh
	}
	if _, err := s.sessions.DeleteAndUnindex(ctx, sess.Token, sess.AccountID); err != nil {
		return nil, err
	}

	result, err := s.openSession(ctx, acct, sess.Device, now)
	if err != nil {
		return nil, err
	}
	s.count(ctx, "rotate")
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		EventType: telemetry.EventRotate,
		AccountID: acct.ID,
		Username:  acct.Username,
		Device:    sess.Device,
		CreatedAt: now,
	})
	return result, nil
}

// ActiveSessions lists the caller's live sessions, oldest first, and extends
// the caller's own session as a keep-alive. The caller's session must itself
// still be live.
func (s *AuthService) ActiveSessions(ctx context.Context, accountID, currentToken string) ([]SessionView, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.ActiveSessions")
	defer span.End()

	if err := s.touchCurrent(ctx, accountID, currentToken); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, len(sessions))
	for i, sess := range sessions {
		views[i] = SessionView{
			Token:        sess.Token,
			Device:       sess.Device,
			CreatedAt:    sess.CreatedAt,
			LastActiveAt: sess.LastActiveAt,
			Current:      sess.Token == currentToken,
		}
	}
	return views, nil
}

// Stats aggregates live sessions. Admin callers get the global view; everyone
// else is scoped to their own account. Reading stats extends the caller's
// session as a keep-alive.
func (s *AuthService) Stats(ctx context.Context, accountID, role, currentToken string) (*store.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "AuthService.Stats")
	defer span.End()

	if err := s.touchCurrent(ctx, accountID, currentToken); err != nil {
		return nil, err
	}
	scope := accountID
	if role == accountdomain.RoleAdmin {
		scope = ""
	}
	stats, err := s.sessions.Stats(ctx, scope)
	if err != nil {
		return nil, err
	}
	for i := range stats.Sessions {
		if stats.Sessions[i].Token == currentToken {
			stats.Sessions[i].Current = true
		}
	}
	return stats, nil
}

// provision creates an account for a first-time username with the user role.
func (s *AuthService) provision(ctx context.Context, username, password string) (*accountdomain.Account, error) {
	cipherText, iv, err := s.cipher.Encrypt(password)
	if err != nil {
		return nil, err
	}
	acct := &accountdomain.Account{
		ID:             uuid.New().String(),
		Username:       username,
		PasswordCipher: cipherText,
		PasswordIV:     iv,
		Role:           accountdomain.RoleUser,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// openSession creates the session under the cap and issues credentials.
func (s *AuthService) openSession(ctx context.Context, acct *accountdomain.Account, device string, now time.Time) (*LoginResult, error) {
	sess := &sessiondomain.Session{
		Token:        uuid.New().String(),
		AccountID:    acct.ID,
		Device:       device,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if err := s.sessions.CreateWithEviction(ctx, acct.ID, sess, s.sessionTTL, s.sessionLimit); err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.tokens.Issue(acct.ID, acct.Username, acct.Role, sess.Token)
	if err != nil {
		return nil, err
	}
	refreshSecret, err := security.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		AccessToken:   accessToken,
		RefreshSecret: refreshSecret,
		ExpiresAt:     expiresAt,
		AccountID:     acct.ID,
		Username:      acct.Username,
		Role:          acct.Role,
	}, nil
}

// touchCurrent verifies the caller's session is live and slides its TTL.
func (s *AuthService) touchCurrent(ctx context.Context, accountID, currentToken string) error {
	sess, err := s.sessions.Get(ctx, currentToken)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	return s.sessions.RenewIfPresent(ctx, accountID, currentToken, s.sessionTTL)
}

func (s *AuthService) refuseRefresh(ctx context.Context, id *security.Identity) {
	s.count(ctx, "refresh_refused")
	telemetry.EmitAsync(s.emitter, ctx, &telemetry.Event{
		EventType:    telemetry.EventRefused,
		AccountID:    id.AccountID,
		Username:     id.Username,
		SessionToken: id.SessionToken,
		CreatedAt:    time.Now().UTC(),
	})
}

func (s *AuthService) count(ctx context.Context, outcome string) {
	if s.logins == nil {
		return
	}
	s.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
