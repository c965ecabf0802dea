// Package store implements the session store: a per-account recency index plus
// per-token session records with expiry. All mutating operations are atomic
// with respect to both structures, so concurrent requests for the same account
// can never jointly exceed the session limit and a renewal can never resurrect
// a concurrently evicted session.
package store

import (
	"context"
	"time"

	accountdomain "session-manager/backend/internal/account/domain"
	"session-manager/backend/internal/session/domain"
)

// Store is the session store contract. The Redis implementation backs
// production; MemoryStore satisfies the same contract for tests.
type Store interface {
	// CreateWithEviction inserts the session under its account's index and
	// writes the record with the given TTL. If the account is at or over
	// limit, the oldest (lowest-recency) sessions are evicted first so the
	// index never exceeds limit after the call. Never rejects logically;
	// errors are infrastructure failures only.
	CreateWithEviction(ctx context.Context, accountID string, sess *domain.Session, ttl time.Duration, limit int) error

	// Get returns the session for token, or nil if it is expired, evicted,
	// logged out, or never existed. Callers cannot distinguish these cases.
	Get(ctx context.Context, token string) (*domain.Session, error)

	// RenewIfPresent bumps the token's recency score only if it is still
	// indexed (never an insert) and resets the record's TTL and last-active
	// timestamp if the record still exists. A no-op when both are gone;
	// callers must have confirmed existence via Get beforehand.
	RenewIfPresent(ctx context.Context, accountID, token string, ttl time.Duration) error

	// DeleteAndUnindex deletes the record and, only if the record actually
	// existed, removes the index entry. Returns whether the record existed.
	DeleteAndUnindex(ctx context.Context, token, accountID string) (bool, error)

	// ListActive returns the account's sessions ordered by recency
	// (oldest first). Index entries whose record has expired are removed
	// as a side effect; cleanup failures never block the read.
	ListActive(ctx context.Context, accountID string) ([]*domain.Session, error)

	// Stats aggregates live sessions. With accountID set it covers that
	// account only; with accountID empty it scans every account index with
	// a non-blocking cursor and reports a best-effort snapshot.
	Stats(ctx context.Context, accountID string) (*Stats, error)
}

// AccountResolver is the slice of the account directory the store needs to
// decorate stats rows with usernames and roles.
type AccountResolver interface {
	GetByIDSet(ctx context.Context, ids []string) ([]*accountdomain.Account, error)
}

// SessionDetail is one live session in a stats report.
type SessionDetail struct {
	AccountID    string    `json:"accountId"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	Token        string    `json:"token"`
	Device       string    `json:"device"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Current      bool      `json:"current"`
}

// Stats is an aggregate over live sessions: every detail row plus the total
// count and the number of distinct accounts with at least one live session.
type Stats struct {
	TotalSessions  int             `json:"totalSessions"`
	AccountsOnline int             `json:"accountsOnline"`
	Sessions       []SessionDetail `json:"sessions"`
}

func buildStats(sessions []*domain.Session, accounts []*accountdomain.Account) *Stats {
	byID := make(map[string]*accountdomain.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	stats := &Stats{}
	distinct := make(map[string]struct{})
	for _, s := range sessions {
		username, role := "unknown", ""
		if a := byID[s.AccountID]; a != nil {
			username, role = a.Username, a.Role
		}
		stats.Sessions = append(stats.Sessions, SessionDetail{
			AccountID:    s.AccountID,
			Username:     username,
			Role:         role,
			Token:        s.Token,
			Device:       s.Device,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
		})
		distinct[s.AccountID] = struct{}{}
	}
	stats.TotalSessions = len(stats.Sessions)
	stats.AccountsOnline = len(distinct)
	return stats
}
