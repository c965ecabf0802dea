package domain

import "time"

// Session binds an opaque token to an account and device. Ephemeral: it lives
// only in the session store, is mutated only by renewal and rotation, and is
// destroyed by logout, TTL expiry, or eviction. Clients reference it solely
// through the session token embedded in their access token.
type Session struct {
	Token        string    `json:"token"`
	AccountID    string    `json:"account_id"`
	Device       string    `json:"device"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
}
