// Package telemetry defines session lifecycle events and their best-effort
// emission path. Events feed an external audit pipeline; the auth flow never
// depends on an emit succeeding.
package telemetry

import (
	"context"
	"time"
)

// Event types emitted by the auth flow.
const (
	EventLogin   = "session.login"
	EventLogout  = "session.logout"
	EventRenew   = "session.renew"
	EventRotate  = "session.rotate"
	EventRefused = "session.refresh_refused"
)

// Event is a single session lifecycle event.
type Event struct {
	EventType    string    `json:"event_type"`
	AccountID    string    `json:"account_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	SessionToken string    `json:"session_token,omitempty"`
	Device       string    `json:"device,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// EventEmitter emits session events. Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
