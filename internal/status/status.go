// Package status holds the user-chosen presence status (online, idle, busy,
// invisible) with optional timed expiry. The in-memory copy is authoritative
// for live broadcasts; a durable Repository mirrors it on a best-effort basis
// and is read back once, when a user connects.
package status

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Status is a user-selected presence status.
type Status string

const (
	Online    Status = "online"
	Idle      Status = "idle"
	Busy      Status = "busy"
	Invisible Status = "invisible"
)

// ErrNotFound is returned by a Repository when the user has no stored
// preference.
var ErrNotFound = errors.New("status: preference not found")

// Normalize maps raw input onto a known Status. Unrecognized values become
// Online.
func Normalize(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case Online, Idle, Busy, Invisible:
		return s
	default:
		return Online
	}
}

// Preference is the durable form of a status override. A zero ExpiresAt
// means the override does not expire.
type Preference struct {
	Status    Status
	ExpiresAt time.Time
}

// Expired reports whether p has a deadline at or before now.
func (p Preference) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Repository persists preferred statuses.
type Repository interface {
	Load(ctx context.Context, userID string) (Preference, error)
	Save(ctx context.Context, userID string, pref Preference) error
	Clear(ctx context.Context, userID string) error
}
