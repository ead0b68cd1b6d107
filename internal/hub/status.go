package hub

import (
	"context"
	"time"

	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/status"
)

// SetUserStatus sets the caller's presence status and announces it to
// everyone. Unknown values become online.
func (h *Hub) SetUserStatus(ctx context.Context, connID, raw string) {
	user, ok := h.caller(connID)
	if !ok {
		return
	}
	st := h.status.SetStatus(user, raw)
	h.broadcastStatus(user, st, time.Time{})
}

// SetUserStatusTimed is SetUserStatus with an expiry durationMs from now.
func (h *Hub) SetUserStatusTimed(ctx context.Context, connID, raw string, durationMs int64) {
	user, ok := h.caller(connID)
	if !ok {
		return
	}
	e := h.status.SetStatusTimed(user, raw, durationMs)
	h.broadcastStatus(user, e.Status, e.ExpiresAt)
}

// OnStatusesExpired announces that timed statuses ran out. It is the
// status sweeper's callback.
func (h *Hub) OnStatusesExpired(users []string) {
	for _, user := range users {
		h.broadcastStatus(user, status.Online, time.Time{})
	}
}

func (h *Hub) broadcastStatus(user string, st status.Status, expiresAt time.Time) {
	msg := protocol.UserStatusChangedMsg{UserID: user, Status: string(st)}
	if !expiresAt.IsZero() {
		msg.ExpiresAt = expiresAt.UnixMilli()
	}
	h.broadcast([]string{GroupAll}, protocol.TypeUserStatusChanged, msg)
	h.events.StatusChanged(user, string(st), expiresAt)
}
