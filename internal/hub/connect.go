package hub

import (
	"context"
	"log"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/status"
	"github.com/whisper/realtime/internal/typing"
)

// OnConnected registers a new connection. The first connection of a user
// announces it online to everyone else and reconciles its stored status.
// The caller always receives its identity and a snapshot of who is online.
func (h *Hub) OnConnected(ctx context.Context, connID string) {
	user, ok := h.caller(connID)
	if !ok {
		return
	}

	h.transport.JoinGroup(connID, GroupAll)
	first := h.presence.Connect(user, connID)
	metrics.OnlineUsers.Set(float64(h.presence.Count()))

	if first {
		h.broadcast([]string{GroupAll}, protocol.TypeUserOnline, protocol.UserPresenceMsg{UserID: user}, connID)
		h.events.UserOnline(user)
	}

	h.sendTo(connID, protocol.TypeConnected, protocol.ConnectedMsg{ConnectionID: connID, UserID: user})

	var reconciled status.ReconcileResult
	if first {
		reconciled = h.status.ReconcileOnConnect(ctx, user)
	}

	statuses := h.status.Snapshot()
	snap := protocol.StatusSnapshotMsg{
		OnlineUsers: h.presence.OnlineUsers(),
		Statuses:    make(map[string]string, len(statuses)),
	}
	for u, st := range statuses {
		snap.Statuses[u] = string(st)
	}
	h.sendTo(connID, protocol.TypeUserStatusSnapshot, snap)

	switch reconciled.Action {
	case status.ReconcileApplied, status.ReconcileExpired:
		h.broadcastStatus(user, reconciled.Status, reconciled.ExpiresAt)
	}

	log.Printf("hub: connected user=%s conn=%s first=%v", user, connID, first)
}

// OnDisconnected runs the full cleanup for a closed connection: typing
// indicators, voice rosters, then presence. Every step runs regardless of
// what the previous ones found.
//
// The connection leaves presence first so that concurrent joins observe it
// as closed; the offline broadcast still goes out last.
func (h *Hub) OnDisconnected(ctx context.Context, connID string) {
	user, ok := h.presence.ResolveUser(connID)
	if !ok {
		return
	}
	offline := h.presence.Disconnect(user, connID)
	metrics.OnlineUsers.Set(float64(h.presence.Count()))

	h.typing.OnUserDisconnected(user, func(scope typing.Scope) {
		h.announceTypingStopped(scope, user)
	})
	metrics.TypingActive.Set(float64(h.typing.Active()))

	for _, d := range h.voice.OnConnectionDisconnected(connID) {
		scopes := h.voiceScopes(d.ChannelID, d.ServerID)
		h.broadcast(scopes, protocol.TypeUserLeftVoice, protocol.VoiceMemberMsg{
			ServerID:     d.ServerID,
			ChannelID:    d.ChannelID,
			UserID:       d.UserID,
			ConnectionID: d.ConnectionID,
		}, connID)
		h.broadcast(scopes, protocol.TypeUserStoppedScreenShare, protocol.ScreenShareMsg{
			ServerID:  d.ServerID,
			ChannelID: d.ChannelID,
			UserID:    d.UserID,
		}, connID)
	}
	metrics.VoiceParticipants.Set(float64(h.voice.ParticipantCount()))

	if offline {
		h.status.Forget(user)
		h.broadcast([]string{GroupAll}, protocol.TypeUserOffline, protocol.UserPresenceMsg{UserID: user}, connID)
		h.events.UserOffline(user)
		h.events.MembershipExpire(user)
	}

	log.Printf("hub: disconnected user=%s conn=%s offline=%v", user, connID, offline)
}
