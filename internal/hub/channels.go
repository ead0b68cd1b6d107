package hub

import (
	"context"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/ratelimit"
	"github.com/whisper/realtime/internal/typing"
)

// JoinServer subscribes the connection to a server's broadcasts.
func (h *Hub) JoinServer(ctx context.Context, connID, serverID string) {
	if _, ok := h.caller(connID); !ok || serverID == "" {
		return
	}
	h.transport.JoinGroup(connID, ServerGroup(serverID))
}

// LeaveServer unsubscribes the connection from a server's broadcasts.
func (h *Hub) LeaveServer(ctx context.Context, connID, serverID string) {
	if _, ok := h.caller(connID); !ok || serverID == "" {
		return
	}
	h.transport.LeaveGroup(connID, ServerGroup(serverID))
}

// JoinChannel subscribes the connection to a text channel and replies with
// who is typing there and who is online.
func (h *Hub) JoinChannel(ctx context.Context, connID, channelID string) (protocol.ChannelJoinedMsg, bool) {
	if _, ok := h.caller(connID); !ok || channelID == "" {
		return protocol.ChannelJoinedMsg{}, false
	}
	h.transport.JoinGroup(connID, ChannelGroup(channelID))

	reply := protocol.ChannelJoinedMsg{
		ChannelID:     channelID,
		TypingUserIDs: h.typing.Typers(typing.ChannelScope(channelID)),
		OnlineUserIDs: h.presence.OnlineUsers(),
	}
	if reply.TypingUserIDs == nil {
		reply.TypingUserIDs = []string{}
	}
	h.sendTo(connID, protocol.TypeChannelJoined, reply)
	return reply, true
}

// LeaveChannel unsubscribes the connection from a text channel.
func (h *Hub) LeaveChannel(ctx context.Context, connID, channelID string) {
	if _, ok := h.caller(connID); !ok || channelID == "" {
		return
	}
	h.transport.LeaveGroup(connID, ChannelGroup(channelID))
}

// SendTypingIndicator marks the caller as typing in a channel. Only the
// first start within a TTL window is announced; later ones refresh the
// expiry silently.
func (h *Hub) SendTypingIndicator(ctx context.Context, connID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	if !h.allow(ctx, connID, protocol.TypeTypingStart, ratelimit.RuleTyping) {
		return
	}
	h.typing.StartTyping(typing.ChannelScope(channelID), user, func() {
		h.broadcast([]string{ChannelGroup(channelID)}, protocol.TypeUserTyping,
			protocol.TypingEventMsg{ChannelID: channelID, UserID: user}, connID)
	})
	metrics.TypingActive.Set(float64(h.typing.Active()))
}

// StopTypingIndicator clears the caller's typing indicator in a channel.
func (h *Hub) StopTypingIndicator(ctx context.Context, connID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	if !h.allow(ctx, connID, protocol.TypeTypingStop, ratelimit.RuleTyping) {
		return
	}
	scope := typing.ChannelScope(channelID)
	h.typing.StopTyping(scope, user, func() {
		h.announceTypingStopped(scope, user, connID)
	})
	metrics.TypingActive.Set(float64(h.typing.Active()))
}

// SendDmTypingIndicator marks the caller as typing in the direct
// conversation with otherUserID.
func (h *Hub) SendDmTypingIndicator(ctx context.Context, connID, otherUserID string) {
	user, ok := h.caller(connID)
	if !ok || otherUserID == "" || otherUserID == user {
		return
	}
	if !h.allow(ctx, connID, protocol.TypeDMTypingStart, ratelimit.RuleTyping) {
		return
	}
	h.typing.StartTyping(typing.DirectScope(user, otherUserID), user, func() {
		h.sendToUser(otherUserID, protocol.TypeDMUserTyping, protocol.DMTypingEventMsg{UserID: user})
	})
	metrics.TypingActive.Set(float64(h.typing.Active()))
}

// StopDmTypingIndicator clears the caller's typing indicator in the direct
// conversation with otherUserID.
func (h *Hub) StopDmTypingIndicator(ctx context.Context, connID, otherUserID string) {
	user, ok := h.caller(connID)
	if !ok || otherUserID == "" || otherUserID == user {
		return
	}
	if !h.allow(ctx, connID, protocol.TypeDMTypingStop, ratelimit.RuleTyping) {
		return
	}
	scope := typing.DirectScope(user, otherUserID)
	h.typing.StopTyping(scope, user, func() {
		h.announceTypingStopped(scope, user)
	})
	metrics.TypingActive.Set(float64(h.typing.Active()))
}

// onTypingExpired is the tracker's expiry callback.
func (h *Hub) onTypingExpired(scope typing.Scope, user string) {
	h.announceTypingStopped(scope, user)
	metrics.TypingActive.Set(float64(h.typing.Active()))
}

func (h *Hub) announceTypingStopped(scope typing.Scope, user string, exclude ...string) {
	if scope.IsDirect() {
		h.sendToUser(scope.Peer(user), protocol.TypeDMUserStoppedTyping, protocol.DMTypingEventMsg{UserID: user})
		return
	}
	h.broadcast([]string{ChannelGroup(scope.Channel)}, protocol.TypeUserStoppedTyping,
		protocol.TypingEventMsg{ChannelID: scope.Channel, UserID: user}, exclude...)
}
