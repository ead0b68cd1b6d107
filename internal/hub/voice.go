package hub

import (
	"context"
	"encoding/json"
	"log"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/ratelimit"
	"github.com/whisper/realtime/internal/voice"
)

// JoinVoiceChannel adds the caller's connection to a voice channel. The
// caller receives the full roster, itself included; everyone else in the
// channel and the server learns about the new participant.
func (h *Hub) JoinVoiceChannel(ctx context.Context, connID, serverID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}

	h.transport.JoinGroup(connID, VoiceGroup(channelID))
	roster := h.voice.Join(serverID, channelID, connID, user)
	// Disconnect cleanup removes the connection from presence before it
	// scans the rosters, so a join that lost the race is undone here.
	if _, live := h.presence.ResolveUser(connID); !live {
		h.voice.Leave(serverID, channelID, connID, user)
		h.transport.LeaveGroup(connID, VoiceGroup(channelID))
		log.Printf("hub: voice join dropped, conn=%s closed during join", connID)
		return
	}
	metrics.VoiceParticipants.Set(float64(h.voice.ParticipantCount()))

	participants := make([]protocol.VoiceParticipant, 0, len(roster))
	for _, p := range roster {
		st, _ := h.voice.VoiceState(channelID, p.UserID)
		participants = append(participants, protocol.VoiceParticipant{
			ConnectionID: p.ConnectionID,
			UserID:       p.UserID,
			Muted:        st.Muted,
			Deafened:     st.Deafened,
		})
	}
	h.sendTo(connID, protocol.TypeAllUsersInVoice, protocol.AllUsersInVoiceMsg{
		ChannelID:    channelID,
		Participants: participants,
	})

	h.broadcast(h.voiceScopes(channelID, serverID), protocol.TypeUserJoinedVoice, protocol.VoiceMemberMsg{
		ServerID:     serverID,
		ChannelID:    channelID,
		UserID:       user,
		ConnectionID: connID,
	}, connID)
}

// LeaveVoiceChannel removes the caller's connection from a voice channel and
// clears the user's voice state and screen share there. The departure and an
// implicit screen share stop are always announced, even if the server had
// already lost track of the participant.
func (h *Hub) LeaveVoiceChannel(ctx context.Context, connID, serverID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}

	h.voice.Leave(serverID, channelID, connID, user)
	h.transport.LeaveGroup(connID, VoiceGroup(channelID))
	metrics.VoiceParticipants.Set(float64(h.voice.ParticipantCount()))

	scopes := h.voiceScopes(channelID, serverID)
	h.broadcast(scopes, protocol.TypeUserLeftVoice, protocol.VoiceMemberMsg{
		ServerID:     serverID,
		ChannelID:    channelID,
		UserID:       user,
		ConnectionID: connID,
	})
	h.broadcast(scopes, protocol.TypeUserStoppedScreenShare, protocol.ScreenShareMsg{
		ServerID:  serverID,
		ChannelID: channelID,
		UserID:    user,
	})
}

// UpdateVoiceState sets both voice flags of the caller in a channel.
func (h *Hub) UpdateVoiceState(ctx context.Context, connID, channelID string, muted, deafened bool) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	st, ok := h.voice.UpdateVoiceState(channelID, user, muted, deafened)
	if !ok {
		return
	}
	h.broadcast(h.voiceScopes(channelID, ""), protocol.TypeUserVoiceStateChanged, protocol.VoiceStateChangedMsg{
		ChannelID: channelID,
		UserID:    user,
		Muted:     st.Muted,
		Deafened:  st.Deafened,
	})
}

// SetMuteState sets the caller's mute flag in a channel.
func (h *Hub) SetMuteState(ctx context.Context, connID, channelID string, muted bool) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	st, ok := h.voice.SetMuteState(channelID, user, muted)
	if !ok {
		return
	}
	h.broadcast(h.voiceScopes(channelID, ""), protocol.TypeUserMuted, protocol.UserMutedMsg{
		ChannelID: channelID,
		UserID:    user,
		Muted:     st.Muted,
	})
}

// SetDeafenState sets the caller's deafen flag in a channel.
func (h *Hub) SetDeafenState(ctx context.Context, connID, channelID string, deafened bool) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	st, ok := h.voice.SetDeafenState(channelID, user, deafened)
	if !ok {
		return
	}
	h.broadcast(h.voiceScopes(channelID, ""), protocol.TypeUserDeafened, protocol.UserDeafenedMsg{
		ChannelID: channelID,
		UserID:    user,
		Deafened:  st.Deafened,
	})
}

// StartSpeaking tells the other participants of a voice channel that the
// caller is speaking.
func (h *Hub) StartSpeaking(ctx context.Context, connID, channelID string) {
	h.speaking(connID, channelID, protocol.TypeUserStartedSpeaking)
}

// StopSpeaking tells the other participants of a voice channel that the
// caller stopped speaking.
func (h *Hub) StopSpeaking(ctx context.Context, connID, channelID string) {
	h.speaking(connID, channelID, protocol.TypeUserStoppedSpeaking)
}

func (h *Hub) speaking(connID, channelID, msgType string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	h.broadcast([]string{VoiceGroup(channelID)}, msgType, protocol.SpeakingMsg{
		ChannelID: channelID,
		UserID:    user,
	}, connID)
}

// StartScreenShare marks the caller as sharing a screen in a channel and
// announces it to the channel and the whole server.
func (h *Hub) StartScreenShare(ctx context.Context, connID, serverID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	if !h.voice.StartScreenShare(serverID, channelID, user) {
		return
	}
	h.broadcast(h.voiceScopes(channelID, serverID), protocol.TypeUserStartedScreenShare, protocol.ScreenShareMsg{
		ServerID:  serverID,
		ChannelID: channelID,
		UserID:    user,
	})
}

// StopScreenShare clears the caller's screen share in a channel.
func (h *Hub) StopScreenShare(ctx context.Context, connID, serverID, channelID string) {
	user, ok := h.caller(connID)
	if !ok || channelID == "" {
		return
	}
	if !h.voice.StopScreenShare(serverID, channelID, user) {
		return
	}
	h.broadcast(h.voiceScopes(channelID, serverID), protocol.TypeUserStoppedScreenShare, protocol.ScreenShareMsg{
		ServerID:  serverID,
		ChannelID: channelID,
		UserID:    user,
	})
}

// SendOffer relays an SDP offer to another connection.
func (h *Hub) SendOffer(ctx context.Context, connID, targetConnID string, payload json.RawMessage) {
	h.relay(ctx, connID, voice.SignalOffer, targetConnID, payload)
}

// SendAnswer relays an SDP answer to another connection.
func (h *Hub) SendAnswer(ctx context.Context, connID, targetConnID string, payload json.RawMessage) {
	h.relay(ctx, connID, voice.SignalAnswer, targetConnID, payload)
}

// SendIceCandidate relays an ICE candidate to another connection.
func (h *Hub) SendIceCandidate(ctx context.Context, connID, targetConnID string, payload json.RawMessage) {
	h.relay(ctx, connID, voice.SignalICECandidate, targetConnID, payload)
}

var relayTypes = map[voice.SignalKind]string{
	voice.SignalOffer:        protocol.TypeReceiveOffer,
	voice.SignalAnswer:       protocol.TypeReceiveAnswer,
	voice.SignalICECandidate: protocol.TypeReceiveICECandidate,
}

func (h *Hub) relay(ctx context.Context, connID string, kind voice.SignalKind, targetConnID string, payload json.RawMessage) {
	user, ok := h.caller(connID)
	if !ok {
		return
	}
	if !h.allow(ctx, connID, relayTypes[kind], ratelimit.RuleSignal) {
		return
	}
	sig, ok := h.voice.RelaySignal(kind, connID, targetConnID, payload)
	if !ok {
		return
	}

	data, ok := h.encode(relayTypes[kind], protocol.SignalRelayMsg{
		FromConnectionID: sig.From,
		FromUserID:       user,
		Payload:          sig.Payload,
	})
	if !ok {
		return
	}
	if err := h.transport.SendToConnection(sig.To, data); err != nil {
		log.Printf("hub: relay %s from=%s to=%s: %v", kind, sig.From, sig.To, err)
		return
	}
	metrics.SignalsRelayed.WithLabelValues(string(kind)).Inc()
}

// GetServerVoiceStatus replies with the voice activity of every channel
// known to belong to serverID.
func (h *Hub) GetServerVoiceStatus(ctx context.Context, connID, serverID string) (voice.Snapshot, bool) {
	if _, ok := h.caller(connID); !ok || serverID == "" {
		return voice.Snapshot{}, false
	}
	snap := h.voice.GetVoiceSnapshot(serverID)

	reply := protocol.ServerVoiceStatusMsg{
		ServerID:     serverID,
		ScreenShares: snap.ScreenShares,
		VoiceUsers:   snap.VoiceUsers,
		VoiceStates:  make(map[string]map[string]protocol.VoiceStateInfo, len(snap.VoiceStates)),
	}
	for ch, states := range snap.VoiceStates {
		m := make(map[string]protocol.VoiceStateInfo, len(states))
		for user, st := range states {
			m[user] = protocol.VoiceStateInfo{Muted: st.Muted, Deafened: st.Deafened}
		}
		reply.VoiceStates[ch] = m
	}
	h.sendTo(connID, protocol.TypeServerVoiceStatus, reply)
	return snap, true
}
