// Package protocol defines the WebSocket message types and structures used for
// communication between clients and the realtime server. All messages are
// serialized as JSON and follow a consistent envelope format with a type
// discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinServer         = "join_server"
	TypeLeaveServer        = "leave_server"
	TypeJoinChannel        = "join_channel"
	TypeLeaveChannel       = "leave_channel"
	TypeTypingStart        = "typing_start"
	TypeTypingStop         = "typing_stop"
	TypeDMTypingStart      = "dm_typing_start"
	TypeDMTypingStop       = "dm_typing_stop"
	TypeVoiceJoin          = "voice_join"
	TypeVoiceLeave         = "voice_leave"
	TypeVoiceState         = "voice_state"
	TypeVoiceMute          = "voice_mute"
	TypeVoiceDeafen        = "voice_deafen"
	TypeSpeakingStart      = "speaking_start"
	TypeSpeakingStop       = "speaking_stop"
	TypeScreenShareStart   = "screen_share_start"
	TypeScreenShareStop    = "screen_share_stop"
	TypeSignalOffer        = "signal_offer"
	TypeSignalAnswer       = "signal_answer"
	TypeSignalICECandidate = "signal_ice_candidate"
	TypeSetStatus          = "set_status"
	TypeSetStatusTimed     = "set_status_timed"
	TypeGetVoiceStatus     = "get_voice_status"
	TypePing               = "ping"
)

// Server -> Client message types.
const (
	TypeConnected              = "connected"
	TypeUserStatusSnapshot     = "user_status_snapshot"
	TypeUserOnline             = "user_online"
	TypeUserOffline            = "user_offline"
	TypeUserStatusChanged      = "user_status_changed"
	TypeUserTyping             = "user_typing"
	TypeUserStoppedTyping      = "user_stopped_typing"
	TypeDMUserTyping           = "dm_user_typing"
	TypeDMUserStoppedTyping    = "dm_user_stopped_typing"
	TypeChannelJoined          = "channel_joined"
	TypeAllUsersInVoice        = "all_users_in_voice_channel"
	TypeUserJoinedVoice        = "user_joined_voice_channel"
	TypeUserLeftVoice          = "user_left_voice_channel"
	TypeUserVoiceStateChanged  = "user_voice_state_changed"
	TypeUserMuted              = "user_muted"
	TypeUserDeafened           = "user_deafened"
	TypeUserStartedSpeaking    = "user_started_speaking"
	TypeUserStoppedSpeaking    = "user_stopped_speaking"
	TypeUserStartedScreenShare = "user_started_screen_share"
	TypeUserStoppedScreenShare = "user_stopped_screen_share"
	TypeReceiveOffer           = "receive_offer"
	TypeReceiveAnswer          = "receive_answer"
	TypeReceiveICECandidate    = "receive_ice_candidate"
	TypeServerVoiceStatus      = "server_voice_status"
	TypeRateLimited            = "rate_limited"
	TypeError                  = "error"
	TypePong                   = "pong"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// ServerRefMsg names a server. Used by join_server, leave_server and
// get_voice_status.
type ServerRefMsg struct {
	Type     string `json:"type"`
	ServerID string `json:"server_id"`
}

// ChannelRefMsg names a text or voice channel. Used by join_channel,
// leave_channel, typing_start, typing_stop, speaking_start and
// speaking_stop.
type ChannelRefMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// DMTypingMsg starts or stops a typing indicator in the direct conversation
// with UserID.
type DMTypingMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// VoiceChannelMsg names a voice channel and the server it belongs to. Used by
// voice_join, voice_leave, screen_share_start and screen_share_stop.
type VoiceChannelMsg struct {
	Type      string `json:"type"`
	ServerID  string `json:"server_id"`
	ChannelID string `json:"channel_id"`
}

// VoiceStateMsg replaces both voice flags at once.
type VoiceStateMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Muted     bool   `json:"muted"`
	Deafened  bool   `json:"deafened"`
}

// VoiceMuteMsg sets only the muted flag.
type VoiceMuteMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Muted     bool   `json:"muted"`
}

// VoiceDeafenMsg sets only the deafened flag.
type VoiceDeafenMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Deafened  bool   `json:"deafened"`
}

// SignalMsg carries an opaque WebRTC negotiation payload for another
// connection.
type SignalMsg struct {
	Type               string          `json:"type"`
	TargetConnectionID string          `json:"target_connection_id"`
	Payload            json.RawMessage `json:"payload"`
}

// SetStatusMsg sets the caller's presence status.
type SetStatusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// SetStatusTimedMsg sets the caller's presence status for DurationMs
// milliseconds.
type SetStatusTimedMsg struct {
	Type       string `json:"type"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent to a connection once it has been registered.
type ConnectedMsg struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

// StatusSnapshotMsg primes a new connection with who is online and which
// users have a non-online status.
type StatusSnapshotMsg struct {
	Type        string            `json:"type"`
	OnlineUsers []string          `json:"online_users"`
	Statuses    map[string]string `json:"statuses"`
}

// UserPresenceMsg announces that a user came online or went offline.
type UserPresenceMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserStatusChangedMsg announces a status change. ExpiresAt is a unix
// millisecond timestamp and is omitted for untimed statuses.
type UserStatusChangedMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// TypingEventMsg announces a typing change in a channel.
type TypingEventMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// DMTypingEventMsg announces a typing change in a direct conversation. UserID
// is the user who is typing.
type DMTypingEventMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// ChannelJoinedMsg answers join_channel with the current typers and online
// users.
type ChannelJoinedMsg struct {
	Type          string   `json:"type"`
	ChannelID     string   `json:"channel_id"`
	TypingUserIDs []string `json:"typing_user_ids"`
	OnlineUserIDs []string `json:"online_user_ids"`
}

// VoiceParticipant is one roster entry in AllUsersInVoiceMsg.
type VoiceParticipant struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Muted        bool   `json:"muted"`
	Deafened     bool   `json:"deafened"`
}

// AllUsersInVoiceMsg lists the other participants of a voice channel to a
// connection that just joined it.
type AllUsersInVoiceMsg struct {
	Type         string             `json:"type"`
	ChannelID    string             `json:"channel_id"`
	Participants []VoiceParticipant `json:"participants"`
}

// VoiceMemberMsg announces a connection joining or leaving a voice channel.
type VoiceMemberMsg struct {
	Type         string `json:"type"`
	ServerID     string `json:"server_id,omitempty"`
	ChannelID    string `json:"channel_id"`
	UserID       string `json:"user_id"`
	ConnectionID string `json:"connection_id"`
}

// VoiceStateChangedMsg announces a user's full voice state.
type VoiceStateChangedMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Muted     bool   `json:"muted"`
	Deafened  bool   `json:"deafened"`
}

// UserMutedMsg announces a mute flag change.
type UserMutedMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Muted     bool   `json:"muted"`
}

// UserDeafenedMsg announces a deafen flag change.
type UserDeafenedMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Deafened  bool   `json:"deafened"`
}

// SpeakingMsg announces that a user started or stopped speaking.
type SpeakingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// ScreenShareMsg announces that a user started or stopped sharing a screen.
type ScreenShareMsg struct {
	Type      string `json:"type"`
	ServerID  string `json:"server_id,omitempty"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// SignalRelayMsg delivers a negotiation payload from another connection.
type SignalRelayMsg struct {
	Type             string          `json:"type"`
	FromConnectionID string          `json:"from_connection_id"`
	FromUserID       string          `json:"from_user_id"`
	Payload          json.RawMessage `json:"payload"`
}

// VoiceStateInfo is a user's voice flags inside ServerVoiceStatusMsg.
type VoiceStateInfo struct {
	Muted    bool `json:"muted"`
	Deafened bool `json:"deafened"`
}

// ServerVoiceStatusMsg answers get_voice_status with every voice channel of a
// server that has activity.
type ServerVoiceStatusMsg struct {
	Type         string                               `json:"type"`
	ServerID     string                               `json:"server_id"`
	ScreenShares map[string][]string                  `json:"screen_shares"`
	VoiceStates  map[string]map[string]VoiceStateInfo `json:"voice_states"`
	VoiceUsers   map[string][]string                  `json:"voice_users"`
}

// RateLimitedMsg is sent by the server when an event was dropped by a rate
// limit.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	Event      string `json:"event"`
	RetryAfter int    `json:"retry_after"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

type decodeFunc func(raw json.RawMessage) (interface{}, error)

func decodeAs[T any](raw json.RawMessage) (interface{}, error) {
	var m T
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

var clientDecoders = map[string]decodeFunc{
	TypeJoinServer:         decodeAs[ServerRefMsg],
	TypeLeaveServer:        decodeAs[ServerRefMsg],
	TypeGetVoiceStatus:     decodeAs[ServerRefMsg],
	TypeJoinChannel:        decodeAs[ChannelRefMsg],
	TypeLeaveChannel:       decodeAs[ChannelRefMsg],
	TypeTypingStart:        decodeAs[ChannelRefMsg],
	TypeTypingStop:         decodeAs[ChannelRefMsg],
	TypeSpeakingStart:      decodeAs[ChannelRefMsg],
	TypeSpeakingStop:       decodeAs[ChannelRefMsg],
	TypeDMTypingStart:      decodeAs[DMTypingMsg],
	TypeDMTypingStop:       decodeAs[DMTypingMsg],
	TypeVoiceJoin:          decodeAs[VoiceChannelMsg],
	TypeVoiceLeave:         decodeAs[VoiceChannelMsg],
	TypeScreenShareStart:   decodeAs[VoiceChannelMsg],
	TypeScreenShareStop:    decodeAs[VoiceChannelMsg],
	TypeVoiceState:         decodeAs[VoiceStateMsg],
	TypeVoiceMute:          decodeAs[VoiceMuteMsg],
	TypeVoiceDeafen:        decodeAs[VoiceDeafenMsg],
	TypeSignalOffer:        decodeAs[SignalMsg],
	TypeSignalAnswer:       decodeAs[SignalMsg],
	TypeSignalICECandidate: decodeAs[SignalMsg],
	TypeSetStatus:          decodeAs[SetStatusMsg],
	TypeSetStatusTimed:     decodeAs[SetStatusTimedMsg],
	TypePing:               decodeAs[PingMsg],
}

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	decode, ok := clientDecoders[env.Type]
	if !ok {
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	msg, err := decode(env.Raw)
	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key, overriding
// whatever the payload struct carried.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}
	if m == nil {
		m = make(map[string]json.RawMessage, 1)
	}

	typ, _ := json.Marshal(msgType)
	m["type"] = typ

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
