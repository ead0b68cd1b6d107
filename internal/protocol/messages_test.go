package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a voice_join message
// ---------------------------------------------------------------------------

func TestParseClientMessage_VoiceJoin(t *testing.T) {
	input := []byte(`{"type":"voice_join","server_id":"1","channel_id":"42"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeVoiceJoin {
		t.Fatalf("expected type %q, got %q", TypeVoiceJoin, msgType)
	}

	vm, ok := msg.(VoiceChannelMsg)
	if !ok {
		t.Fatalf("expected VoiceChannelMsg, got %T", msg)
	}
	if vm.ServerID != "1" || vm.ChannelID != "42" {
		t.Errorf("unexpected ids: server=%q channel=%q", vm.ServerID, vm.ChannelID)
	}
}

// ---------------------------------------------------------------------------
// Test: Shared shapes decode into the same struct
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChannelRefTypes(t *testing.T) {
	for _, typ := range []string{
		TypeJoinChannel, TypeLeaveChannel, TypeTypingStart,
		TypeTypingStop, TypeSpeakingStart, TypeSpeakingStop,
	} {
		input := []byte(`{"type":"` + typ + `","channel_id":"42"}`)
		_, msg, err := ParseClientMessage(input)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", typ, err)
		}
		cm, ok := msg.(ChannelRefMsg)
		if !ok {
			t.Fatalf("%s: expected ChannelRefMsg, got %T", typ, msg)
		}
		if cm.ChannelID != "42" {
			t.Errorf("%s: expected channel_id 42, got %q", typ, cm.ChannelID)
		}
	}
}

// ---------------------------------------------------------------------------
// Test: Signal payload is kept opaque
// ---------------------------------------------------------------------------

func TestParseClientMessage_SignalPayload(t *testing.T) {
	input := []byte(`{"type":"signal_offer","target_connection_id":"c2","payload":{"sdp":"v=0","nested":[1,2]}}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(SignalMsg)
	if !ok {
		t.Fatalf("expected SignalMsg, got %T", msg)
	}
	if sm.TargetConnectionID != "c2" {
		t.Errorf("expected target c2, got %q", sm.TargetConnectionID)
	}
	if string(sm.Payload) != `{"sdp":"v=0","nested":[1,2]}` {
		t.Errorf("payload altered: %s", sm.Payload)
	}
}

func TestParseClientMessage_SetStatusTimed(t *testing.T) {
	input := []byte(`{"type":"set_status_timed","status":"busy","duration_ms":60000}`)

	_, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sm, ok := msg.(SetStatusTimedMsg)
	if !ok {
		t.Fatalf("expected SetStatusTimedMsg, got %T", msg)
	}
	if sm.Status != "busy" || sm.DurationMs != 60000 {
		t.Errorf("unexpected message: %+v", sm)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing errors
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"unknown_type","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected an error for unknown message type, got nil")
	}
	if msg != nil {
		t.Errorf("expected nil message for unknown type, got %v", msg)
	}
	if msgType != "unknown_type" {
		t.Errorf("expected returned type %q, got %q", "unknown_type", msgType)
	}
}

func TestParseClientMessage_ServerOnlyType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"type":"user_online","user_id":"a"}`)); err == nil {
		t.Fatal("expected an error for a server-only type")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	if _, _, err := ParseClientMessage([]byte(`{"channel_id":"42"}`)); err == nil {
		t.Fatal("expected an error for a missing type")
	}
}

func TestParseClientMessage_BadPayload(t *testing.T) {
	msgType, _, err := ParseClientMessage([]byte(`{"type":"voice_mute","channel_id":"42","muted":"yes"}`))
	if err == nil {
		t.Fatal("expected an error for a mistyped field")
	}
	if msgType != TypeVoiceMute {
		t.Errorf("expected returned type %q, got %q", TypeVoiceMute, msgType)
	}
}

// ---------------------------------------------------------------------------
// Test: Server messages
// ---------------------------------------------------------------------------

func TestNewServerMessage_InjectsType(t *testing.T) {
	data, err := NewServerMessage(TypeUserTyping, TypingEventMsg{ChannelID: "42", UserID: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeUserTyping {
		t.Errorf("expected type %q, got %v", TypeUserTyping, result["type"])
	}
	if result["channel_id"] != "42" || result["user_id"] != "alice" {
		t.Errorf("unexpected payload: %v", result)
	}
}

func TestNewServerMessage_OverridesType(t *testing.T) {
	data, err := NewServerMessage(TypeUserOffline, UserPresenceMsg{Type: TypeUserOnline, UserID: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded UserPresenceMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.Type != TypeUserOffline {
		t.Errorf("expected type %q, got %q", TypeUserOffline, decoded.Type)
	}
}

func TestNewServerMessage_RelayPayload(t *testing.T) {
	payload := json.RawMessage(`{"candidate":"a=1"}`)
	data, err := NewServerMessage(TypeReceiveICECandidate, SignalRelayMsg{
		FromConnectionID: "c1",
		FromUserID:       "alice",
		Payload:          payload,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded SignalRelayMsg
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if decoded.FromConnectionID != "c1" || decoded.FromUserID != "alice" {
		t.Errorf("unexpected sender: %+v", decoded)
	}
	if string(decoded.Payload) != string(payload) {
		t.Errorf("payload altered: %s", decoded.Payload)
	}
}

func TestNewServerMessage_OmitsUntimedExpiry(t *testing.T) {
	data, err := NewServerMessage(TypeUserStatusChanged, UserStatusChangedMsg{UserID: "a", Status: "busy"})
	if err != nil {
		t.Fatalf("NewServerMessage: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if _, ok := result["expires_at"]; ok {
		t.Errorf("expected expires_at to be omitted, got %v", result["expires_at"])
	}
}

func TestNewServerMessage_UnmarshalablePayload(t *testing.T) {
	if _, err := NewServerMessage(TypeError, make(chan int)); err == nil {
		t.Fatal("expected an error for an unmarshalable payload")
	}
}
