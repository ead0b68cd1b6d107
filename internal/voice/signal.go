package voice

import "encoding/json"

// SignalKind names a WebRTC negotiation message.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice_candidate"
)

// Valid reports whether k is one of the relayed kinds.
func (k SignalKind) Valid() bool {
	switch k {
	case SignalOffer, SignalAnswer, SignalICECandidate:
		return true
	}
	return false
}

// Signal is a negotiation payload addressed to one connection and tagged
// with the sender's connection id. Payload is forwarded untouched.
type Signal struct {
	Kind    SignalKind
	From    string
	To      string
	Payload json.RawMessage
}

// RelaySignal builds the point-to-point envelope for a negotiation payload.
// It returns false for an unknown kind or a missing target. Every pair of
// peers in a channel negotiates directly, so signaling grows with the square
// of the channel size.
func (c *Coordinator) RelaySignal(kind SignalKind, source, target string, payload json.RawMessage) (Signal, bool) {
	if !kind.Valid() || source == "" || target == "" {
		return Signal{}, false
	}
	return Signal{Kind: kind, From: source, To: target, Payload: payload}, true
}
