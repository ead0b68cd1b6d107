package typing

// Scope identifies a typing context: a channel, or the direct-message
// conversation between two users. Direct scopes store their peers in sorted
// order so both participants map to the same scope.
type Scope struct {
	Channel string
	Low     string
	High    string
}

// ChannelScope returns the scope for a channel.
func ChannelScope(channelID string) Scope {
	return Scope{Channel: channelID}
}

// DirectScope returns the canonical scope for a conversation between a and b.
func DirectScope(a, b string) Scope {
	if b < a {
		a, b = b, a
	}
	return Scope{Low: a, High: b}
}

// IsDirect reports whether s is a direct-message scope.
func (s Scope) IsDirect() bool {
	return s.Channel == "" && s.Low != ""
}

// Key returns the scope key: the channel id, or "low:high" for direct scopes.
func (s Scope) Key() string {
	if s.IsDirect() {
		return s.Low + ":" + s.High
	}
	return s.Channel
}

// Peer returns the other participant of a direct scope.
func (s Scope) Peer(user string) string {
	if user == s.Low {
		return s.High
	}
	return s.Low
}
