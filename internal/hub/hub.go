// Package hub is the dispatch layer of the realtime server. Every inbound
// session event enters here: the hub resolves the calling user, applies the
// event to the owning component (presence, typing, voice, status), and
// broadcasts the resulting transitions over the transport.
//
// The hub holds no locks of its own. Components mutate under their own
// bucket locks and return what changed; broadcasting happens afterwards.
// No operation reports an error to the client: an unresolvable caller is a
// silent no-op and transport or storage failures are logged.
package hub

import (
	"context"
	"log"
	"time"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/presence"
	"github.com/whisper/realtime/internal/protocol"
	"github.com/whisper/realtime/internal/ratelimit"
	"github.com/whisper/realtime/internal/status"
	"github.com/whisper/realtime/internal/typing"
	"github.com/whisper/realtime/internal/voice"
)

// Transport delivers frames to connections and maintains named broadcast
// groups.
type Transport interface {
	JoinGroup(connID, group string)
	LeaveGroup(connID, group string)
	// SendToGroups delivers msg once to every connection in the union of
	// groups, skipping the excluded connections.
	SendToGroups(groups []string, msg []byte, exclude ...string)
	SendToConnection(connID string, msg []byte) error
	SendToUser(userID string, msg []byte)
}

// IdentityResolver maps a live connection to its authenticated user.
type IdentityResolver interface {
	UserOf(connID string) (string, bool)
}

// Events receives presence and status transitions for other services,
// including the owner of temporary server memberships.
type Events interface {
	UserOnline(userID string)
	UserOffline(userID string)
	StatusChanged(userID, status string, expiresAt time.Time)
	MembershipExpire(userID string)
}

// Limiter throttles high-frequency events per connection.
type Limiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
}

// Deps are the collaborators of a Hub. Events and Limiter are optional.
type Deps struct {
	Transport Transport
	Identity  IdentityResolver
	Presence  *presence.Registry
	Typing    *typing.Tracker
	Voice     *voice.Coordinator
	Status    *status.Store
	Events    Events
	Limiter   Limiter
}

// Hub routes inbound events to the coordination components.
type Hub struct {
	transport Transport
	identity  IdentityResolver
	presence  *presence.Registry
	typing    *typing.Tracker
	voice     *voice.Coordinator
	status    *status.Store
	events    Events
	limiter   Limiter
}

// New creates a Hub and registers it as the typing tracker's expiry
// callback.
func New(d Deps) *Hub {
	h := &Hub{
		transport: d.Transport,
		identity:  d.Identity,
		presence:  d.Presence,
		typing:    d.Typing,
		voice:     d.Voice,
		status:    d.Status,
		events:    d.Events,
		limiter:   d.Limiter,
	}
	if h.events == nil {
		h.events = nopEvents{}
	}
	h.typing.SetOnExpire(h.onTypingExpired)
	return h
}

// caller resolves the user behind connID.
func (h *Hub) caller(connID string) (string, bool) {
	if h.identity == nil {
		return "", false
	}
	user, ok := h.identity.UserOf(connID)
	if !ok || user == "" {
		return "", false
	}
	return user, true
}

// allow applies rule to connID. A limited call is answered with a
// rate_limited frame and must be dropped by the caller.
func (h *Hub) allow(ctx context.Context, connID, event string, rule ratelimit.Rule) bool {
	if h.limiter == nil {
		return true
	}
	ok, _ := h.limiter.Allow(ctx, connID, rule)
	if ok {
		return true
	}
	metrics.RateLimited.WithLabelValues(rule.Name).Inc()
	h.sendTo(connID, protocol.TypeRateLimited, protocol.RateLimitedMsg{
		Event:      event,
		RetryAfter: int(rule.Window / time.Second),
	})
	return false
}

func (h *Hub) encode(msgType string, payload interface{}) ([]byte, bool) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("hub: encode %s: %v", msgType, err)
		return nil, false
	}
	return data, true
}

func (h *Hub) broadcast(groups []string, msgType string, payload interface{}, exclude ...string) {
	data, ok := h.encode(msgType, payload)
	if !ok {
		return
	}
	h.transport.SendToGroups(groups, data, exclude...)
}

func (h *Hub) sendTo(connID, msgType string, payload interface{}) {
	data, ok := h.encode(msgType, payload)
	if !ok {
		return
	}
	if err := h.transport.SendToConnection(connID, data); err != nil {
		log.Printf("hub: send %s to conn=%s: %v", msgType, connID, err)
	}
}

func (h *Hub) sendToUser(userID, msgType string, payload interface{}) {
	data, ok := h.encode(msgType, payload)
	if !ok {
		return
	}
	h.transport.SendToUser(userID, data)
}

type nopEvents struct{}

func (nopEvents) UserOnline(string)                       {}
func (nopEvents) UserOffline(string)                      {}
func (nopEvents) StatusChanged(string, string, time.Time) {}
func (nopEvents) MembershipExpire(string)                 {}
