package messaging

import (
	"encoding/json"
	"log"
	"time"
)

// PresenceEvent is published on presence.online and presence.offline.
type PresenceEvent struct {
	UserID string `json:"user_id"`
	Server string `json:"server"`
	Ts     int64  `json:"ts"`
}

// StatusEvent is published on status.changed. ExpiresAt is unix
// milliseconds, zero for an untimed status.
type StatusEvent struct {
	UserID    string `json:"user_id"`
	Status    string `json:"status"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Server    string `json:"server"`
	Ts        int64  `json:"ts"`
}

// MembershipEvent is published on membership.expire when a user's last
// connection closes, so the service that owns temporary server memberships
// can revoke them.
type MembershipEvent struct {
	UserID string `json:"user_id"`
	Server string `json:"server"`
	Ts     int64  `json:"ts"`
}

// Publisher turns presence and status transitions into NATS events.
// Failures are logged and otherwise ignored.
type Publisher struct {
	publish func(subject string, data []byte) error
	server  string
	now     func() time.Time
}

// NewPublisher creates a Publisher on client. serverName identifies this
// instance in every event.
func NewPublisher(client *NATSClient, serverName string) *Publisher {
	return &Publisher{publish: client.Publish, server: serverName, now: time.Now}
}

// UserOnline publishes presence.online.
func (p *Publisher) UserOnline(userID string) {
	p.send(SubjectPresenceOnline, PresenceEvent{UserID: userID, Server: p.server, Ts: p.now().Unix()})
}

// UserOffline publishes presence.offline.
func (p *Publisher) UserOffline(userID string) {
	p.send(SubjectPresenceOffline, PresenceEvent{UserID: userID, Server: p.server, Ts: p.now().Unix()})
}

// StatusChanged publishes status.changed.
func (p *Publisher) StatusChanged(userID, status string, expiresAt time.Time) {
	ev := StatusEvent{UserID: userID, Status: status, Server: p.server, Ts: p.now().Unix()}
	if !expiresAt.IsZero() {
		ev.ExpiresAt = expiresAt.UnixMilli()
	}
	p.send(SubjectStatusChanged, ev)
}

// MembershipExpire publishes membership.expire.
func (p *Publisher) MembershipExpire(userID string) {
	p.send(SubjectMembershipExpire, MembershipEvent{UserID: userID, Server: p.server, Ts: p.now().Unix()})
}

func (p *Publisher) send(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[nats] marshal %s event: %v", subject, err)
		return
	}
	if err := p.publish(subject, data); err != nil {
		log.Printf("[nats] publish %s: %v", subject, err)
	}
}
