package messaging

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type published struct {
	subject string
	data    []byte
}

func newTestPublisher(out *[]published, err error) *Publisher {
	return &Publisher{
		publish: func(subject string, data []byte) error {
			*out = append(*out, published{subject: subject, data: data})
			return err
		},
		server: "ws-test",
		now:    func() time.Time { return time.Unix(1700000000, 0) },
	}
}

func TestPublisherPresence(t *testing.T) {
	var out []published
	p := newTestPublisher(&out, nil)

	p.UserOnline("alice")
	p.UserOffline("alice")

	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if out[0].subject != SubjectPresenceOnline || out[1].subject != SubjectPresenceOffline {
		t.Fatalf("unexpected subjects: %q, %q", out[0].subject, out[1].subject)
	}

	var ev PresenceEvent
	if err := json.Unmarshal(out[0].data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.UserID != "alice" || ev.Server != "ws-test" || ev.Ts != 1700000000 {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestPublisherStatusChanged(t *testing.T) {
	var out []published
	p := newTestPublisher(&out, nil)

	expires := time.UnixMilli(1700000060000)
	p.StatusChanged("alice", "busy", expires)
	p.StatusChanged("alice", "online", time.Time{})

	var timed, untimed StatusEvent
	if err := json.Unmarshal(out[0].data, &timed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(out[1].data, &untimed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if timed.Status != "busy" || timed.ExpiresAt != 1700000060000 {
		t.Errorf("unexpected timed event: %+v", timed)
	}
	if untimed.ExpiresAt != 0 {
		t.Errorf("expected no expiry, got %d", untimed.ExpiresAt)
	}
}

func TestPublisherSwallowsErrors(t *testing.T) {
	var out []published
	p := newTestPublisher(&out, errors.New("nats down"))

	p.MembershipExpire("alice")

	if len(out) != 1 || out[0].subject != SubjectMembershipExpire {
		t.Fatalf("expected one membership.expire attempt, got %+v", out)
	}
}
