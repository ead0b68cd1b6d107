package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/whisper/realtime/internal/presence"
	"github.com/whisper/realtime/internal/ratelimit"
	"github.com/whisper/realtime/internal/status"
	"github.com/whisper/realtime/internal/typing"
	"github.com/whisper/realtime/internal/voice"
)

// frame is one decoded message delivered to a connection.
type frame struct {
	Type   string
	Fields map[string]interface{}
}

// fakeTransport keeps groups and per-connection inboxes in memory and also
// serves as the identity resolver.
type fakeTransport struct {
	mu     sync.Mutex
	owners map[string]string          // conn -> user
	groups map[string]map[string]bool // group -> conns
	inbox  map[string][]frame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		owners: make(map[string]string),
		groups: make(map[string]map[string]bool),
		inbox:  make(map[string][]frame),
	}
}

func (f *fakeTransport) UserOf(connID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.owners[connID]
	return u, ok
}

func (f *fakeTransport) JoinGroup(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groups[group] == nil {
		f.groups[group] = make(map[string]bool)
	}
	f.groups[group][connID] = true
}

func (f *fakeTransport) LeaveGroup(connID, group string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.groups[group], connID)
}

func (f *fakeTransport) SendToGroups(groups []string, msg []byte, exclude ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skip := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		skip[c] = true
	}
	seen := make(map[string]bool)
	for _, g := range groups {
		for c := range f.groups[g] {
			if skip[c] || seen[c] {
				continue
			}
			seen[c] = true
			f.deliver(c, msg)
		}
	}
}

func (f *fakeTransport) SendToConnection(connID string, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.owners[connID]; !ok {
		return fmt.Errorf("connection %s not found", connID)
	}
	f.deliver(connID, msg)
	return nil
}

func (f *fakeTransport) SendToUser(userID string, msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c, u := range f.owners {
		if u == userID {
			f.deliver(c, msg)
		}
	}
}

func (f *fakeTransport) deliver(connID string, msg []byte) {
	var fields map[string]interface{}
	if err := json.Unmarshal(msg, &fields); err != nil {
		panic(err)
	}
	typ, _ := fields["type"].(string)
	f.inbox[connID] = append(f.inbox[connID], frame{Type: typ, Fields: fields})
}

func (f *fakeTransport) register(connID, userID string) {
	f.mu.Lock()
	f.owners[connID] = userID
	f.mu.Unlock()
}

func (f *fakeTransport) unregister(connID string) {
	f.mu.Lock()
	delete(f.owners, connID)
	for _, members := range f.groups {
		delete(members, connID)
	}
	f.mu.Unlock()
}

// frames returns the frames of msgType delivered to connID.
func (f *fakeTransport) frames(connID, msgType string) []frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []frame
	for _, fr := range f.inbox[connID] {
		if fr.Type == msgType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) count(connID, msgType string) int {
	return len(f.frames(connID, msgType))
}

func (f *fakeTransport) total(connID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox[connID])
}

func (f *fakeTransport) clear() {
	f.mu.Lock()
	f.inbox = make(map[string][]frame)
	f.mu.Unlock()
}

// recordedEvents captures Events calls.
type recordedEvents struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordedEvents) add(s string) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
}

func (r *recordedEvents) UserOnline(u string)       { r.add("online:" + u) }
func (r *recordedEvents) UserOffline(u string)      { r.add("offline:" + u) }
func (r *recordedEvents) MembershipExpire(u string) { r.add("membership:" + u) }

func (r *recordedEvents) StatusChanged(u, s string, _ time.Time) {
	r.add("status:" + u + ":" + s)
}

func (r *recordedEvents) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// denyLimiter rejects every call for the named rule.
type denyLimiter struct {
	rule string
}

func (d denyLimiter) Allow(_ context.Context, _ string, rule ratelimit.Rule) (bool, error) {
	return rule.Name != d.rule, nil
}

type testEnv struct {
	hub    *Hub
	tr     *fakeTransport
	repo   *status.MemoryRepository
	store  *status.Store
	events *recordedEvents
}

func newTestEnv(t *testing.T, ttl time.Duration, limiter Limiter) *testEnv {
	t.Helper()
	tr := newFakeTransport()
	repo := status.NewMemoryRepository()
	store := status.NewStore(repo, time.Second)
	events := &recordedEvents{}
	h := New(Deps{
		Transport: tr,
		Identity:  tr,
		Presence:  presence.NewRegistry(),
		Typing:    typing.NewTracker(ttl),
		Voice:     voice.NewCoordinator(),
		Status:    store,
		Events:    events,
		Limiter:   limiter,
	})
	t.Cleanup(store.Flush)
	return &testEnv{hub: h, tr: tr, repo: repo, store: store, events: events}
}

func (e *testEnv) connect(connID, userID string) {
	e.tr.register(connID, userID)
	e.hub.OnConnected(context.Background(), connID)
}

func (e *testEnv) disconnect(connID string) {
	e.hub.OnDisconnected(context.Background(), connID)
	e.tr.unregister(connID)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
