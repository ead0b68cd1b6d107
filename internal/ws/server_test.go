package ws

import (
	"net"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// pipeConn registers a connection backed by net.Pipe and returns the client
// end.
func pipeConn(t *testing.T, s *Server, id, user string) net.Conn {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	s.conns.Add(&Connection{
		ID:        id,
		UserID:    user,
		Conn:      serverSide,
		Fd:        -1,
		CreatedAt: time.Now(),
		LastPing:  time.Now(),
	})
	return clientSide
}

// readOne reads a single text frame from the client end in the background.
func readOne(client net.Conn) <-chan string {
	ch := make(chan string, 1)
	go func() {
		_ = client.SetReadDeadline(time.Now().Add(time.Second))
		data, err := wsutil.ReadServerText(client)
		if err != nil {
			ch <- ""
			return
		}
		ch <- string(data)
	}()
	return ch
}

func newTestServer() *Server {
	cfg := DefaultServerConfig()
	cfg.WriteTimeout = time.Second
	return NewServer(cfg, nil, nil, nil)
}

func TestServer_SendToGroupsDedupesAndExcludes(t *testing.T) {
	s := newTestServer()
	ca := pipeConn(t, s, "a", "alice")
	cb := pipeConn(t, s, "b", "bob")
	cc := pipeConn(t, s, "c", "carol")

	for _, id := range []string{"a", "b"} {
		s.JoinGroup(id, "voice:42")
	}
	for _, id := range []string{"a", "b", "c"} {
		s.JoinGroup(id, "server:1")
	}

	gotB, gotC := readOne(cb), readOne(cc)
	s.SendToGroups([]string{"voice:42", "server:1"}, []byte(`{"type":"x"}`), "a")

	if msg := <-gotB; msg != `{"type":"x"}` {
		t.Fatalf("b got %q", msg)
	}
	if msg := <-gotC; msg != `{"type":"x"}` {
		t.Fatalf("c got %q", msg)
	}

	// The excluded connection receives nothing; a second frame to b proves
	// b got exactly one copy of the first.
	gotA := readOne(ca)
	gotB = readOne(cb)
	s.SendToGroups([]string{"voice:42"}, []byte(`{"type":"y"}`), "a")
	if msg := <-gotB; msg != `{"type":"y"}` {
		t.Fatalf("b second frame = %q", msg)
	}
	if msg := <-gotA; msg != "" {
		t.Fatalf("excluded connection received %q", msg)
	}
}

func TestServer_SendToUserReachesEveryConnection(t *testing.T) {
	s := newTestServer()
	c1 := pipeConn(t, s, "a1", "alice")
	c2 := pipeConn(t, s, "a2", "alice")
	pipeConn(t, s, "b1", "bob")

	r1, r2 := readOne(c1), readOne(c2)
	s.SendToUser("alice", []byte(`{"type":"dm"}`))

	if <-r1 == "" || <-r2 == "" {
		t.Fatal("every connection of the user should receive the frame")
	}
}

func TestServer_SendToConnectionUnknown(t *testing.T) {
	s := newTestServer()
	if err := s.SendToConnection("ghost", []byte(`{}`)); err == nil {
		t.Fatal("expected an error for an unknown connection")
	}
}

func TestServer_JoinGroupIgnoresUnknownConnection(t *testing.T) {
	s := newTestServer()
	s.JoinGroup("ghost", "all")
	if n := s.Groups().Size("all"); n != 0 {
		t.Fatalf("unknown connection joined a group, size=%d", n)
	}
}

func TestServer_RemoveConnectionCleansUp(t *testing.T) {
	s := newTestServer()
	pipeConn(t, s, "a1", "alice")
	s.JoinGroup("a1", "all")
	s.JoinGroup("a1", "server:1")

	var (
		mu    sync.Mutex
		calls []string
	)
	s.SetOnDisconnect(func(connID string) {
		mu.Lock()
		calls = append(calls, connID)
		mu.Unlock()
		// The hook runs before the connection leaves its groups.
		if n := s.Groups().Size("all"); n != 1 {
			t.Errorf("groups cleared before the disconnect hook, size=%d", n)
		}
	})

	c := s.conns.Get("a1")
	s.RemoveConnection(c)
	s.RemoveConnection(c)

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("disconnect hook should run once, ran %d times", len(calls))
	}
	if groups := s.Groups().Groups("a1"); len(groups) != 0 {
		sort.Strings(groups)
		t.Fatalf("connection still in groups %v", groups)
	}
	if _, ok := s.UserOf("a1"); ok {
		t.Fatal("removed connection still resolves to a user")
	}
}

func TestServer_JoinGroupRacingRemoveLeavesNoMember(t *testing.T) {
	s := newTestServer()
	for i := 0; i < 200; i++ {
		pipeConn(t, s, "a1", "alice")
		c := s.conns.Get("a1")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.JoinGroup("a1", "voice:42")
		}()
		go func() {
			defer wg.Done()
			s.RemoveConnection(c)
		}()
		wg.Wait()

		if n := s.Groups().Size("voice:42"); n != 0 {
			t.Fatalf("iteration %d: closed connection left in group, size=%d", i, n)
		}
	}
}
