package ws

import (
	"net"
	"testing"
	"time"
)

func newPipeConnection(t *testing.T, id, user string) *Connection {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { b.Close() })
	return &Connection{ID: id, UserID: user, Conn: a, Fd: -1, CreatedAt: time.Now()}
}

func TestConnectionManager_UserIndex(t *testing.T) {
	cm := NewConnectionManager()
	a1 := newPipeConnection(t, "a1", "alice")
	a2 := newPipeConnection(t, "a2", "alice")
	anon := newPipeConnection(t, "x", "")
	cm.Add(a1)
	cm.Add(a2)
	cm.Add(anon)

	if n := cm.Count(); n != 3 {
		t.Fatalf("expected 3 connections, got %d", n)
	}
	if user, ok := cm.UserOf("a1"); !ok || user != "alice" {
		t.Fatalf("UserOf(a1) = %q, %v", user, ok)
	}
	if _, ok := cm.UserOf("x"); ok {
		t.Fatal("anonymous connection must not resolve to a user")
	}
	if n := len(cm.ByUser("alice")); n != 2 {
		t.Fatalf("expected 2 connections for alice, got %d", n)
	}

	if !cm.Remove("a1") {
		t.Fatal("first remove should succeed")
	}
	if cm.Remove("a1") {
		t.Fatal("second remove should report false")
	}
	if n := len(cm.ByUser("alice")); n != 1 {
		t.Fatalf("expected 1 connection for alice, got %d", n)
	}
	cm.Remove("a2")
	if n := len(cm.ByUser("alice")); n != 0 {
		t.Fatalf("expected no connections for alice, got %d", n)
	}
}

func TestConnectionManager_GetByConn(t *testing.T) {
	cm := NewConnectionManager()
	c := newPipeConnection(t, "a1", "alice")
	cm.Add(c)

	if got := cm.GetByConn(c.Conn); got != c {
		t.Fatalf("GetByConn returned %v", got)
	}
	cm.Remove("a1")
	if got := cm.GetByConn(c.Conn); got != nil {
		t.Fatal("removed connection still found by net.Conn")
	}
}
