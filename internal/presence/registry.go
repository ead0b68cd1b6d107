// Package presence tracks which users are connected and from which
// connections. A user is online exactly while at least one of its connections
// is registered; the registry reports the 0->1 and 1->0 transitions so the
// dispatch layer can broadcast online/offline events only when they change.
package presence

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/whisper/realtime/internal/shard"
)

type userBucket struct {
	mu    sync.Mutex
	users map[string]map[string]struct{} // user -> connection ids
}

type connBucket struct {
	mu     sync.Mutex
	owners map[string]string // connection id -> user
}

// Registry maps user identities to their live connections. Users are spread
// over fixed lock buckets, so connects and disconnects for different users
// proceed independently while operations on one user are linearizable.
type Registry struct {
	users [shard.DefaultCount]userBucket
	conns [shard.DefaultCount]connBucket
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.users {
		r.users[i].users = make(map[string]map[string]struct{})
		r.conns[i].owners = make(map[string]string)
	}
	return r
}

func (r *Registry) userBucket(user string) *userBucket {
	return &r.users[shard.Index(user, shard.DefaultCount)]
}

func (r *Registry) connBucket(conn string) *connBucket {
	return &r.conns[shard.Index(conn, shard.DefaultCount)]
}

// Connect registers conn for user. It returns true only when this is the
// user's first live connection (offline -> online).
func (r *Registry) Connect(user, conn string) bool {
	b := r.userBucket(user)
	b.mu.Lock()
	set, ok := b.users[user]
	if !ok {
		set = make(map[string]struct{}, 1)
		b.users[user] = set
	}
	_, dup := set[conn]
	set[conn] = struct{}{}
	first := !ok && !dup
	b.mu.Unlock()

	cb := r.connBucket(conn)
	cb.mu.Lock()
	cb.owners[conn] = user
	cb.mu.Unlock()

	return first
}

// Disconnect removes conn from user. It returns true only when conn was the
// user's last live connection (online -> offline); the user entry is then
// deleted.
func (r *Registry) Disconnect(user, conn string) bool {
	b := r.userBucket(user)
	b.mu.Lock()
	wentOffline := false
	if set, ok := b.users[user]; ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			if len(set) == 0 {
				delete(b.users, user)
				wentOffline = true
			}
		}
	}
	b.mu.Unlock()

	cb := r.connBucket(conn)
	cb.mu.Lock()
	if cb.owners[conn] == user {
		delete(cb.owners, conn)
	}
	cb.mu.Unlock()

	return wentOffline
}

// ResolveUser returns the user that owns conn, if the connection is live.
func (r *Registry) ResolveUser(conn string) (string, bool) {
	cb := r.connBucket(conn)
	cb.mu.Lock()
	user, ok := cb.owners[conn]
	cb.mu.Unlock()
	return user, ok
}

// IsOnline reports whether user has at least one live connection.
func (r *Registry) IsOnline(user string) bool {
	b := r.userBucket(user)
	b.mu.Lock()
	_, ok := b.users[user]
	b.mu.Unlock()
	return ok
}

// Connections returns the live connection ids of user, sorted.
func (r *Registry) Connections(user string) []string {
	b := r.userBucket(user)
	b.mu.Lock()
	conns := lo.Keys(b.users[user])
	b.mu.Unlock()
	sort.Strings(conns)
	return conns
}

// OnlineUsers returns every user with at least one live connection, sorted.
// Buckets are visited one at a time, so the result is a best-effort snapshot
// under concurrent connects and disconnects.
func (r *Registry) OnlineUsers() []string {
	var users []string
	for i := range r.users {
		b := &r.users[i]
		b.mu.Lock()
		users = append(users, lo.Keys(b.users)...)
		b.mu.Unlock()
	}
	sort.Strings(users)
	return users
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	n := 0
	for i := range r.users {
		b := &r.users[i]
		b.mu.Lock()
		n += len(b.users)
		b.mu.Unlock()
	}
	return n
}
