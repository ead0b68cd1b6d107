// Package typing keeps the ephemeral "who is typing" sets per channel and per
// direct-message conversation. Every indicator carries an expiry timer; an
// indicator is present exactly while its timer is live, and removal always
// cancels the timer in the same critical section.
//
// Start, stop and expiry transitions are announced through callbacks that
// run outside the bucket lock, in the order the transitions were applied.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/whisper/realtime/internal/shard"
)

// DefaultTTL is how long an indicator lives without being refreshed.
const DefaultTTL = 5000 * time.Millisecond

// ExpireFunc is called, outside any lock, when an indicator times out.
// Calls for one bucket never overlap with its other announcements.
type ExpireFunc func(scope Scope, user string)

type entry struct {
	timer *Timer
}

type bucket struct {
	mu     sync.Mutex
	scopes map[Scope]map[string]*entry
	seq    *sequencer
}

// Tracker holds typing indicators. Scopes are spread over lock buckets; a
// call never holds more than one bucket lock and never calls out while
// holding one.
type Tracker struct {
	ttl      time.Duration
	onExpire ExpireFunc
	buckets  [shard.DefaultCount]bucket
}

// NewTracker creates a Tracker whose indicators expire after ttl. A
// non-positive ttl selects DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{ttl: ttl}
	for i := range t.buckets {
		t.buckets[i].scopes = make(map[Scope]map[string]*entry)
		t.buckets[i].seq = newSequencer()
	}
	return t
}

// SetOnExpire registers the callback for timed-out indicators. It must be
// called before the tracker is used.
func (t *Tracker) SetOnExpire(fn ExpireFunc) {
	t.onExpire = fn
}

// TTL returns the indicator lifetime.
func (t *Tracker) TTL() time.Duration {
	return t.ttl
}

func (t *Tracker) bucket(scope Scope) *bucket {
	return &t.buckets[shard.Index(scope.Key(), shard.DefaultCount)]
}

// StartTyping marks user as typing in scope and (re)arms its expiry. Any
// previous timer for the pair is cancelled first. It returns true only when
// the user was not already typing there, and only then runs announce.
func (t *Tracker) StartTyping(scope Scope, user string, announce func()) bool {
	b := t.bucket(scope)
	b.mu.Lock()

	users, ok := b.scopes[scope]
	if !ok {
		users = make(map[string]*entry)
		b.scopes[scope] = users
	}

	old, existed := users[user]
	if existed {
		old.timer.Cancel()
	}

	e := &entry{}
	users[user] = e
	// The callback needs the bucket lock we hold, so even a timer that fires
	// immediately observes e installed.
	e.timer = AfterFunc(t.ttl, func() { t.expire(scope, user, e) })

	if existed {
		b.mu.Unlock()
		return false
	}
	ticket := b.seq.ticket()
	b.mu.Unlock()

	b.seq.run(ticket, announce)
	return true
}

// StopTyping removes user from scope. It returns true only when the user was
// typing there, so a stop racing the expiry produces a single transition;
// announce runs only in that case.
func (t *Tracker) StopTyping(scope Scope, user string, announce func()) bool {
	b := t.bucket(scope)
	b.mu.Lock()

	users := b.scopes[scope]
	e, ok := users[user]
	if !ok {
		b.mu.Unlock()
		return false
	}
	e.timer.Cancel()
	delete(users, user)
	if len(users) == 0 {
		delete(b.scopes, scope)
	}
	ticket := b.seq.ticket()
	b.mu.Unlock()

	b.seq.run(ticket, announce)
	return true
}

// expire removes the indicator only if e is still the installed entry; a
// timer replaced by a later StartTyping finds a different entry and does
// nothing.
func (t *Tracker) expire(scope Scope, user string, e *entry) {
	b := t.bucket(scope)
	b.mu.Lock()
	users := b.scopes[scope]
	cur, ok := users[user]
	if !ok || cur != e {
		b.mu.Unlock()
		return
	}
	delete(users, user)
	if len(users) == 0 {
		delete(b.scopes, scope)
	}
	ticket := b.seq.ticket()
	b.mu.Unlock()

	b.seq.run(ticket, func() {
		if t.onExpire != nil {
			t.onExpire(scope, user)
		}
	})
}

// OnUserDisconnected removes user from every scope, cancelling each timer
// before returning. announce, if non-nil, runs once per removed scope; it is
// ordered with the other announcements of the scope's bucket. The removed
// scopes are returned ordered by key.
func (t *Tracker) OnUserDisconnected(user string, announce func(Scope)) []Scope {
	var all []Scope
	for i := range t.buckets {
		b := &t.buckets[i]
		var removed []Scope
		b.mu.Lock()
		for scope, users := range b.scopes {
			e, ok := users[user]
			if !ok {
				continue
			}
			e.timer.Cancel()
			delete(users, user)
			if len(users) == 0 {
				delete(b.scopes, scope)
			}
			removed = append(removed, scope)
		}
		if len(removed) == 0 {
			b.mu.Unlock()
			continue
		}
		ticket := b.seq.ticket()
		b.mu.Unlock()

		sortScopes(removed)
		b.seq.run(ticket, func() {
			if announce == nil {
				return
			}
			for _, scope := range removed {
				announce(scope)
			}
		})
		all = append(all, removed...)
	}
	sortScopes(all)
	return all
}

func sortScopes(scopes []Scope) {
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Key() < scopes[j].Key() })
}

// Typers returns the users currently typing in scope, sorted.
func (t *Tracker) Typers(scope Scope) []string {
	b := t.bucket(scope)
	b.mu.Lock()
	users := lo.Keys(b.scopes[scope])
	b.mu.Unlock()
	sort.Strings(users)
	return users
}

// IsTyping reports whether user is typing in scope.
func (t *Tracker) IsTyping(scope Scope, user string) bool {
	b := t.bucket(scope)
	b.mu.Lock()
	_, ok := b.scopes[scope][user]
	b.mu.Unlock()
	return ok
}

// Active returns the total number of live indicators.
func (t *Tracker) Active() int {
	n := 0
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.Lock()
		for _, users := range b.scopes {
			n += len(users)
		}
		b.mu.Unlock()
	}
	return n
}
