package status

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/whisper/realtime/internal/metrics"
	"github.com/whisper/realtime/internal/shard"
)

// DefaultPersistTimeout bounds a single background repository call.
const DefaultPersistTimeout = 5 * time.Second

// MaxTimedDuration caps the expiry of a timed status. Longer requests are
// clamped to it.
const MaxTimedDuration = 366 * 24 * time.Hour

// Entry is the in-memory status of a user. A zero ExpiresAt means the
// status holds until changed.
type Entry struct {
	Status    Status
	ExpiresAt time.Time
}

// ReconcileAction describes what ReconcileOnConnect did.
type ReconcileAction int

const (
	// ReconcileNone means there was nothing to apply.
	ReconcileNone ReconcileAction = iota
	// ReconcileApplied means a stored override was loaded into memory.
	ReconcileApplied
	// ReconcileExpired means a stored override had expired and was cleared;
	// the user is back to online.
	ReconcileExpired
)

// ReconcileResult is returned by ReconcileOnConnect.
type ReconcileResult struct {
	Action    ReconcileAction
	Status    Status
	ExpiresAt time.Time
}

// Store holds user statuses in memory and mirrors changes to a Repository
// in the background. Only non-online statuses are kept; a user without an
// entry is online.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry

	repo    Repository
	timeout time.Duration
	now     func() time.Time

	// Background writes for one user run in submission order; a write that
	// has been superseded by a newer one for the same user is skipped.
	seqMu   sync.Mutex
	seq     uint64
	latest  map[string]uint64
	writeMu [shard.DefaultCount]sync.Mutex
	pending sync.WaitGroup
}

// NewStore creates a Store backed by repo. A nil repo keeps statuses in
// memory only. A non-positive timeout selects DefaultPersistTimeout.
func NewStore(repo Repository, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Store{
		entries: make(map[string]Entry),
		repo:    repo,
		timeout: timeout,
		now:     time.Now,
		latest:  make(map[string]uint64),
	}
}

// SetStatus normalizes raw and records it for user. Setting online removes
// the in-memory entry and clears the stored override. The normalized
// status is returned for broadcasting.
func (s *Store) SetStatus(user, raw string) Status {
	st := Normalize(raw)

	s.mu.Lock()
	if st == Online {
		delete(s.entries, user)
	} else {
		s.entries[user] = Entry{Status: st}
	}
	s.mu.Unlock()

	if st == Online {
		s.clearAsync(user)
	} else {
		s.saveAsync(user, Preference{Status: st})
	}
	return st
}

// SetStatusTimed is SetStatus with an expiry durationMs from now. A
// non-positive duration behaves like SetStatus; durations above
// MaxTimedDuration are clamped.
func (s *Store) SetStatusTimed(user, raw string, durationMs int64) Entry {
	if durationMs <= 0 {
		return Entry{Status: s.SetStatus(user, raw)}
	}
	st := Normalize(raw)
	if st == Online {
		return Entry{Status: s.SetStatus(user, raw)}
	}

	d := MaxTimedDuration
	if durationMs < int64(MaxTimedDuration/time.Millisecond) {
		d = time.Duration(durationMs) * time.Millisecond
	}
	e := Entry{
		Status:    st,
		ExpiresAt: s.now().Add(d),
	}

	s.mu.Lock()
	s.entries[user] = e
	s.mu.Unlock()

	s.saveAsync(user, Preference{Status: st, ExpiresAt: e.ExpiresAt})
	return e
}

// ReconcileOnConnect loads the stored preference for user. A live non-online
// override is applied to memory. An expired one is cleared from the store
// and from memory. Repository failures are logged and treated as no stored
// preference.
func (s *Store) ReconcileOnConnect(ctx context.Context, user string) ReconcileResult {
	if s.repo == nil {
		return ReconcileResult{Action: ReconcileNone, Status: s.Get(user)}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pref, err := s.repo.Load(ctx, user)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("[status] reconcile load user=%s: %v", user, err)
			metrics.StatusPersistFailures.WithLabelValues("load").Inc()
		}
		return ReconcileResult{Action: ReconcileNone, Status: s.Get(user)}
	}

	if pref.Status == Online {
		return ReconcileResult{Action: ReconcileNone, Status: s.Get(user)}
	}

	if pref.Expired(s.now()) {
		s.mu.Lock()
		delete(s.entries, user)
		s.mu.Unlock()
		s.clearAsync(user)
		return ReconcileResult{Action: ReconcileExpired, Status: Online}
	}

	s.mu.Lock()
	s.entries[user] = Entry{Status: pref.Status, ExpiresAt: pref.ExpiresAt}
	s.mu.Unlock()
	return ReconcileResult{Action: ReconcileApplied, Status: pref.Status, ExpiresAt: pref.ExpiresAt}
}

// Get returns the current status of user.
func (s *Store) Get(user string) Status {
	s.mu.RLock()
	e, ok := s.entries[user]
	s.mu.RUnlock()
	if !ok || (!e.ExpiresAt.IsZero() && !s.now().Before(e.ExpiresAt)) {
		return Online
	}
	return e.Status
}

// Snapshot returns a copy of every non-online, unexpired status.
func (s *Store) Snapshot() map[string]Status {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Status, len(s.entries))
	for user, e := range s.entries {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			continue
		}
		out[user] = e.Status
	}
	return out
}

// Forget drops the in-memory entry for user without touching the store.
// It is called when a user goes offline.
func (s *Store) Forget(user string) {
	s.mu.Lock()
	delete(s.entries, user)
	s.mu.Unlock()
}

// ExpireDue removes every timed entry whose deadline has passed, clears the
// matching stored overrides, and returns the affected users.
func (s *Store) ExpireDue() []string {
	now := s.now()

	var expired []string
	s.mu.Lock()
	for user, e := range s.entries {
		if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
			delete(s.entries, user)
			expired = append(expired, user)
		}
	}
	s.mu.Unlock()

	for _, user := range expired {
		s.clearAsync(user)
	}
	return expired
}

// Flush blocks until every background write submitted so far has finished.
func (s *Store) Flush() {
	s.pending.Wait()
}

func (s *Store) saveAsync(user string, pref Preference) {
	s.persist(user, "save", func(ctx context.Context) error {
		return s.repo.Save(ctx, user, pref)
	})
}

func (s *Store) clearAsync(user string) {
	s.persist(user, "clear", func(ctx context.Context) error {
		return s.repo.Clear(ctx, user)
	})
}

func (s *Store) persist(user, op string, fn func(ctx context.Context) error) {
	if s.repo == nil {
		return
	}

	s.seqMu.Lock()
	s.seq++
	mine := s.seq
	s.latest[user] = mine
	s.seqMu.Unlock()

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		mu := &s.writeMu[shard.Index(user, shard.DefaultCount)]
		mu.Lock()
		defer mu.Unlock()

		if !s.isLatest(user, mine) {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("[status] %s user=%s: %v", op, user, err)
			metrics.StatusPersistFailures.WithLabelValues(op).Inc()
		}

		s.seqMu.Lock()
		if s.latest[user] == mine {
			delete(s.latest, user)
		}
		s.seqMu.Unlock()
	}()
}

func (s *Store) isLatest(user string, seq uint64) bool {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	return s.latest[user] == seq
}
