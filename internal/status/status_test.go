package status

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := map[string]Status{
		"online":    Online,
		"IDLE":      Idle,
		" busy ":    Busy,
		"Invisible": Invisible,
		"away":      Online,
		"":          Online,
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSetStatusPersists(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo, time.Second)

	if got := s.SetStatus("alice", "busy"); got != Busy {
		t.Fatalf("SetStatus = %q, want busy", got)
	}
	s.Flush()

	if got := s.Get("alice"); got != Busy {
		t.Fatalf("Get = %q, want busy", got)
	}
	pref, err := repo.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pref.Status != Busy || !pref.ExpiresAt.IsZero() {
		t.Fatalf("stored = %+v, want busy without expiry", pref)
	}
}

func TestSetStatusOnlineClearsOverride(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo, time.Second)

	s.SetStatus("alice", "idle")
	s.Flush()
	s.SetStatus("alice", "online")
	s.Flush()

	if _, ok := s.Snapshot()["alice"]; ok {
		t.Fatal("online user should not appear in snapshot")
	}
	if _, err := repo.Load(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load err = %v, want ErrNotFound", err)
	}
}

func TestSetStatusUnknownNormalizesToOnline(t *testing.T) {
	s := NewStore(NewMemoryRepository(), time.Second)
	s.SetStatus("alice", "busy")
	if got := s.SetStatus("alice", "on-a-boat"); got != Online {
		t.Fatalf("SetStatus = %q, want online", got)
	}
	s.Flush()
	if got := s.Get("alice"); got != Online {
		t.Fatalf("Get = %q, want online", got)
	}
}

func TestSetStatusTimedRecordsExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo, time.Second)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }

	e := s.SetStatusTimed("alice", "idle", 60_000)
	s.Flush()

	want := base.Add(time.Minute)
	if e.Status != Idle || !e.ExpiresAt.Equal(want) {
		t.Fatalf("entry = %+v, want idle until %v", e, want)
	}
	pref, err := repo.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !pref.ExpiresAt.Equal(want) {
		t.Fatalf("stored expiry = %v, want %v", pref.ExpiresAt, want)
	}
}

func TestSetStatusTimedClampsHugeDuration(t *testing.T) {
	s := NewStore(NewMemoryRepository(), time.Second)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return base }

	e := s.SetStatusTimed("alice", "busy", math.MaxInt64/1000)
	s.Flush()

	if want := base.Add(MaxTimedDuration); !e.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %v, want %v", e.ExpiresAt, want)
	}
	if got := s.Get("alice"); got != Busy {
		t.Fatalf("Get = %q, want busy", got)
	}
	if expired := s.ExpireDue(); len(expired) != 0 {
		t.Fatalf("clamped status expired immediately: %v", expired)
	}
}

func TestSetStatusTimedNonPositiveDuration(t *testing.T) {
	s := NewStore(NewMemoryRepository(), time.Second)
	e := s.SetStatusTimed("alice", "busy", 0)
	if e.Status != Busy || !e.ExpiresAt.IsZero() {
		t.Fatalf("entry = %+v, want busy without expiry", e)
	}
	s.Flush()
}

func TestPersistFailureDoesNotAffectMemory(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetErr(errors.New("db down"))
	s := NewStore(repo, time.Second)

	if got := s.SetStatus("alice", "busy"); got != Busy {
		t.Fatalf("SetStatus = %q, want busy", got)
	}
	s.Flush()
	if got := s.Get("alice"); got != Busy {
		t.Fatalf("Get = %q, want busy despite persistence failure", got)
	}
}

func TestReconcileApplies(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Save(context.Background(), "alice", Preference{Status: Invisible})
	s := NewStore(repo, time.Second)

	res := s.ReconcileOnConnect(context.Background(), "alice")
	if res.Action != ReconcileApplied || res.Status != Invisible {
		t.Fatalf("result = %+v, want applied invisible", res)
	}
	if got := s.Snapshot()["alice"]; got != Invisible {
		t.Fatalf("snapshot = %q, want invisible", got)
	}
}

func TestReconcileExpired(t *testing.T) {
	repo := NewMemoryRepository()
	past := time.Now().Add(-time.Minute)
	repo.Save(context.Background(), "alice", Preference{Status: Busy, ExpiresAt: past})
	s := NewStore(repo, time.Second)

	res := s.ReconcileOnConnect(context.Background(), "alice")
	s.Flush()

	if res.Action != ReconcileExpired || res.Status != Online {
		t.Fatalf("result = %+v, want expired online", res)
	}
	if _, err := repo.Load(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired override should be cleared, Load err = %v", err)
	}
	if got := s.Get("alice"); got != Online {
		t.Fatalf("Get = %q, want online", got)
	}
}

func TestReconcileNothingStored(t *testing.T) {
	s := NewStore(NewMemoryRepository(), time.Second)
	if res := s.ReconcileOnConnect(context.Background(), "alice"); res.Action != ReconcileNone {
		t.Fatalf("action = %v, want none", res.Action)
	}
}

func TestReconcileLoadFailure(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SetErr(errors.New("db down"))
	s := NewStore(repo, time.Second)

	if res := s.ReconcileOnConnect(context.Background(), "alice"); res.Action != ReconcileNone {
		t.Fatalf("action = %v, want none on load failure", res.Action)
	}
}

func TestForget(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo, time.Second)
	s.SetStatus("alice", "busy")
	s.Flush()

	s.Forget("alice")
	if got := s.Get("alice"); got != Online {
		t.Fatalf("Get after Forget = %q, want online", got)
	}
	if _, err := repo.Load(context.Background(), "alice"); err != nil {
		t.Fatalf("Forget must not clear the stored preference: %v", err)
	}
}

func TestExpireDue(t *testing.T) {
	repo := NewMemoryRepository()
	s := NewStore(repo, time.Second)
	base := time.Now()
	s.now = func() time.Time { return base }

	s.SetStatusTimed("alice", "busy", 1000)
	s.SetStatusTimed("bob", "idle", 60_000)
	s.SetStatus("carol", "invisible")
	s.Flush()

	s.now = func() time.Time { return base.Add(2 * time.Second) }
	if snap := s.Snapshot(); len(snap) != 2 {
		t.Fatalf("snapshot = %v, want expired entry hidden", snap)
	}

	expired := s.ExpireDue()
	s.Flush()
	if len(expired) != 1 || expired[0] != "alice" {
		t.Fatalf("expired = %v, want [alice]", expired)
	}
	if _, err := repo.Load(context.Background(), "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired override should be cleared, Load err = %v", err)
	}
	if len(s.ExpireDue()) != 0 {
		t.Fatal("second ExpireDue should find nothing")
	}
}

func TestRunSweeper(t *testing.T) {
	s := NewStore(nil, time.Second)
	s.SetStatusTimed("alice", "busy", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan []string, 1)
	go RunSweeper(ctx, s, 5*time.Millisecond, func(users []string) {
		select {
		case got <- users:
		default:
		}
	})

	select {
	case users := <-got:
		if len(users) != 1 || users[0] != "alice" {
			t.Fatalf("swept = %v, want [alice]", users)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not expire the timed status")
	}
}

// orderedRepo records the final value per user and the number of writes.
type orderedRepo struct {
	*MemoryRepository
	mu     sync.Mutex
	writes int
}

func (r *orderedRepo) Save(ctx context.Context, userID string, pref Preference) error {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	time.Sleep(time.Millisecond)
	return r.MemoryRepository.Save(ctx, userID, pref)
}

func TestLatestWriteWins(t *testing.T) {
	repo := &orderedRepo{MemoryRepository: NewMemoryRepository()}
	s := NewStore(repo, time.Second)

	statuses := []string{"idle", "busy", "invisible"}
	for i := 0; i < 30; i++ {
		s.SetStatus("alice", statuses[i%len(statuses)])
	}
	s.SetStatus("alice", "busy")
	s.Flush()

	pref, err := repo.Load(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if pref.Status != Busy {
		t.Fatalf("stored = %q, want the last write (busy)", pref.Status)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.writes > 31 {
		t.Fatalf("writes = %d, want at most 31", repo.writes)
	}
}

func TestConcurrentUsers(t *testing.T) {
	s := NewStore(NewMemoryRepository(), time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.SetStatus(fmt.Sprintf("user-%d", i), "busy")
		}(i)
	}
	wg.Wait()
	s.Flush()

	if n := len(s.Snapshot()); n != 50 {
		t.Fatalf("snapshot size = %d, want 50", n)
	}
}
