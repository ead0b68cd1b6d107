package typing

import "sync"

// sequencer runs announcements in the order their tickets were issued.
// Tickets are taken under the bucket lock together with the mutation they
// announce, then run after the lock is released.
type sequencer struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64 // guarded by the owning bucket's lock
	turn uint64
}

func newSequencer() *sequencer {
	s := &sequencer{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ticket reserves the next slot. The caller must hold the bucket lock and
// must pass the ticket to run exactly once.
func (s *sequencer) ticket() uint64 {
	t := s.next
	s.next++
	return t
}

// run waits for ticket's turn, calls fn and hands the turn on. fn may be
// nil.
func (s *sequencer) run(ticket uint64, fn func()) {
	s.mu.Lock()
	for s.turn != ticket {
		s.cond.Wait()
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.turn++
		s.cond.Broadcast()
		s.mu.Unlock()
	}()
	if fn != nil {
		fn()
	}
}
