package typing

import (
	"sync/atomic"
	"time"
)

// Timer is a one-shot expiry that can be cancelled. Exactly one of Cancel and
// the expiry callback wins: once Cancel returns true the callback will never
// run, and once the callback has started Cancel returns false.
type Timer struct {
	t    *time.Timer
	done atomic.Bool
}

// AfterFunc arms a Timer that calls f after d unless cancelled first.
func AfterFunc(d time.Duration, f func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() {
		if tm.done.CompareAndSwap(false, true) {
			f()
		}
	})
	return tm
}

// Cancel disarms the timer. It reports whether the callback was prevented.
func (tm *Timer) Cancel() bool {
	if !tm.done.CompareAndSwap(false, true) {
		return false
	}
	tm.t.Stop()
	return true
}

// Done reports whether the timer has fired or been cancelled.
func (tm *Timer) Done() bool {
	return tm.done.Load()
}
