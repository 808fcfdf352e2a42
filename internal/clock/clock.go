// Package clock provides the injectable time source used for batch windows,
// throttle checks and node timestamps.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
//
// Production code uses System; tests inject a Fake so batch-window and
// recent-send checks are deterministic.
type Clock interface {
	Now() time.Time
}

// System is the wall clock. Times are returned in UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock for tests.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start.UTC()}
}

// Now returns the frozen time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Advance moves the clock forward by d and returns the new time.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}
