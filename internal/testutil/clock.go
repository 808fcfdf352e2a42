package testutil

import (
	"sync"
	"time"
)

// SteppingClock is a wall clock for tests that moves forward by a fixed step
// on every call to Now, so successive events get distinct, predictable times.
//
// Unlike clock.Fake it never needs to be advanced by hand, and it can be reset
// so one scenario can run repeatedly with identical timestamps.
//
// Thread-safety: All methods are safe for concurrent use.
type SteppingClock struct {
	mu    sync.Mutex
	start time.Time
	step  time.Duration
	calls int64
}

// NewSteppingClock creates a clock whose first Now returns start.
func NewSteppingClock(start time.Time, step time.Duration) *SteppingClock {
	return &SteppingClock{start: start.UTC(), step: step}
}

// Now returns start + calls*step and counts the call.
func (c *SteppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.start.Add(time.Duration(c.calls) * c.step)
	c.calls++
	return t
}

// Calls returns how many times Now has been called.
func (c *SteppingClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Reset rewinds the clock. The next call to Now returns start.
func (c *SteppingClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = 0
}
