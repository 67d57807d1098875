package testutil

import (
	"sync"
	"time"
)

// DefaultStart is the first instant handed out by NewSteppingTime when no
// start is given.
var DefaultStart = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// SteppingTime is a deterministic time source for tests. Each call to Now
// returns the current instant and then advances it by a fixed step, so the
// same scenario always stamps the same times.
//
// Thread-safety: all methods are safe for concurrent use.
type SteppingTime struct {
	mu    sync.Mutex
	start time.Time
	next  time.Time
	step  time.Duration
}

// NewSteppingTime returns a time source starting at start (DefaultStart if
// zero) that advances by step per call.
func NewSteppingTime(start time.Time, step time.Duration) *SteppingTime {
	if start.IsZero() {
		start = DefaultStart
	}
	start = start.UTC()
	return &SteppingTime{start: start, next: start, step: step}
}

// Now returns the current instant and advances the source.
func (c *SteppingTime) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns the instant the next Now call will return.
func (c *SteppingTime) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Advance moves the source forward by d without returning a time.
func (c *SteppingTime) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.next.Add(d)
}

// Reset rewinds the source to its start.
func (c *SteppingTime) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = c.start
}
