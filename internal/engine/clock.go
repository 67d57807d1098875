package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the monotonic logical clock that orders operations.
//
// Every operation is stamped with a strictly increasing seq from Next. The
// seq, never the wall clock, defines the order of the log and of replay.
// Safe for concurrent use, though only the Run loop calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock positioned at start, so the next seq is
// start+1. Used to resume after recovery.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// TimeSource supplies the time stamped on operations that arrive without
// one. The ledger itself never reads the wall clock.
type TimeSource interface {
	Now() time.Time
}

// SystemTime reads the wall clock in UTC.
type SystemTime struct{}

// Now implements TimeSource.
func (SystemTime) Now() time.Time {
	return time.Now().UTC()
}
