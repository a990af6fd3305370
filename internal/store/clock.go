package store

import "sync/atomic"

// Clock is the monotonic logical clock stamping local commits.
//
// All events carry a strictly increasing seq number from this clock.
// This ensures:
// - Deterministic ordering (no wall-clock race conditions)
// - Replay produces identical order
// - Causal relationships are explicit
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// The store's single-writer commit path means only one goroutine
// typically advances it.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used at startup to resume from the highest seq in the log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo raises the clock to at least seq. Called when remote events
// arrive with a higher seq, so the next local commit sorts after
// everything this replica has observed. Never moves backwards.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if cur >= seq {
			return
		}
		if c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}
