package engine

import "sync/atomic"

// Clock is the monotonic frame counter.
//
// Frame numbers order everything the engine records (sync data, faults,
// kill requests). They never come from wall time, so a replayed scenario
// produces the same numbers.
//
// Thread-safety: Clock is safe for concurrent use. Only Step advances it;
// the sim and render goroutines and fault hooks read it.
type Clock struct {
	frame atomic.Int64
}

// NewClock creates a clock at frame 0 (before the first frame).
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next frame is start+1.
// Used to resume a session from a saved frame.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.frame.Store(start)
	return c
}

// Next advances to the next frame and returns its number.
func (c *Clock) Next() int64 {
	return c.frame.Add(1)
}

// Current returns the current frame without advancing.
func (c *Clock) Current() int64 {
	return c.frame.Load()
}
