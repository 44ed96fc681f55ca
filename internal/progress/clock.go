package progress

import "sync/atomic"

// Clock is the monotonic logical clock that stamps event Seq.
//
// Seq never comes from wall time, so two runs over the same inputs emit the
// same sequence numbers. Safe for concurrent use; with parallel workers
// every event still gets a unique, increasing value.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
