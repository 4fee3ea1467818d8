package testutil

import "sync/atomic"

// DeterministicClock is a logical clock for traces and changefeed
// sequencing in tests. The first Next returns 1.
//
// Unlike changefeed.Counter it can be Reset, so one scenario can run
// twice with identical sequence numbers. Safe for concurrent use.
type DeterministicClock struct {
	seq atomic.Int64
}

// NewDeterministicClock returns a clock at 0.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next advances the clock and returns the new value.
//
// Implements changefeed.Sequencer.
func (c *DeterministicClock) Next() int64 { return c.seq.Add(1) }

// Current returns the last value handed out, 0 before the first Next.
func (c *DeterministicClock) Current() int64 { return c.seq.Load() }

// Reset rewinds the clock to 0.
func (c *DeterministicClock) Reset() { c.seq.Store(0) }
