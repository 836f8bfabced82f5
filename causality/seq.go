package causality

import "sync/atomic"

// Sequencer hands out a strictly increasing sequence number per session.
// The zero value is ready to use; NewSequencer returns one. Safe for
// concurrent use.
type Sequencer struct {
	counter atomic.Uint64
}

// NewSequencer creates a Sequencer whose first Next() call returns 1.
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Next returns the next sequence value. Starts at 1 and never decreases
// or resets within the Sequencer's lifetime.
func (s *Sequencer) Next() uint64 {
	return s.counter.Add(1)
}
