package domain

import (
	"sync/atomic"
	"time"
)

// Sequencer hands out strictly increasing sequence numbers for status updates.
// Values track wall-clock nanoseconds. Processes that take over a resource from
// another writer call Observe with the stored sequence first, so a lagging clock
// still stamps above it.
type Sequencer struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewSequencer returns a Sequencer backed by the wall clock.
func NewSequencer() *Sequencer {
	return &Sequencer{now: time.Now}
}

// Next returns a value greater than every value previously returned by s.
func (s *Sequencer) Next() uint64 {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	candidate := uint64(now().UnixNano())
	for {
		prev := s.last.Load()
		next := candidate
		if next <= prev {
			next = prev + 1
		}
		if s.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Observe records seq as issued, so the next value from s is greater than it.
func (s *Sequencer) Observe(seq uint64) {
	for {
		prev := s.last.Load()
		if seq <= prev || s.last.CompareAndSwap(prev, seq) {
			return
		}
	}
}
