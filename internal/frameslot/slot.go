// Package frameslot implements a single-slot, last-write-wins frame mailbox.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// The capture flow publishes every frame; the controller tick flow takes the
// newest unconsumed frame and external consumers (MJPEG relay, /frame.jpg)
// peek at the latest without consuming it. Overwritten frames are counted,
// not errors: drops are the mailbox working as designed.
package frameslot

import (
	"sync"
	"time"

	"github.com/projectlend/lend/internal/types"
)

// Slot is the mutex-guarded current-frame holder shared between the capture
// flow and its consumers. All methods are safe for concurrent use.
type Slot struct {
	mu sync.Mutex

	latest   *types.Frame // most recent frame ever put (for Latest)
	pending  *types.Frame // unconsumed frame (nil = consumed, for Take)
	lastPut  time.Time
	puts     uint64
	drops    uint64 // pending overwritten before being taken
	consumed uint64
}

// New creates an empty slot.
func New() *Slot {
	return &Slot{}
}

// Put stores a frame, overwriting any unconsumed one. Non-blocking.
//
// Contract: the caller must not modify frame.Data after Put (frames are
// shared by reference, immutability contract).
func (s *Slot) Put(frame *types.Frame) {
	if frame == nil {
		return
	}
	s.mu.Lock()
	if s.pending != nil {
		s.drops++
	}
	s.pending = frame
	s.latest = frame
	s.lastPut = time.Now()
	s.puts++
	s.mu.Unlock()
}

// Take returns the newest unconsumed frame, or nil if nothing arrived since
// the previous Take. Consuming semantics: each frame is taken at most once.
func (s *Slot) Take() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	frame := s.pending
	if frame != nil {
		s.pending = nil
		s.consumed++
	}
	return frame
}

// Latest returns the most recent frame without consuming it, or nil if no
// frame has ever been put.
func (s *Slot) Latest() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Stats is a snapshot of slot counters.
type Stats struct {
	Puts     uint64 `json:"puts"`
	Drops    uint64 `json:"drops"`
	Consumed uint64 `json:"consumed"`
	// LastPut is the timestamp of the most recent Put (zero if none)
	LastPut time.Time `json:"last_put"`
}

// Stats returns a snapshot of the slot's counters.
func (s *Slot) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Puts:     s.puts,
		Drops:    s.drops,
		Consumed: s.consumed,
		LastPut:  s.lastPut,
	}
}
