package frameslot

import (
	"testing"

	"github.com/projectlend/lend/internal/types"
)

func frame(seq uint64) *types.Frame {
	return &types.Frame{Seq: seq, Width: 2, Height: 2, Format: types.FormatRGB24, Data: make([]byte, 12)}
}

// TestTakeConsumes verifies Take returns each frame at most once.
func TestTakeConsumes(t *testing.T) {
	s := New()

	if got := s.Take(); got != nil {
		t.Fatalf("expected nil from empty slot, got seq %d", got.Seq)
	}

	s.Put(frame(1))
	got := s.Take()
	if got == nil || got.Seq != 1 {
		t.Fatalf("expected seq 1, got %v", got)
	}
	if got := s.Take(); got != nil {
		t.Fatalf("expected nil after consuming, got seq %d", got.Seq)
	}
}

// TestPutOverwritesPending verifies last-write-wins and drop counting.
func TestPutOverwritesPending(t *testing.T) {
	s := New()

	s.Put(frame(1))
	s.Put(frame(2))
	s.Put(frame(3))

	got := s.Take()
	if got == nil || got.Seq != 3 {
		t.Fatalf("expected newest frame (seq 3), got %v", got)
	}

	stats := s.Stats()
	if stats.Puts != 3 {
		t.Errorf("expected 3 puts, got %d", stats.Puts)
	}
	if stats.Drops != 2 {
		t.Errorf("expected 2 drops, got %d", stats.Drops)
	}
	if stats.Consumed != 1 {
		t.Errorf("expected 1 consumed, got %d", stats.Consumed)
	}
}

// TestLatestDoesNotConsume verifies Latest peeks without affecting Take.
func TestLatestDoesNotConsume(t *testing.T) {
	s := New()
	s.Put(frame(7))

	if got := s.Latest(); got == nil || got.Seq != 7 {
		t.Fatalf("expected latest seq 7, got %v", got)
	}
	if got := s.Take(); got == nil || got.Seq != 7 {
		t.Fatalf("Latest should not consume; Take got %v", got)
	}
	// After Take, Latest still serves the most recent frame.
	if got := s.Latest(); got == nil || got.Seq != 7 {
		t.Fatalf("expected latest to persist after Take, got %v", got)
	}
}
