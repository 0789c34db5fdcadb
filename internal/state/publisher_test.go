package state

import (
	"testing"

	"github.com/projectlend/lend/internal/types"
)

// TestPublishRead verifies readers see the latest snapshot.
func TestPublishRead(t *testing.T) {
	p := New()

	if got := p.Read(); got.Mode != types.ModeIdle {
		t.Fatalf("expected initial idle mode, got %q", got.Mode)
	}

	p.Publish(types.ModeWatching, "watching for donations")

	got := p.Read()
	if got.Mode != types.ModeWatching {
		t.Errorf("expected watching, got %q", got.Mode)
	}
	if got.StatusText != "watching for donations" {
		t.Errorf("unexpected status text %q", got.StatusText)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

// TestPublishKeepsLastResult verifies Publish leaves the result intact while
// PublishResult replaces it.
func TestPublishKeepsLastResult(t *testing.T) {
	p := New()

	result := &types.ResultSummary{Category: types.CategoryDrink, ItemName: "Water bottle"}
	p.PublishResult(types.ModeCooldown, "donation complete", result)

	p.Publish(types.ModeWatching, "watching")
	got := p.Read()
	if got.LastResult == nil || got.LastResult.ItemName != "Water bottle" {
		t.Fatalf("expected last result to survive Publish, got %+v", got.LastResult)
	}

	p.PublishResult(types.ModeWatching, "watching", nil)
	if got := p.Read(); got.LastResult != nil {
		t.Errorf("expected cleared result, got %+v", got.LastResult)
	}
}

// TestListener verifies the listener fires with a copy of each snapshot.
func TestListener(t *testing.T) {
	p := New()

	var seen []types.PipelineSnapshot
	p.OnUpdate(func(snap types.PipelineSnapshot) {
		seen = append(seen, snap)
	})

	p.Publish(types.ModeWatching, "watching")
	p.Publish(types.ModeSettling, "settling")

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if seen[0].Mode != types.ModeWatching || seen[1].Mode != types.ModeSettling {
		t.Errorf("unexpected notification order: %q, %q", seen[0].Mode, seen[1].Mode)
	}
}
