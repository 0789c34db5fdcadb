package records

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectlend/lend/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "donations.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestAppendAndGet verifies round-tripping a full record.
func TestAppendAndGet(t *testing.T) {
	store := openTestStore(t)

	weight := 1.2
	expiry := "2026-10-01"
	id, err := store.Append(types.DonationRecord{
		Category:           types.CategoryDrink,
		ItemName:           "Water bottle",
		EstimatedWeightLbs: &weight,
		EstimatedExpiry:    &expiry,
		Timestamp:          time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Category != types.CategoryDrink || got.ItemName != "Water bottle" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.EstimatedWeightLbs == nil || *got.EstimatedWeightLbs != 1.2 {
		t.Errorf("unexpected weight: %v", got.EstimatedWeightLbs)
	}
	if got.EstimatedExpiry == nil || *got.EstimatedExpiry != "2026-10-01" {
		t.Errorf("unexpected expiry: %v", got.EstimatedExpiry)
	}
	if !got.Timestamp.Equal(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected timestamp: %v", got.Timestamp)
	}
}

// TestAppendRejectsInvalidCategory verifies the closed category set holds at
// the persistence boundary too.
func TestAppendRejectsInvalidCategory(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Append(types.DonationRecord{Category: "gadget", ItemName: "x"}); err == nil {
		t.Error("expected error for invalid category")
	}
}

// TestRecentOrdersNewestFirst verifies Recent ordering and limit.
func TestRecentOrdersNewestFirst(t *testing.T) {
	store := openTestStore(t)

	names := []string{"Apple", "Chips", "Juice"}
	for _, n := range names {
		if _, err := store.Append(types.DonationRecord{Category: types.CategorySnack, ItemName: n}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	recs, err := store.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ItemName != "Juice" || recs[1].ItemName != "Chips" {
		t.Errorf("unexpected order: %q, %q", recs[0].ItemName, recs[1].ItemName)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 3 || all[0].ItemName != "Apple" {
		t.Errorf("expected oldest-first All, got %+v", all)
	}
}

// TestStats verifies totals and that every category appears in the map.
func TestStats(t *testing.T) {
	store := openTestStore(t)

	w1, w2 := 0.5, 1.5
	store.Append(types.DonationRecord{Category: types.CategoryFruit, ItemName: "Apple", EstimatedWeightLbs: &w1})
	store.Append(types.DonationRecord{Category: types.CategoryFruit, ItemName: "Banana", EstimatedWeightLbs: &w2})
	store.Append(types.DonationRecord{Category: types.CategoryDrink, ItemName: "Juice"})

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalItems != 3 {
		t.Errorf("expected 3 items, got %d", stats.TotalItems)
	}
	if stats.TotalWeightLbs != 2.0 {
		t.Errorf("expected total weight 2.0, got %v", stats.TotalWeightLbs)
	}
	if stats.ByCategory["fruit"] != 2 || stats.ByCategory["drink"] != 1 {
		t.Errorf("unexpected category counts: %v", stats.ByCategory)
	}
	if _, ok := stats.ByCategory["snack"]; !ok {
		t.Error("expected zero-count snack entry in ByCategory")
	}
}

// TestAppendPersistsImagePath verifies a record written with an image path
// keeps it; rows are append-only, so the path must arrive with the insert.
func TestAppendPersistsImagePath(t *testing.T) {
	store := openTestStore(t)

	id, err := store.Append(types.DonationRecord{
		Category:  types.CategorySnack,
		ItemName:  "Chips",
		ImagePath: "data/images/donation_abc123.jpg",
	})
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ImagePath != "data/images/donation_abc123.jpg" {
		t.Errorf("unexpected image path %q", got.ImagePath)
	}
}

// TestImageSaver verifies snapshot files land under the images directory.
func TestImageSaver(t *testing.T) {
	dir := t.TempDir()
	saver, err := NewImageSaver(dir)
	if err != nil {
		t.Fatalf("NewImageSaver failed: %v", err)
	}

	path, err := saver.Save("trace-42", []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if filepath.Base(path) != "donation_trace-42.jpg" {
		t.Errorf("unexpected filename %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != 3 {
		t.Errorf("unexpected file contents: %v", data)
	}

	if _, err := saver.Save("trace-43", nil); err == nil {
		t.Error("expected error for empty jpeg")
	}
	if _, err := saver.Save("", []byte{0xff}); err == nil {
		t.Error("expected error for empty trace id")
	}
}
