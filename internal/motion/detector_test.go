package motion

import (
	"testing"

	"github.com/projectlend/lend/internal/types"
)

const (
	testW = 64
	testH = 64
)

// rgbFrame builds an RGB24 frame with a uniform background and an optional
// bright square at (x0,y0) of the given side length.
func rgbFrame(bg byte, x0, y0, side int) *types.Frame {
	data := make([]byte, testW*testH*3)
	for i := range data {
		data[i] = bg
	}
	for y := y0; y < y0+side && y < testH; y++ {
		for x := x0; x < x0+side && x < testW; x++ {
			i := (y*testW + x) * 3
			data[i], data[i+1], data[i+2] = 255, 255, 255
		}
	}
	return &types.Frame{Width: testW, Height: testH, Format: types.FormatRGB24, Data: data}
}

// TestNoMotionOnIdenticalFrames verifies identical frames produce zero area.
func TestNoMotionOnIdenticalFrames(t *testing.T) {
	d := New(30, 200)

	a, err := Gray(rgbFrame(20, 0, 0, 0))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}
	b, err := Gray(rgbFrame(20, 0, 0, 0))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}

	sample := d.Detect(a, b)
	if sample.IsMotion {
		t.Errorf("expected no motion, got area %d", sample.Area)
	}
	if sample.Area != 0 {
		t.Errorf("expected zero area, got %d", sample.Area)
	}
}

// TestMotionOnLargeRegion verifies a large bright region trips detection.
func TestMotionOnLargeRegion(t *testing.T) {
	d := New(30, 200)

	prev, err := Gray(rgbFrame(20, 0, 0, 0))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}
	curr, err := Gray(rgbFrame(20, 16, 16, 24))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}

	sample := d.Detect(prev, curr)
	if !sample.IsMotion {
		t.Fatalf("expected motion, got area %d (min %d)", sample.Area, d.MinArea)
	}
	if sample.Area < 200 {
		t.Errorf("expected area >= 200, got %d", sample.Area)
	}
}

// TestSmallRegionBelowMinArea verifies a tiny change does not count.
func TestSmallRegionBelowMinArea(t *testing.T) {
	d := New(30, 2000)

	prev, err := Gray(rgbFrame(20, 0, 0, 0))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}
	curr, err := Gray(rgbFrame(20, 30, 30, 6))
	if err != nil {
		t.Fatalf("Gray failed: %v", err)
	}

	sample := d.Detect(prev, curr)
	if sample.IsMotion {
		t.Errorf("expected no motion for small region, got area %d", sample.Area)
	}
}

// TestDetectDeterministic verifies the same inputs always produce the same
// sample.
func TestDetectDeterministic(t *testing.T) {
	d := New(30, 200)

	prev, _ := Gray(rgbFrame(20, 0, 0, 0))
	curr, _ := Gray(rgbFrame(20, 16, 16, 24))

	first := d.Detect(prev, curr)
	for i := 0; i < 5; i++ {
		got := d.Detect(prev, curr)
		if got != first {
			t.Fatalf("run %d differed: %+v vs %+v", i, got, first)
		}
	}
}

// TestMismatchedBoundsIsNoMotion verifies defensive handling of bad input.
func TestMismatchedBoundsIsNoMotion(t *testing.T) {
	d := New(30, 200)

	a, _ := Gray(rgbFrame(20, 0, 0, 0))
	small := &types.Frame{Width: 32, Height: 32, Format: types.FormatRGB24, Data: make([]byte, 32*32*3)}
	b, _ := Gray(small)

	sample := d.Detect(a, b)
	if sample.IsMotion || sample.Area != 0 {
		t.Errorf("expected empty sample for mismatched bounds, got %+v", sample)
	}
	if got := d.Detect(nil, a); got.IsMotion {
		t.Errorf("expected empty sample for nil frame, got %+v", got)
	}
}

// TestDefaults verifies New substitutes defaults for zero values.
func TestDefaults(t *testing.T) {
	d := New(0, 0)
	if d.Threshold != DefaultThreshold {
		t.Errorf("expected default threshold %d, got %d", DefaultThreshold, d.Threshold)
	}
	if d.MinArea != DefaultMinArea {
		t.Errorf("expected default min area %d, got %d", DefaultMinArea, d.MinArea)
	}
}
