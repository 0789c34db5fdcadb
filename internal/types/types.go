package types

import "time"

// PixelFormat identifies the raw pixel layout of a Frame's Data buffer.
type PixelFormat string

const (
	// FormatRGB24 is packed 8-bit RGB, 3 bytes per pixel (GStreamer capture).
	FormatRGB24 PixelFormat = "RGB24"
	// FormatYUYV is packed 4:2:2 YUV, 2 bytes per pixel (V4L2 capture).
	FormatYUYV PixelFormat = "YUYV"
)

// Frame is a single captured video frame.
//
// Data is shared by reference across the pipeline. Immutability contract:
// the producer must not modify Data after handing the frame off, and
// consumers must treat it as read-only.
type Frame struct {
	// Seq is the monotonic sequence number assigned at capture
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Format describes the layout of Data
	Format PixelFormat
	// Data contains the raw frame bytes
	Data []byte
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// MotionSample is the result of comparing two consecutive frames.
// Derived every tick, never persisted.
type MotionSample struct {
	IsMotion bool
	// Area is the pixel area of the largest contiguous changed region
	Area int
}

// PipelineMode is the controller's state machine mode.
// Exactly one mode is active at a time; only the controller transitions it.
type PipelineMode string

const (
	ModeWarmup      PipelineMode = "warmup"
	ModeWatching    PipelineMode = "watching"
	ModeSettling    PipelineMode = "settling"
	ModeClassifying PipelineMode = "classifying"
	ModeSorting     PipelineMode = "sorting"
	ModeCooldown    PipelineMode = "cooldown"
	ModeError       PipelineMode = "error"
	ModeIdle        PipelineMode = "idle"
)

// Category is the closed set of sort destinations.
type Category string

const (
	CategoryFruit Category = "fruit"
	CategorySnack Category = "snack"
	CategoryDrink Category = "drink"
)

// Categories lists every known category in bin order.
func Categories() []Category {
	return []Category{CategoryFruit, CategorySnack, CategoryDrink}
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	switch c {
	case CategoryFruit, CategorySnack, CategoryDrink:
		return true
	}
	return false
}

// ClassificationResult is the classifier's answer for a single frame.
// Immutable once produced; exactly one per cycle.
type ClassificationResult struct {
	Category           Category `json:"category"`
	ItemName           string   `json:"item_name"`
	EstimatedWeightLbs *float64 `json:"estimated_weight_lbs,omitempty"`
	// EstimatedExpiry is a YYYY-MM-DD date string, when the classifier can tell
	EstimatedExpiry *string `json:"estimated_expiry,omitempty"`
}

// DonationRecord is the durable log entry for a completed classification.
// Created at most once per cycle, owned by the record sink, never mutated.
type DonationRecord struct {
	ID                 int64     `json:"id"`
	Category           Category  `json:"category"`
	ItemName           string    `json:"item_name"`
	EstimatedWeightLbs *float64  `json:"estimated_weight_lbs"`
	EstimatedExpiry    *string   `json:"estimated_expiry"`
	Timestamp          time.Time `json:"timestamp"`
	ImagePath          string    `json:"image_path,omitempty"`
	DonorID            *string   `json:"donor_id,omitempty"`
}

// ResultSummary is the snapshot-facing digest of the last classification.
type ResultSummary struct {
	Category Category `json:"category"`
	ItemName string   `json:"item_name"`
}

// PipelineSnapshot is the externally visible pipeline state.
// Overwritten atomically on every transition; no history is kept, a slow
// reader simply sees the most recent value.
type PipelineSnapshot struct {
	Mode       PipelineMode   `json:"mode"`
	StatusText string         `json:"status_text"`
	LastResult *ResultSummary `json:"last_result"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
