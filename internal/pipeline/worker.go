package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"github.com/projectlend/lend/internal/types"
)

const jpegQuality = 85

type eventKind int

const (
	evClassified eventKind = iota
	evRecorded
	evDone
	evFailed
)

// cycleEvent is a worker-to-controller progress report.
type cycleEvent struct {
	kind    eventKind
	result  types.ClassificationResult
	record  types.DonationRecord
	stage   string
	err     error
	traceID string
}

// runCycle performs one full donation cycle off the controller goroutine:
// encode the snapshot, classify it, persist the record and image, then sort.
// Progress and the terminal outcome go back over the events channel.
func (c *Controller) runCycle(ctx context.Context, f *types.Frame) {
	jpegBytes, err := encodeSnapshot(f, c.cfg.MaxImagePx)
	if err != nil {
		c.emit(cycleEvent{kind: evFailed, stage: "encode", err: err, traceID: f.TraceID})
		return
	}

	result, err := c.classifier.Classify(ctx, jpegBytes)
	if err != nil {
		c.emit(cycleEvent{kind: evFailed, stage: "classify", err: err, traceID: f.TraceID})
		return
	}
	if !result.Category.Valid() {
		result.Category = c.cfg.Fallback
	}
	c.emit(cycleEvent{kind: evClassified, result: result, traceID: f.TraceID})

	rec := types.DonationRecord{
		Category:           result.Category,
		ItemName:           result.ItemName,
		EstimatedWeightLbs: result.EstimatedWeightLbs,
		EstimatedExpiry:    result.EstimatedExpiry,
		Timestamp:          time.Now().UTC(),
	}

	// The snapshot is written first so the record carries its path from the
	// start; donation rows are append-only.
	if c.images != nil {
		path, err := c.images.Save(f.TraceID, jpegBytes)
		if err != nil {
			// The cycle stands; a lost snapshot is not worth failing it.
			slog.Warn("failed to save donation image", "trace_id", f.TraceID, "error", err)
		} else {
			rec.ImagePath = path
		}
	}

	id, err := c.records.Append(rec)
	if err != nil {
		c.emit(cycleEvent{kind: evFailed, stage: "record", err: err, traceID: f.TraceID})
		return
	}
	rec.ID = id
	c.emit(cycleEvent{kind: evRecorded, record: rec, traceID: f.TraceID})

	if c.actuator != nil {
		if err := c.actuator.Sort(ctx, result.Category); err != nil {
			c.emit(cycleEvent{kind: evFailed, stage: "sort", err: err, traceID: f.TraceID})
			return
		}
	}

	c.emit(cycleEvent{kind: evDone, result: result, record: rec, traceID: f.TraceID})
}

func (c *Controller) emit(ev cycleEvent) {
	select {
	case c.events <- ev:
	default:
		// Never block the worker on a wedged controller.
		slog.Warn("event channel full, dropping cycle event", "trace_id", ev.traceID)
	}
}

// encodeSnapshot converts a raw frame to JPEG, downscaling so the longest
// edge fits maxPx. Smaller uploads keep classifier latency predictable.
func encodeSnapshot(f *types.Frame, maxPx int) ([]byte, error) {
	img, err := f.ToImage()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	if maxPx > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > maxPx || bounds.Dy() > maxPx {
			img = imaging.Fit(img, maxPx, maxPx, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("snapshot: encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
