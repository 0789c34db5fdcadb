// Package pipeline implements the drop-zone state machine: watch for an item,
// wait for the scene to settle, classify the frame, sort the item, cool down.
//
// The controller owns all state-machine state and mutates it from a single
// goroutine. Slow work (classification, the physical sort) runs on a worker
// goroutine that reports back over a channel drained by the same loop, so no
// mode transition ever races another.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectlend/lend/internal/motion"
	"github.com/projectlend/lend/internal/state"
	"github.com/projectlend/lend/internal/types"
)

// ErrBusy is returned by Trigger when a cycle is already in flight or the
// pipeline is not watching.
var ErrBusy = errors.New("pipeline busy")

// Classifier identifies the item in a JPEG snapshot.
type Classifier interface {
	Classify(ctx context.Context, jpegBytes []byte) (types.ClassificationResult, error)
}

// Actuator physically sorts an item into its category bin.
type Actuator interface {
	Sort(ctx context.Context, category types.Category) error
}

// RecordSink persists donation records. Append-only: a record is complete
// when written.
type RecordSink interface {
	Append(rec types.DonationRecord) (int64, error)
}

// FrameSaver stores the snapshot a donation was classified from, keyed by the
// frame's trace ID.
type FrameSaver interface {
	Save(traceID string, jpegBytes []byte) (string, error)
}

// FrameSource hands the controller the most recent frame, consuming it.
type FrameSource interface {
	Take() *types.Frame
}

// Config contains the controller's timing and detection parameters.
type Config struct {
	// TriggerMode is "motion" or "manual".
	TriggerMode string
	// WarmupFrames to consume before watching (camera auto-exposure).
	WarmupFrames int
	// SettleTime motion must be absent before the scene counts as settled.
	SettleTime time.Duration
	// Cooldown after a cycle, successful or not.
	Cooldown time.Duration
	// TickInterval is the polling cadence.
	TickInterval time.Duration
	// MotionThreshold and MotionMinArea parameterize the detector.
	MotionThreshold int
	MotionMinArea   int
	// Fallback category for unusable classifier answers.
	Fallback types.Category
	// MaxImagePx bounds the longest edge of the classified snapshot.
	MaxImagePx int
}

// Stats are the controller's lifetime counters.
type Stats struct {
	Mode       types.PipelineMode `json:"mode"`
	FramesSeen uint64             `json:"frames_seen"`
	Cycles     uint64             `json:"cycles"`
	Successes  uint64             `json:"successes"`
	Failures   uint64             `json:"failures"`
}

// Controller runs the pipeline state machine.
type Controller struct {
	cfg        Config
	frames     FrameSource
	detector   motion.Detector
	classifier Classifier
	actuator   Actuator
	records    RecordSink
	images     FrameSaver
	pub        *state.Publisher

	// OnDonation, when set, is called for each completed donation.
	OnDonation func(types.DonationRecord)

	// processing guards single-flight cycle dispatch.
	processing atomic.Bool
	triggerCh  chan struct{}
	events     chan cycleEvent
	wg         sync.WaitGroup

	// State below is owned by the Run goroutine.
	mode           types.PipelineMode
	warmupSeen     int
	prevGray       *image.Gray
	lastMotionAt   time.Time
	settleArea     int
	pendingTrigger bool
	cooldownUntil  time.Time

	mu         sync.RWMutex
	framesSeen uint64
	cycles     uint64
	successes  uint64
	failures   uint64
}

// New wires a controller. actuator and images may be nil (vision-only runs,
// no snapshot directory); frames, classifier, records, and pub may not.
func New(cfg Config, frames FrameSource, classifier Classifier, actuator Actuator, records RecordSink, images FrameSaver, pub *state.Publisher) (*Controller, error) {
	if frames == nil || classifier == nil || records == nil || pub == nil {
		return nil, fmt.Errorf("pipeline: frames, classifier, records, and publisher are required")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("pipeline: tick interval must be positive")
	}
	if !cfg.Fallback.Valid() {
		cfg.Fallback = types.CategorySnack
	}
	return &Controller{
		cfg:        cfg,
		frames:     frames,
		detector:   motion.New(cfg.MotionThreshold, cfg.MotionMinArea),
		classifier: classifier,
		actuator:   actuator,
		records:    records,
		images:     images,
		pub:        pub,
		triggerCh:  make(chan struct{}, 1),
		events:     make(chan cycleEvent, 8),
		mode:       types.ModeWarmup,
	}, nil
}

// Trigger requests an immediate classification cycle. Returns ErrBusy when a
// cycle is in flight; the request is otherwise queued for the next tick.
func (c *Controller) Trigger() error {
	if c.processing.Load() {
		return ErrBusy
	}
	select {
	case c.triggerCh <- struct{}{}:
		return nil
	default:
		return ErrBusy
	}
}

// Run drives the state machine until ctx is cancelled. Blocks; callers run
// it on its own goroutine.
func (c *Controller) Run(ctx context.Context) error {
	c.setMode(types.ModeWarmup, fmt.Sprintf("warming up (%d frames)", c.cfg.WarmupFrames))

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.setMode(types.ModeIdle, "shutting down")
			c.wg.Wait()
			return nil

		case ev := <-c.events:
			c.handleEvent(ev, time.Now())

		case <-ticker.C:
			c.tick(ctx, time.Now())
		}
	}
}

func (c *Controller) tick(ctx context.Context, now time.Time) {
	// Manual trigger requests are honored from watching only; outside it
	// they stay queued until the pipeline is free again.
	select {
	case <-c.triggerCh:
		c.pendingTrigger = true
	default:
	}

	switch c.mode {
	case types.ModeWarmup:
		c.tickWarmup()
	case types.ModeWatching:
		c.tickWatching(ctx, now)
	case types.ModeSettling:
		c.tickSettling(ctx, now)
	case types.ModeCooldown:
		if now.After(c.cooldownUntil) {
			c.resetWatch()
			c.setMode(types.ModeWatching, "watching for donations")
		}
	case types.ModeError:
		if now.After(c.cooldownUntil) {
			c.resetWatch()
			c.setMode(types.ModeWatching, "watching for donations")
		}
	case types.ModeClassifying, types.ModeSorting:
		// Worker in flight; transitions arrive as events.
	}
}

func (c *Controller) tickWarmup() {
	f := c.takeFrame()
	if f == nil {
		return
	}
	c.warmupSeen++
	if c.warmupSeen < c.cfg.WarmupFrames {
		return
	}

	gray, err := motion.Gray(f)
	if err != nil {
		slog.Warn("frame conversion failed during warmup", "error", err, "trace_id", f.TraceID)
		return
	}
	c.prevGray = gray
	slog.Info("warmup complete", "frames", c.warmupSeen)
	c.setMode(types.ModeWatching, "watching for donations")
}

func (c *Controller) tickWatching(ctx context.Context, now time.Time) {
	f := c.takeFrame()
	if f == nil {
		return
	}

	if c.pendingTrigger {
		c.pendingTrigger = false
		slog.Info("manual trigger accepted", "trace_id", f.TraceID)
		c.dispatch(ctx, f)
		return
	}

	if c.cfg.TriggerMode != "motion" {
		return
	}

	gray, err := motion.Gray(f)
	if err != nil {
		slog.Warn("frame conversion failed", "error", err, "trace_id", f.TraceID)
		return
	}

	if c.prevGray != nil {
		sample := c.detector.Detect(c.prevGray, gray)
		if sample.IsMotion {
			c.lastMotionAt = now
			c.settleArea = sample.Area
			slog.Info("item detected", "area_px", sample.Area, "trace_id", f.TraceID)
			c.setMode(types.ModeSettling, fmt.Sprintf("item detected (%d px), settling", sample.Area))
		}
	}
	c.prevGray = gray
}

func (c *Controller) tickSettling(ctx context.Context, now time.Time) {
	f := c.takeFrame()
	if f != nil {
		gray, err := motion.Gray(f)
		if err == nil {
			if c.prevGray != nil {
				sample := c.detector.Detect(c.prevGray, gray)
				if sample.IsMotion {
					// Still moving; settle clock restarts.
					c.lastMotionAt = now
					c.settleArea = sample.Area
				}
			}
			c.prevGray = gray
		}
	}

	if now.Sub(c.lastMotionAt) < c.cfg.SettleTime {
		return
	}

	if f == nil {
		f = c.takeFrame()
		if f == nil {
			return
		}
	}
	slog.Info("scene settled", "area_px", c.settleArea, "trace_id", f.TraceID)
	c.dispatch(ctx, f)
}

// dispatch starts the classify/record/sort worker for one frame.
func (c *Controller) dispatch(ctx context.Context, f *types.Frame) {
	if !c.processing.CompareAndSwap(false, true) {
		slog.Warn("cycle already in flight, dropping dispatch", "trace_id", f.TraceID)
		return
	}

	c.mu.Lock()
	c.cycles++
	c.mu.Unlock()

	c.setMode(types.ModeClassifying, "classifying item")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runCycle(ctx, f)
	}()
}

func (c *Controller) handleEvent(ev cycleEvent, now time.Time) {
	switch ev.kind {
	case evClassified:
		slog.Info("item classified",
			"category", ev.result.Category,
			"item", ev.result.ItemName,
			"trace_id", ev.traceID,
		)
		summary := &types.ResultSummary{
			Category: ev.result.Category,
			ItemName: ev.result.ItemName,
		}
		if c.actuator != nil {
			c.setModeResult(types.ModeSorting, fmt.Sprintf("sorting %s to %s bin", ev.result.ItemName, ev.result.Category), summary)
		} else {
			c.setModeResult(types.ModeClassifying, fmt.Sprintf("classified %s as %s", ev.result.ItemName, ev.result.Category), summary)
		}

	case evRecorded:
		// The ledger entry exists from here on, whatever the sort does, so
		// listeners hear about every written record.
		if c.OnDonation != nil {
			c.OnDonation(ev.record)
		}

	case evDone:
		c.mu.Lock()
		c.successes++
		c.mu.Unlock()
		c.processing.Store(false)
		c.cooldownUntil = now.Add(c.cfg.Cooldown)
		c.setModeResult(types.ModeCooldown, "donation complete, cooling down", &types.ResultSummary{
			Category: ev.record.Category,
			ItemName: ev.record.ItemName,
		})
		slog.Info("cycle complete",
			"donation_id", ev.record.ID,
			"category", ev.record.Category,
			"trace_id", ev.traceID,
		)

	case evFailed:
		c.mu.Lock()
		c.failures++
		c.mu.Unlock()
		c.processing.Store(false)
		c.cooldownUntil = now.Add(c.cfg.Cooldown)
		c.setMode(types.ModeError, fmt.Sprintf("cycle failed during %s: %v", ev.stage, ev.err))
		slog.Error("cycle failed",
			"stage", ev.stage,
			"error", ev.err,
			"trace_id", ev.traceID,
		)
	}
}

// resetWatch clears detection state so the post-cycle scene, with the item
// now removed or binned, becomes the new baseline.
func (c *Controller) resetWatch() {
	c.prevGray = nil
	c.settleArea = 0
}

func (c *Controller) takeFrame() *types.Frame {
	f := c.frames.Take()
	if f != nil {
		c.mu.Lock()
		c.framesSeen++
		c.mu.Unlock()
	}
	return f
}

func (c *Controller) setMode(mode types.PipelineMode, statusText string) {
	c.mode = mode
	c.pub.Publish(mode, statusText)
	slog.Debug("pipeline mode", "mode", mode, "status", statusText)
}

// setModeResult is setMode plus a last-result update in the same snapshot.
func (c *Controller) setModeResult(mode types.PipelineMode, statusText string, result *types.ResultSummary) {
	c.mode = mode
	c.pub.PublishResult(mode, statusText, result)
	slog.Debug("pipeline mode", "mode", mode, "status", statusText)
}

// Stats returns lifetime counters and the current mode.
func (c *Controller) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Mode:       c.pub.Read().Mode,
		FramesSeen: c.framesSeen,
		Cycles:     c.cycles,
		Successes:  c.successes,
		Failures:   c.failures,
	}
}
