package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blackjack/webcam"
	"github.com/google/uuid"

	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

// V4L2 fourcc for YUYV 4:2:2.
const fmtYUYV = webcam.PixelFormat(0x56595559)

// V4L2Stream reads frames straight from a /dev/video device. A fallback for
// hosts without GStreamer; frames arrive in the camera's native YUYV.
type V4L2Stream struct {
	device    string
	width     int
	height    int
	targetFPS int

	cam    *webcam.Webcam
	frames chan types.Frame

	mu     sync.RWMutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	frameCount  uint64
	bytesRead   uint64
	started     time.Time
	lastFrameAt time.Time
}

// NewV4L2Stream creates the capture; the device is opened on Start.
func NewV4L2Stream(cfg config.CameraConfig) (*V4L2Stream, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("camera source is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}
	return &V4L2Stream{
		device:    cfg.Source,
		width:     cfg.Width,
		height:    cfg.Height,
		targetFPS: cfg.FPS,
		frames:    make(chan types.Frame, 10),
	}, nil
}

// Start opens the device, negotiates YUYV at the configured size, and
// launches the read loop.
func (s *V4L2Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("stream already started")
	}

	cam, err := webcam.Open(s.device)
	if err != nil {
		return fmt.Errorf("failed to open camera %s: %w", s.device, err)
	}

	format, w, h, err := cam.SetImageFormat(fmtYUYV, uint32(s.width), uint32(s.height))
	if err != nil {
		_ = cam.Close()
		return fmt.Errorf("failed to set image format: %w", err)
	}
	if format != fmtYUYV {
		_ = cam.Close()
		return fmt.Errorf("camera does not support YUYV, got fourcc %#x", format)
	}
	s.width, s.height = int(w), int(h)

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return fmt.Errorf("failed to start streaming: %w", err)
	}

	s.cam = cam
	s.started = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.readLoop(runCtx)

	slog.Info("v4l2 stream started",
		"device", s.device,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
	)
	return nil
}

func (s *V4L2Stream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := s.cam.WaitForFrame(1)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			slog.Error("camera wait failed", "error", err)
			return
		}

		raw, err := s.cam.ReadFrame()
		if err != nil {
			slog.Error("camera read failed", "error", err)
			return
		}
		if len(raw) == 0 {
			continue
		}

		data := make([]byte, len(raw))
		copy(data, raw)

		frame := types.Frame{
			Seq:       atomic.AddUint64(&s.frameCount, 1),
			Timestamp: time.Now(),
			Width:     s.width,
			Height:    s.height,
			Format:    types.FormatYUYV,
			Data:      data,
			TraceID:   uuid.New().String(),
		}

		s.mu.Lock()
		s.lastFrameAt = frame.Timestamp
		s.mu.Unlock()
		atomic.AddUint64(&s.bytesRead, uint64(len(data)))

		select {
		case s.frames <- frame:
		default:
			slog.Debug("dropping frame, channel full", "seq", frame.Seq)
		}
	}
}

// Frames returns the channel of captured frames.
func (s *V4L2Stream) Frames() <-chan types.Frame {
	return s.frames
}

// Stop halts capture and closes the device.
func (s *V4L2Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("stream not started")
	}

	s.cancel()
	s.wg.Wait()

	if s.cam != nil {
		_ = s.cam.StopStreaming()
		_ = s.cam.Close()
		s.cam = nil
	}
	s.cancel = nil

	slog.Info("v4l2 stream stopped",
		"frames_received", atomic.LoadUint64(&s.frameCount),
		"uptime", time.Since(s.started),
	)
	return nil
}

// Stats returns current capture statistics.
func (s *V4L2Stream) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	uptime := time.Since(s.started).Seconds()

	var fpsReal float64
	if uptime > 0 {
		fpsReal = float64(frameCount) / uptime
	}

	var latencyMS int64
	if !s.lastFrameAt.IsZero() {
		latencyMS = time.Since(s.lastFrameAt).Milliseconds()
	}

	return Stats{
		FrameCount:  frameCount,
		FPSTarget:   s.targetFPS,
		FPSReal:     fpsReal,
		LatencyMS:   latencyMS,
		Resolution:  fmt.Sprintf("%dx%d", s.width, s.height),
		BytesRead:   atomic.LoadUint64(&s.bytesRead),
		IsConnected: s.cancel != nil,
	}
}
