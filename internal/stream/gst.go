package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

// GstStream captures frames through a GStreamer pipeline. Local V4L2 devices
// and RTSP network cameras both end in the same convert/scale/rate chain and
// an appsink delivering RGB frames.
type GstStream struct {
	source    string
	width     int
	height    int
	targetFPS int

	pipeline *gst.Pipeline
	appsink  *app.Sink

	frames chan types.Frame
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	frameCount  uint64
	started     time.Time
	lastFrameAt time.Time
	reconnects  uint32
	bytesRead   uint64

	maxRetries     int
	retryDelay     time.Duration
	maxRetryDelay  time.Duration
	currentRetries int
}

// NewGstStream creates a GStreamer capture for the configured source.
func NewGstStream(cfg config.CameraConfig) (*GstStream, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("camera source is required")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution: %dx%d", cfg.Width, cfg.Height)
	}

	return &GstStream{
		source:        cfg.Source,
		width:         cfg.Width,
		height:        cfg.Height,
		targetFPS:     cfg.FPS,
		frames:        make(chan types.Frame, 10),
		done:          make(chan struct{}),
		maxRetries:    5,
		retryDelay:    1 * time.Second,
		maxRetryDelay: 30 * time.Second,
	}, nil
}

// Start initializes GStreamer and launches the capture goroutine.
func (s *GstStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("stream already started")
	}

	gst.Init(nil)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	s.wg.Add(1)
	go s.runPipeline()

	slog.Info("camera stream starting",
		"source", s.source,
		"resolution", fmt.Sprintf("%dx%d", s.width, s.height),
		"target_fps", s.targetFPS,
	)
	return nil
}

// runPipeline runs the capture with reconnection and exponential backoff.
func (s *GstStream) runPipeline() {
	defer s.wg.Done()
	defer close(s.frames)
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			slog.Info("camera pipeline context cancelled")
			return
		default:
		}

		if err := s.connectAndStream(); err != nil {
			slog.Error("camera pipeline error", "error", err)
		}

		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.currentRetries++
		atomic.AddUint32(&s.reconnects, 1)

		if s.currentRetries > s.maxRetries {
			slog.Error("max retries exceeded, stopping stream",
				"retries", s.currentRetries,
				"max_retries", s.maxRetries,
			)
			return
		}

		delay := s.retryDelay * time.Duration(1<<uint(s.currentRetries-1))
		if delay > s.maxRetryDelay {
			delay = s.maxRetryDelay
		}

		slog.Warn("reconnecting to camera",
			"retry", s.currentRetries,
			"delay", delay,
		)

		select {
		case <-time.After(delay):
		case <-s.ctx.Done():
			return
		}
	}
}

// connectAndStream builds the pipeline for the source type and pumps frames
// until error, EOS, or shutdown.
func (s *GstStream) connectAndStream() error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	s.pipeline = pipeline

	videoconvert, _ := gst.NewElement("videoconvert")
	videoscale, _ := gst.NewElement("videoscale")

	videorate, _ := gst.NewElement("videorate")
	videorate.SetProperty("drop-only", true)
	videorate.SetProperty("skip-to-first", true)

	capsfilter, _ := gst.NewElement("capsfilter")
	caps := gst.NewCapsFromString(fmt.Sprintf(
		"video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/1",
		s.width, s.height, s.targetFPS,
	))
	capsfilter.SetProperty("caps", caps)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	s.appsink = appsink

	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	if strings.HasPrefix(s.source, "rtsp://") {
		// Network camera: rtspsrc has dynamic pads, linked on pad-added.
		rtspsrc, err := gst.NewElement("rtspsrc")
		if err != nil {
			return fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		rtspsrc.SetProperty("location", s.source)
		rtspsrc.SetProperty("protocols", 4) // TCP
		rtspsrc.SetProperty("latency", 200)

		rtph264depay, _ := gst.NewElement("rtph264depay")
		avdec_h264, _ := gst.NewElement("avdec_h264")

		pipeline.AddMany(rtspsrc, rtph264depay, avdec_h264, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
		gst.ElementLinkMany(rtph264depay, avdec_h264, videoconvert, videoscale, videorate, capsfilter, appsink.Element)

		rtspsrc.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			slog.Debug("rtspsrc pad added", "pad", srcPad.GetName())
			sinkPad := rtph264depay.GetStaticPad("sink")
			if sinkPad != nil {
				srcPad.Link(sinkPad)
			}
		})
	} else {
		// Local USB camera.
		v4l2src, err := gst.NewElement("v4l2src")
		if err != nil {
			return fmt.Errorf("failed to create v4l2src: %w", err)
		}
		v4l2src.SetProperty("device", s.source)

		pipeline.AddMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
		gst.ElementLinkMany(v4l2src, videoconvert, videoscale, videorate, capsfilter, appsink.Element)
	}

	slog.Debug("setting pipeline to playing")
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to set pipeline to playing: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-s.ctx.Done():
			slog.Debug("context cancelled, stopping pipeline")
			pipeline.SetState(gst.StateNull)
			return nil
		default:
		}

		// Short poll timeout keeps shutdown responsive.
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("end of stream")
			return nil

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
			return fmt.Errorf("pipeline error: %w", gerr)

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("pipeline state changed", "from", old, "to", new)

				if new == gst.StatePlaying {
					s.currentRetries = 0
					slog.Info("camera connected")
				}
			}
		}
	}
}

// onNewSample copies the appsink buffer into a Frame and forwards it without
// blocking; a full channel drops the frame.
func (s *GstStream) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	defer buffer.Unmap()

	if len(data) == 0 {
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)

	frame := types.Frame{
		Seq:       atomic.AddUint64(&s.frameCount, 1),
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Format:    types.FormatRGB24,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	s.lastFrameAt = time.Now()
	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	select {
	case s.frames <- frame:
	default:
		slog.Debug("dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID)
	}

	return gst.FlowOK
}

// Frames returns the channel of captured frames.
func (s *GstStream) Frames() <-chan types.Frame {
	return s.frames
}

// Stop tears the pipeline down and waits briefly for a clean exit.
func (s *GstStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return fmt.Errorf("stream not started")
	}

	slog.Info("stopping camera stream")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("camera stream stopped",
			"frames_received", atomic.LoadUint64(&s.frameCount),
			"reconnects", atomic.LoadUint32(&s.reconnects),
			"uptime", time.Since(s.started),
		)
	case <-time.After(3 * time.Second):
		slog.Warn("camera stream stop timeout, pipeline may still be running",
			"frames_received", atomic.LoadUint64(&s.frameCount),
			"uptime", time.Since(s.started),
		)
	}

	s.cancel = nil
	s.ctx = nil
	s.pipeline = nil
	s.appsink = nil

	s.frames = make(chan types.Frame, 10)
	s.done = make(chan struct{})
	return nil
}

// Stats returns current capture statistics.
func (s *GstStream) Stats() Stats {
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
		Reconnects:  atomic.LoadUint32(&s.reconnects),
		BytesRead:   atomic.LoadUint64(&s.bytesRead),
		IsConnected: s.cancel != nil,
	}
}
