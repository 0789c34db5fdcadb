// Package core wires the capture, pipeline, persistence, actuation, and API
// components together and owns their lifecycle.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/projectlend/lend/internal/api"
	"github.com/projectlend/lend/internal/arm"
	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/emitter"
	"github.com/projectlend/lend/internal/frameslot"
	"github.com/projectlend/lend/internal/pipeline"
	"github.com/projectlend/lend/internal/records"
	"github.com/projectlend/lend/internal/state"
	"github.com/projectlend/lend/internal/stream"
	"github.com/projectlend/lend/internal/types"
	"github.com/projectlend/lend/internal/vision"
)

// Options tune service construction beyond the config file.
type Options struct {
	// DisableArm runs vision-only even when the config enables the arm.
	DisableArm bool
}

// Lend is the service orchestrator.
type Lend struct {
	cfg *config.Config

	stream  stream.Provider
	slot    *frameslot.Slot
	warmup  *stream.WarmupMeter
	pub     *state.Publisher
	ctrl    *pipeline.Controller
	store   *records.Store
	arm     *arm.Client
	emitter *emitter.MQTTEmitter
	api     *api.Server

	started     time.Time
	mu          sync.RWMutex
	wg          sync.WaitGroup
	isRunning   bool
	warmupStats *stream.WarmupStats
}

// NewLend builds the full service from a config file.
func NewLend(configPath string, opts Options) (*Lend, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"instance_id", cfg.InstanceID,
		"camera", cfg.Camera.Source,
		"trigger_mode", cfg.Pipeline.TriggerMode,
	)

	l := &Lend{
		cfg:    cfg,
		slot:   frameslot.New(),
		warmup: stream.NewWarmupMeter(),
		pub:    state.New(),
	}

	l.store, err = records.Open(cfg.Records.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open donation store: %w", err)
	}

	images, err := records.NewImageSaver(cfg.Records.ImagesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare images dir: %w", err)
	}

	apiKey := os.Getenv(cfg.Vision.APIKeyEnv)
	classifier, err := vision.NewGeminiClassifier(
		context.Background(),
		apiKey,
		cfg.Vision.Model,
		types.Category(cfg.Pipeline.FallbackCategory),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier: %w", err)
	}

	// A configured but unreachable arm is a startup failure: sorting donations
	// into bins is the whole point, so refuse to limp along silently.
	var actuator pipeline.Actuator
	if cfg.Arm.Enabled && !opts.DisableArm {
		l.arm, err = arm.Dial(cfg.Arm)
		if err != nil {
			return nil, fmt.Errorf("failed to connect arm: %w", err)
		}
		actuator = l.arm
	} else {
		slog.Warn("arm disabled, running vision-only")
	}

	l.stream, err = stream.New(cfg.Camera)
	if err != nil {
		return nil, fmt.Errorf("failed to create camera stream: %w", err)
	}

	l.ctrl, err = pipeline.New(pipeline.Config{
		TriggerMode:     cfg.Pipeline.TriggerMode,
		WarmupFrames:    cfg.Pipeline.WarmupFrames,
		SettleTime:      cfg.Pipeline.SettleTime(),
		Cooldown:        cfg.Pipeline.Cooldown(),
		TickInterval:    cfg.Pipeline.TickInterval(),
		MotionThreshold: cfg.Pipeline.MotionThreshold,
		MotionMinArea:   cfg.Pipeline.MotionMinArea,
		Fallback:        types.Category(cfg.Pipeline.FallbackCategory),
		MaxImagePx:      cfg.Vision.MaxImagePx,
	}, l.slot, classifier, actuator, l.store, images, l.pub)
	if err != nil {
		return nil, err
	}

	l.emitter = emitter.NewMQTTEmitter(cfg)
	if l.emitter != nil {
		l.pub.OnUpdate(func(snap types.PipelineSnapshot) {
			if err := l.emitter.PublishState(snap); err != nil {
				slog.Debug("state publish skipped", "error", err)
			}
		})
		l.ctrl.OnDonation = func(rec types.DonationRecord) {
			if err := l.emitter.PublishDonation(rec); err != nil {
				slog.Warn("donation publish failed", "error", err)
			}
		}
	}

	l.api = api.New(cfg.API.Listen, api.Deps{
		Store:     l.store,
		Publisher: l.pub,
		Pipeline:  l.ctrl,
		Frames:    l.slot,
		Liveness:  l.LivenessHandler,
		Readiness: l.ReadinessHandler,
	})

	return l, nil
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails fatally.
func (l *Lend) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	l.isRunning = true
	l.started = time.Now()
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	slog.Info("lend service starting", "instance_id", l.cfg.InstanceID)

	if l.arm != nil {
		if err := l.arm.Home(ctx); err != nil {
			return fmt.Errorf("failed to home arm: %w", err)
		}
	}

	if l.emitter != nil {
		if err := l.emitter.Connect(ctx); err != nil {
			// Auto-reconnect keeps trying in the background.
			slog.Warn("mqtt connect failed, continuing", "error", err)
		}
	}

	if err := l.stream.Start(ctx); err != nil {
		return fmt.Errorf("failed to start camera stream: %w", err)
	}

	l.wg.Add(1)
	go l.consumeFrames(ctx)

	errChan := make(chan error, 2)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		errChan <- l.ctrl.Run(ctx)
	}()

	apiErr := l.api.Start()

	slog.Info("lend service running",
		"api", l.cfg.API.Listen,
		"arm", l.arm != nil,
		"mqtt", l.emitter != nil,
	)

	select {
	case <-ctx.Done():
		slog.Info("lend service run loop exiting")
		return nil
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("pipeline stopped: %w", err)
		}
		return nil
	case err, ok := <-apiErr:
		if ok && err != nil {
			return err
		}
		return nil
	}
}

// consumeFrames feeds captured frames into the slot and the warm-up meter.
func (l *Lend) consumeFrames(ctx context.Context) {
	defer l.wg.Done()

	warmupLeft := l.cfg.Pipeline.WarmupFrames
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-l.stream.Frames():
			if !ok {
				slog.Warn("frame channel closed")
				return
			}
			if warmupLeft > 0 {
				l.warmup.Observe(frame.Timestamp)
				warmupLeft--
				if warmupLeft == 0 {
					stats := l.warmup.Finish()
					l.mu.Lock()
					l.warmupStats = &stats
					l.mu.Unlock()
					slog.Info("camera warm-up measured",
						"frames", stats.FramesReceived,
						"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
						"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
						"stable", stats.IsStable,
					)
					if !stats.IsStable {
						slog.Warn("camera FPS is unstable, motion timing may wobble",
							"fps_stddev", stats.FPSStdDev)
					}
				}
			}
			f := frame
			l.slot.Put(&f)
		}
	}
}

// Shutdown stops all components in dependency order.
func (l *Lend) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	slog.Info("shutting down lend service")

	// Stream first: no more frames, the controller drains and idles.
	if l.stream != nil {
		if err := l.stream.Stop(); err != nil {
			slog.Error("failed to stop stream", "error", err)
		}
	}

	if l.api != nil {
		if err := l.api.Shutdown(ctx); err != nil {
			slog.Error("failed to stop http api", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for goroutines")
	}

	if l.emitter != nil {
		if err := l.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	if l.arm != nil {
		if err := l.arm.Close(); err != nil {
			slog.Error("failed to close arm", "error", err)
		}
	}

	if l.store != nil {
		if err := l.store.Close(); err != nil {
			slog.Error("failed to close donation store", "error", err)
		}
	}

	l.mu.Lock()
	uptime := time.Since(l.started)
	l.isRunning = false
	l.mu.Unlock()

	slog.Info("lend service shutdown complete", "uptime", uptime)
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (l *Lend) ShutdownTimeout() time.Duration {
	return l.cfg.ShutdownTimeout()
}
