package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projectlend/lend/internal/types"
)

// FrameFunc fills a synthetic frame buffer for a given sequence number.
type FrameFunc func(seq uint64, data []byte)

// MockStream generates synthetic RGB frames for tests and hardware-free runs.
type MockStream struct {
	width  int
	height int
	fps    int

	// Paint, when set, draws each frame before it is emitted.
	Paint FrameFunc

	framesCh chan types.Frame
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu            sync.RWMutex
	seq           uint64
	framesEmitted uint64
	isRunning     bool
	startTime     time.Time
}

// NewMockStream creates a mock provider emitting black frames at fps.
func NewMockStream(width, height, fps int) *MockStream {
	return &MockStream{
		width:    width,
		height:   height,
		fps:      fps,
		framesCh: make(chan types.Frame, 10),
		stopCh:   make(chan struct{}),
	}
}

// Start begins generating frames.
func (m *MockStream) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return fmt.Errorf("stream already running")
	}
	m.isRunning = true
	m.startTime = time.Now()
	m.mu.Unlock()

	slog.Info("mock stream starting",
		"width", m.width,
		"height", m.height,
		"fps", m.fps,
	)

	m.wg.Add(1)
	go m.generateFrames(ctx)
	return nil
}

// Frames returns the frames channel.
func (m *MockStream) Frames() <-chan types.Frame {
	return m.framesCh
}

// Stop stops the stream.
func (m *MockStream) Stop() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	close(m.stopCh)
	m.wg.Wait()
	close(m.framesCh)

	m.mu.Lock()
	m.isRunning = false
	m.mu.Unlock()

	slog.Info("mock stream stopped",
		"frames_emitted", m.framesEmitted,
		"duration", time.Since(m.startTime),
	)
	return nil
}

// Stats returns stream statistics.
func (m *MockStream) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var fpsReal float64
	if m.isRunning && m.framesEmitted > 0 {
		elapsed := time.Since(m.startTime).Seconds()
		if elapsed > 0 {
			fpsReal = float64(m.framesEmitted) / elapsed
		}
	}

	return Stats{
		FrameCount:  m.framesEmitted,
		FPSTarget:   m.fps,
		FPSReal:     fpsReal,
		Resolution:  fmt.Sprintf("%dx%d", m.width, m.height),
		IsConnected: m.isRunning,
	}
}

func (m *MockStream) generateFrames(ctx context.Context) {
	defer m.wg.Done()

	fps := m.fps
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			frame := m.createFrame()
			select {
			case m.framesCh <- frame:
				m.mu.Lock()
				m.framesEmitted++
				m.mu.Unlock()
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			}
		}
	}
}

func (m *MockStream) createFrame() types.Frame {
	m.mu.Lock()
	seq := m.seq
	m.seq++
	paint := m.Paint
	m.mu.Unlock()

	data := make([]byte, m.width*m.height*3)
	if paint != nil {
		paint(seq, data)
	}

	return types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     m.width,
		Height:    m.height,
		Format:    types.FormatRGB24,
		Data:      data,
		TraceID:   uuid.New().String(),
	}
}
