// Package stream provides camera frame capture. Two real providers exist:
// a GStreamer pipeline (USB devices and RTSP network cameras) and a direct
// V4L2 reader. A mock provider backs tests and bench setups without hardware.
package stream

import (
	"context"
	"fmt"

	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

// Provider produces a stream of frames from a camera source. Start launches
// capture goroutines; Stop tears them down and closes the Frames channel.
type Provider interface {
	Start(ctx context.Context) error
	Frames() <-chan types.Frame
	Stop() error
	Stats() Stats
}

// Stats describes capture health for the readiness endpoint.
type Stats struct {
	FrameCount  uint64  `json:"frame_count"`
	FPSTarget   int     `json:"fps_target"`
	FPSReal     float64 `json:"fps_real"`
	LatencyMS   int64   `json:"latency_ms"`
	Resolution  string  `json:"resolution"`
	Reconnects  uint32  `json:"reconnects"`
	BytesRead   uint64  `json:"bytes_read"`
	IsConnected bool    `json:"is_connected"`
}

// New builds the provider selected by camera config.
func New(cfg config.CameraConfig) (Provider, error) {
	switch cfg.Driver {
	case "gstreamer":
		return NewGstStream(cfg)
	case "v4l2":
		return NewV4L2Stream(cfg)
	case "mock":
		return NewMockStream(cfg.Width, cfg.Height, cfg.FPS), nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}
}
