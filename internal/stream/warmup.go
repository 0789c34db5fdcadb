package stream

import (
	"math"
	"sync"
	"time"
)

// WarmupStats summarizes frame cadence measured during the warm-up phase.
type WarmupStats struct {
	FramesReceived int           `json:"frames_received"`
	Duration       time.Duration `json:"duration"`
	FPSMean        float64       `json:"fps_mean"`
	FPSStdDev      float64       `json:"fps_stddev"`
	FPSMin         float64       `json:"fps_min"`
	FPSMax         float64       `json:"fps_max"`
	IsStable       bool          `json:"is_stable"`
}

// WarmupMeter accumulates frame arrival times while the pipeline warms up.
// Observe is called from the capture loop; Stats from anywhere.
type WarmupMeter struct {
	mu     sync.Mutex
	times  []time.Time
	closed bool
}

// NewWarmupMeter returns an empty meter.
func NewWarmupMeter() *WarmupMeter {
	return &WarmupMeter{times: make([]time.Time, 0, 128)}
}

// Observe records one frame arrival. After Finish it is a no-op.
func (m *WarmupMeter) Observe(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.times = append(m.times, at)
}

// Finish stops collection and returns the final stats.
func (m *WarmupMeter) Finish() WarmupStats {
	m.mu.Lock()
	m.closed = true
	times := m.times
	m.mu.Unlock()
	return calculateFPSStats(times)
}

// Stats returns a snapshot of the stats so far.
func (m *WarmupMeter) Stats() WarmupStats {
	m.mu.Lock()
	times := make([]time.Time, len(m.times))
	copy(times, m.times)
	m.mu.Unlock()
	return calculateFPSStats(times)
}

// calculateFPSStats derives FPS mean, spread, and stability from frame
// timestamps. Stable means stddev under 15% of mean.
func calculateFPSStats(frameTimes []time.Time) WarmupStats {
	n := len(frameTimes)
	if n < 2 {
		return WarmupStats{FramesReceived: n}
	}

	totalDuration := frameTimes[n-1].Sub(frameTimes[0])
	if totalDuration <= 0 {
		return WarmupStats{FramesReceived: n}
	}

	fpsMean := float64(n-1) / totalDuration.Seconds()

	instantaneousFPS := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneousFPS = append(instantaneousFPS, 1.0/interval)
		}
	}
	if len(instantaneousFPS) == 0 {
		return WarmupStats{
			FramesReceived: n,
			Duration:       totalDuration,
			FPSMean:        fpsMean,
		}
	}

	fpsMin := instantaneousFPS[0]
	fpsMax := instantaneousFPS[0]
	for _, fps := range instantaneousFPS {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
	}

	var sumSquares float64
	for _, fps := range instantaneousFPS {
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneousFPS)))

	return WarmupStats{
		FramesReceived: n,
		Duration:       totalDuration,
		FPSMean:        fpsMean,
		FPSStdDev:      fpsStdDev,
		FPSMin:         fpsMin,
		FPSMax:         fpsMax,
		IsStable:       fpsStdDev < fpsMean*0.15,
	}
}
