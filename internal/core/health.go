package core

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/projectlend/lend/internal/frameslot"
	"github.com/projectlend/lend/internal/pipeline"
	"github.com/projectlend/lend/internal/stream"
	"github.com/projectlend/lend/internal/types"
)

// HealthStatus is the readiness report for the whole service.
type HealthStatus struct {
	Status        string              `json:"status"` // "healthy", "degraded", "unhealthy"
	UptimeSeconds int64               `json:"uptime_seconds"`
	Mode          types.PipelineMode  `json:"mode"`
	ArmEnabled    bool                `json:"arm_enabled"`
	MQTTConnected bool                `json:"mqtt_connected"`
	Stream        stream.Stats        `json:"stream"`
	Frames        frameslot.Stats     `json:"frames"`
	Pipeline      pipeline.Stats      `json:"pipeline"`
	Warmup        *stream.WarmupStats `json:"warmup,omitempty"`
}

// HealthCheck assembles the current health status.
func (l *Lend) HealthCheck() HealthStatus {
	l.mu.RLock()
	isRunning := l.isRunning
	started := l.started
	warmupStats := l.warmupStats
	l.mu.RUnlock()

	status := HealthStatus{
		Status:     "healthy",
		Mode:       l.pub.Read().Mode,
		ArmEnabled: l.arm != nil,
		Frames:     l.slot.Stats(),
		Pipeline:   l.ctrl.Stats(),
		Warmup:     warmupStats,
	}
	if isRunning {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
	}
	if l.stream != nil {
		status.Stream = l.stream.Stats()
	}
	if l.emitter != nil {
		status.MQTTConnected = l.emitter.Stats().Connected
	}

	switch {
	case !isRunning:
		status.Status = "unhealthy"
	case !status.Stream.IsConnected:
		status.Status = "unhealthy"
	case l.emitter != nil && !status.MQTTConnected:
		status.Status = "degraded"
	case status.Mode == types.ModeError:
		status.Status = "degraded"
	}
	return status
}

// LivenessHandler answers /health: the process is up.
func (l *Lend) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	l.mu.RLock()
	started := l.started
	l.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": int64(time.Since(started).Seconds()),
	})
}

// ReadinessHandler answers /readiness: 200 when the pipeline can take
// donations, 503 otherwise.
func (l *Lend) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	health := l.HealthCheck()

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(health)
}
