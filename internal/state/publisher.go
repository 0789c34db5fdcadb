// Package state holds the pipeline's shared status snapshot. Writers are the
// pipeline controller and its workers; readers are the HTTP API and the MQTT
// emitter. The snapshot is small and copied out whole, so readers never see a
// half-written update.
package state

import (
	"sync"
	"time"

	"github.com/projectlend/lend/internal/types"
)

// Listener is notified after every publish with a copy of the new snapshot.
// Called synchronously from the publishing goroutine; keep it fast or fan
// out internally.
type Listener func(types.PipelineSnapshot)

// Publisher is a mutex-guarded snapshot of pipeline mode and last result.
type Publisher struct {
	mu       sync.RWMutex
	snap     types.PipelineSnapshot
	listener Listener
}

// New returns a Publisher in idle state.
func New() *Publisher {
	return &Publisher{
		snap: types.PipelineSnapshot{
			Mode:      types.ModeIdle,
			UpdatedAt: time.Now(),
		},
	}
}

// OnUpdate registers the listener called after each publish. One listener;
// a later call replaces the earlier one.
func (p *Publisher) OnUpdate(fn Listener) {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
}

// Publish replaces mode and status text, keeping the last result.
func (p *Publisher) Publish(mode types.PipelineMode, statusText string) {
	p.publish(mode, statusText, nil, false)
}

// PublishResult replaces the snapshot including the last classification
// result. A nil result clears it.
func (p *Publisher) PublishResult(mode types.PipelineMode, statusText string, result *types.ResultSummary) {
	p.publish(mode, statusText, result, true)
}

func (p *Publisher) publish(mode types.PipelineMode, statusText string, result *types.ResultSummary, setResult bool) {
	p.mu.Lock()
	p.snap.Mode = mode
	p.snap.StatusText = statusText
	if setResult {
		p.snap.LastResult = result
	}
	p.snap.UpdatedAt = time.Now()
	snap := p.snap
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener(snap)
	}
}

// Read returns a copy of the current snapshot.
func (p *Publisher) Read() types.PipelineSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}
