// Package emitter publishes pipeline state and donation events to MQTT.
// The emitter is optional; with no broker configured every publish is a
// silent no-op so the rest of the pipeline never branches on it.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/projectlend/lend/internal/config"
	"github.com/projectlend/lend/internal/types"
)

// MQTTEmitter publishes to an MQTT broker with automatic reconnection.
type MQTTEmitter struct {
	broker     string
	clientID   string
	stateTopic string
	eventTopic string
	client     mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

// NewMQTTEmitter builds an emitter from config. Returns nil when no broker
// is configured; callers treat a nil emitter as disabled.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	if cfg.MQTT.Broker == "" {
		return nil
	}
	return &MQTTEmitter{
		broker:     cfg.MQTT.Broker,
		clientID:   cfg.InstanceID,
		stateTopic: fmt.Sprintf(cfg.MQTT.Topics.State, cfg.InstanceID),
		eventTopic: fmt.Sprintf(cfg.MQTT.Topics.Donations, cfg.InstanceID),
		published:  make(map[string]uint64),
	}
}

// Connect establishes the broker connection. Auto-reconnect is enabled, so a
// later broker outage degrades publishes instead of killing the process.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.broker,
			"client_id", e.clientID)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.broker)
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// PublishState publishes the pipeline snapshot, retained so late subscribers
// see the current mode immediately.
func (e *MQTTEmitter) PublishState(snap types.PipelineSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return e.publish(e.stateTopic, payload, true)
}

// PublishDonation publishes a completed donation record.
func (e *MQTTEmitter) PublishDonation(rec types.DonationRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal donation: %w", err)
	}
	return e.publish(e.eventTopic, payload, false)
}

func (e *MQTTEmitter) publish(topic string, payload []byte, retained bool) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.client.Publish(topic, 0, retained, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("mqtt published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return nil
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a copy of the emitter counters.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
