// Package emitter publishes bridge events and periodic status to MQTT.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-kiosk-bridge/internal/bridge"
	"github.com/e7canasta/orion-kiosk-bridge/internal/config"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Encode marshals v as "json" or "msgpack".
func Encode(encoding string, v any) ([]byte, error) {
	switch encoding {
	case config.EncodingJSON, "":
		return json.Marshal(v)
	case config.EncodingMsgpack:
		return msgpack.Marshal(v)
	default:
		return nil, fmt.Errorf("emitter: unknown encoding %q", encoding)
	}
}

// sessionClientID suffixes the configured client id so a restarting process does not
// kick its predecessor's session off the broker.
func sessionClientID(base string) string {
	return base + "-" + uuid.NewString()[:8]
}

// MQTTEmitter publishes bridge events and status to the MQTT broker
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // Exported for control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
}

// NewMQTTEmitter creates a new MQTT emitter
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with automatic reconnection. A retained
// offline status is registered as the last will.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	will, err := json.Marshal(map[string]any{
		"instance_id": e.cfg.InstanceID,
		"running":     false,
		"reason":      "connection lost",
	})
	if err != nil {
		return err
	}

	clientID := sessionClientID(e.cfg.MQTT.ClientID)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.MQTT.Broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetBinaryWill(e.cfg.MQTT.Topics.Status, will, e.cfg.MQTT.QoS["status"], true)

	opts.OnConnect = func(mqtt.Client) {
		slog.Info("emitter: mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", clientID,
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s",
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("emitter: connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	select {
	case <-token.Done():
	case <-time.After(connectTimeout):
		e.Client.Disconnect(0)
		return fmt.Errorf("emitter: mqtt connection timeout")
	case <-ctx.Done():
		e.Client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}
	return nil
}

// PublishEvent publishes one bridge event on the events topic, in the configured encoding.
func (e *MQTTEmitter) PublishEvent(ev bridge.Event) error {
	payload, err := Encode(e.cfg.MQTT.EventEncoding, ev)
	if err != nil {
		e.fail()
		return fmt.Errorf("emitter: failed to marshal event: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Events, e.cfg.MQTT.QoS["events"], false, payload)
}

// PublishStatus publishes a status snapshot on the status topic as JSON, retained so a
// late subscriber sees the latest state.
func (e *MQTTEmitter) PublishStatus(s bridge.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		e.fail()
		return fmt.Errorf("emitter: failed to marshal status: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Status, e.cfg.MQTT.QoS["status"], true, payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, retained bool, payload []byte) error {
	if e.Client == nil || !e.Client.IsConnected() {
		e.fail()
		return fmt.Errorf("emitter: mqtt not connected")
	}

	token := e.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		e.fail()
		return fmt.Errorf("emitter: publish timeout")
	}
	if err := token.Error(); err != nil {
		e.fail()
		return fmt.Errorf("emitter: publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("emitter: published", "topic", topic, "qos", qos, "size", len(payload))
	return nil
}

// Run forwards events and publishes status every StatusInterval until ctx ends.
// Publish failures are logged; the broker connection recovers on its own.
func (e *MQTTEmitter) Run(ctx context.Context, events <-chan bridge.Event, status func() bridge.Status) {
	ticker := time.NewTicker(e.cfg.MQTT.StatusInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.PublishEvent(ev); err != nil {
				slog.Warn("emitter: event not published", "kind", ev.Kind, "error", err)
			}
		case <-ticker.C:
			if err := e.PublishStatus(status()); err != nil {
				slog.Warn("emitter: status not published", "error", err)
			}
		}
	}
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	return nil
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.Client != nil && e.Client.IsConnected(),
		Published: published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) fail() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
