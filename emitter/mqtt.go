// Package emitter publishes sequence growth events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/config"
)

// SubscriberID is the notifier subscription used by Run.
const SubscriberID = "mqtt-emitter"

var (
	ErrNotConnected   = errors.New("emitter: mqtt not connected")
	ErrPublishTimeout = errors.New("emitter: publish timeout")
)

// Client is the subset of mqtt.Client used by the emitter and the control plane.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTEmitter publishes every appended antiprime to the events topic
type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client Client

	mu        sync.RWMutex
	published uint64
	errors    uint64
	lastIndex int
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
	LastIndex int    `json:"last_index"`
}

// NewMQTTEmitter creates an emitter; call Connect before publishing.
func NewMQTTEmitter(cfg config.MQTTConfig) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, lastIndex: -1}
}

// NewMQTTEmitterWithClient creates an emitter over an existing connection.
func NewMQTTEmitterWithClient(cfg config.MQTTConfig, client Client) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, client: client, lastIndex: -1}
}

// Connect establishes connection to MQTT broker
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		slog.Info("mqtt connection established",
			"component", "emitter",
			"broker", e.cfg.Broker,
			"client_id", e.cfg.ClientID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"component", "emitter",
			"error", err,
			"broker", e.cfg.Broker,
		)
	}

	client := mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "component", "emitter", "broker", e.cfg.Broker)

	token := client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.client = client
	e.mu.Unlock()

	return nil
}

// Client returns the underlying connection (shared with the control plane).
func (e *MQTTEmitter) Client() Client {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client
}

// Run subscribes to seq and publishes each event until ctx is done.
func (e *MQTTEmitter) Run(ctx context.Context, seq antiprimes.Sequence, buffer int) error {
	events := make(chan antiprimes.Event, buffer)
	if err := seq.Subscribe(SubscriberID, events); err != nil {
		return fmt.Errorf("subscribe to sequence: %w", err)
	}
	defer func() { _ = seq.Unsubscribe(SubscriberID) }()

	slog.Info("mqtt emitter started",
		"component", "emitter",
		"topic", e.cfg.Topics.Events,
		"encoding", e.cfg.Encoding,
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := e.Publish(ev); err != nil {
				slog.Warn("event publish failed",
					"component", "emitter",
					"index", ev.Index,
					"error", err,
				)
			}
		}
	}
}

// Publish encodes ev and publishes it to the events topic
func (e *MQTTEmitter) Publish(ev antiprimes.Event) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := Encode(ev, e.cfg.Encoding)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := e.publish(e.cfg.Topics.Events, e.cfg.QoS.Events, payload); err != nil {
		e.countError()
		return err
	}

	e.mu.Lock()
	e.published++
	e.lastIndex = ev.Index
	e.mu.Unlock()

	slog.Debug("event published",
		"component", "emitter",
		"topic", e.cfg.Topics.Events,
		"index", ev.Index,
		"size", len(payload),
	)

	return nil
}

// PublishStatus publishes a raw payload to the status topic
func (e *MQTTEmitter) PublishStatus(payload []byte) error {
	if !e.isConnected() {
		return ErrNotConnected
	}
	return e.publish(e.cfg.Topics.Status, e.cfg.QoS.Control, payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	token := e.Client().Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() {
	client := e.Client()
	if client != nil && client.IsConnected() {
		client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected", "component", "emitter")
	}
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	connected := e.isConnected()

	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Connected: connected,
		Published: e.published,
		Errors:    e.errors,
		LastIndex: e.lastIndex,
	}
}

func (e *MQTTEmitter) isConnected() bool {
	client := e.Client()
	return client != nil && client.IsConnected()
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

// Encode serialises ev as "json" or "msgpack".
func Encode(ev antiprimes.Event, encoding string) ([]byte, error) {
	switch encoding {
	case "", "json":
		return json.Marshal(ev)
	case "msgpack":
		return msgpack.Marshal(ev)
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Decode is the inverse of Encode.
func Decode(payload []byte, encoding string) (antiprimes.Event, error) {
	var ev antiprimes.Event
	var err error

	switch encoding {
	case "", "json":
		err = json.Unmarshal(payload, &ev)
	case "msgpack":
		err = msgpack.Unmarshal(payload, &ev)
	default:
		err = fmt.Errorf("unknown encoding %q", encoding)
	}

	return ev, err
}
