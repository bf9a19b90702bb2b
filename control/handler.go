// Package control implements the MQTT control plane for a running sequence.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/antiprimes"
	"github.com/e7canasta/antiprimes/config"
	"github.com/e7canasta/antiprimes/emitter"
)

// commandQueueSize bounds pending commands; overflow is dropped.
const commandQueueSize = 10

// Command represents a control plane command
type Command struct {
	Command string                 `json:"command"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Response represents a command response
type Response struct {
	CommandAck string                 `json:"command_ack"`
	Status     string                 `json:"status"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Timestamp  string                 `json:"timestamp"`
}

// Stats contains control plane counters
type Stats struct {
	Received uint64 `json:"received"`
	Handled  uint64 `json:"handled"`
	Dropped  uint64 `json:"dropped"`
	Invalid  uint64 `json:"invalid"`
}

// Handler handles control plane commands
type Handler struct {
	cfg      config.MQTTConfig
	client   emitter.Client
	seq      antiprimes.Sequence
	defaultK int
	commands chan Command

	wg       sync.WaitGroup
	stopOnce sync.Once

	closedMu sync.RWMutex
	closed   bool

	received atomic.Uint64
	handled  atomic.Uint64
	dropped  atomic.Uint64
	invalid  atomic.Uint64
}

// NewHandler creates a new control plane handler.
//
// defaultK is the window used by get_last_k when params.k is absent.
func NewHandler(cfg config.MQTTConfig, client emitter.Client, seq antiprimes.Sequence, defaultK int) *Handler {
	if defaultK <= 0 {
		defaultK = 10
	}
	return &Handler{
		cfg:      cfg,
		client:   client,
		seq:      seq,
		defaultK: defaultK,
		commands: make(chan Command, commandQueueSize),
	}
}

// Start subscribes to the control topic and processes commands until ctx is
// done or Stop is called.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS.Control

	slog.Info("subscribing to control plane", "component", "control", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	h.wg.Add(1)
	go h.processCommands(ctx)

	slog.Info("control plane handler started", "component", "control")
	return nil
}

// Stop unsubscribes and waits for the processing goroutine.
//
// Idempotent.
func (h *Handler) Stop() error {
	h.stopOnce.Do(func() {
		if h.client != nil && h.client.IsConnected() {
			token := h.client.Unsubscribe(h.cfg.Topics.Control)
			token.WaitTimeout(2 * time.Second)
		}

		h.closedMu.Lock()
		h.closed = true
		close(h.commands)
		h.closedMu.Unlock()

		h.wg.Wait()

		slog.Info("control plane handler stopped", "component", "control")
	})
	return nil
}

// Stats returns control plane counters
func (h *Handler) Stats() Stats {
	return Stats{
		Received: h.received.Load(),
		Handled:  h.handled.Load(),
		Dropped:  h.dropped.Load(),
		Invalid:  h.invalid.Load(),
	}
}

// messageHandler is called by the MQTT client for each control message
func (h *Handler) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	h.received.Add(1)

	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		h.invalid.Add(1)
		slog.Error("failed to parse control command", "component", "control", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "component", "control", "command", cmd.Command)

	h.closedMu.RLock()
	defer h.closedMu.RUnlock()

	if h.closed {
		h.dropped.Add(1)
		return
	}

	select {
	case h.commands <- cmd:
	default:
		h.dropped.Add(1)
		slog.Warn("command queue full, dropping command", "component", "control", "command", cmd.Command)
	}
}

// processCommands processes commands from the queue
func (h *Handler) processCommands(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-h.commands:
			if !ok {
				return
			}
			h.sendResponse(h.handleCommand(ctx, cmd))
			h.handled.Add(1)
		}
	}
}

// handleCommand executes a command and builds its response
func (h *Handler) handleCommand(ctx context.Context, cmd Command) Response {
	resp := Response{CommandAck: cmd.Command, Status: "success"}

	fail := func(err error) Response {
		resp.Status = "error"
		resp.Error = err.Error()
		return resp
	}

	switch cmd.Command {
	case "compute_next":
		req, result, err := h.seq.ComputeNext(ctx)
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{
			"request_id": req.ID,
			"result":     result.String(),
			"base":       req.Base,
			"epoch":      req.Epoch,
		}

	case "reset":
		h.seq.Reset()
		resp.Data = map[string]interface{}{
			"epoch":  h.seq.Epoch(),
			"length": h.seq.Len(),
		}

	case "get_last":
		last, err := h.seq.Last()
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{
			"last":   last,
			"length": h.seq.Len(),
		}

	case "get_last_k":
		k := h.defaultK
		if raw, present := cmd.Params["k"]; present {
			f, ok := raw.(float64)
			if !ok || f < 0 || f != float64(int(f)) {
				return fail(errors.New("invalid 'k' parameter (expected non-negative integer)"))
			}
			k = int(f)
		}
		items, err := h.seq.LastK(k)
		if err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{
			"k":     k,
			"items": items,
		}

	case "get_status":
		data, err := toMap(h.seq.Stats())
		if err != nil {
			return fail(err)
		}
		data["worker_running"] = h.seq.WorkerRunning()
		resp.Data = data

	case "restart_worker":
		if err := h.seq.Restart(ctx); err != nil {
			return fail(err)
		}
		resp.Data = map[string]interface{}{
			"worker_running": h.seq.WorkerRunning(),
			"restarts":       h.seq.Stats().Restarts,
		}

	default:
		return fail(fmt.Errorf("unknown command: %s", cmd.Command))
	}

	return resp
}

// sendResponse publishes a response to the status topic
func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "component", "control", "error", err)
		return
	}

	token := h.client.Publish(h.cfg.Topics.Status, h.cfg.QoS.Control, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout", "component", "control")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "component", "control", "error", err)
		return
	}

	slog.Debug("response sent", "component", "control", "command_ack", resp.CommandAck, "status", resp.Status)
}

// toMap converts a JSON-tagged struct into a generic map.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
