// Package control implements the MQTT command plane for scan sessions.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-scan/internal/config"
)

// Command names accepted on the control topic.
const (
	CmdStartScan = "start_scan"
	CmdAccept    = "accept"
	CmdCancel    = "cancel"
	CmdGetStatus = "get_status"
)

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

// CommandCallbacks contains callback functions for commands. Data returned
// alongside an error is still sent (e.g. the failed session snapshot).
type CommandCallbacks struct {
	OnStartScan func(params map[string]interface{}) (map[string]interface{}, error)
	OnAccept    func() (map[string]interface{}, error)
	OnCancel    func() (map[string]interface{}, error)
	OnGetStatus func() map[string]interface{}
}

// Handler handles control plane commands
type Handler struct {
	cfg       config.MQTTConfig
	client    mqtt.Client
	commands  chan Command
	callbacks CommandCallbacks
}

// NewHandler creates a new control plane handler
func NewHandler(cfg config.MQTTConfig, client mqtt.Client, callbacks CommandCallbacks) *Handler {
	return &Handler{
		cfg:       cfg,
		client:    client,
		commands:  make(chan Command, 10),
		callbacks: callbacks,
	}
}

// ResponseTopic is where command responses are published.
func (h *Handler) ResponseTopic() string {
	return h.cfg.Topics.Control + "/response"
}

// Start subscribes to the control topic and processes commands until ctx
// ends.
func (h *Handler) Start(ctx context.Context) error {
	topic := h.cfg.Topics.Control
	qos := h.cfg.QoS["control"]

	slog.Info("subscribing to control plane", "topic", topic, "qos", qos)

	token := h.client.Subscribe(topic, qos, h.messageHandler)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("control plane subscription timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("control plane subscription failed: %w", err)
	}

	slog.Info("control plane handler started")

	go h.processCommands(ctx)

	return nil
}

// Stop unsubscribes from the control topic. Queued commands are abandoned
// once the Start context ends.
func (h *Handler) Stop() error {
	if h.client != nil && h.client.IsConnected() {
		token := h.client.Unsubscribe(h.cfg.Topics.Control)
		token.WaitTimeout(2 * time.Second)
	}

	slog.Info("control plane handler stopped")
	return nil
}

// messageHandler is called when a control message is received
func (h *Handler) messageHandler(client mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		slog.Error("failed to parse control command", "error", err)
		h.sendResponse(Response{
			CommandAck: "unknown",
			Status:     "error",
			Error:      "invalid JSON",
		})
		return
	}

	slog.Info("control command received", "command", cmd.Command)

	select {
	case h.commands <- cmd:
	default:
		slog.Warn("command queue full, dropping command", "command", cmd.Command)
	}
}

func (h *Handler) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.sendResponse(h.handleCommand(cmd))
		}
	}
}

func (h *Handler) handleCommand(cmd Command) Response {
	resp := Response{CommandAck: cmd.Command}

	switch cmd.Command {
	case CmdGetStatus:
		if h.callbacks.OnGetStatus == nil {
			return notImplemented(resp)
		}
		resp.Status = "success"
		resp.Data = h.callbacks.OnGetStatus()

	case CmdStartScan:
		if h.callbacks.OnStartScan == nil {
			return notImplemented(resp)
		}
		data, err := h.callbacks.OnStartScan(cmd.Params)
		fill(&resp, data, err)

	case CmdAccept:
		if h.callbacks.OnAccept == nil {
			return notImplemented(resp)
		}
		data, err := h.callbacks.OnAccept()
		fill(&resp, data, err)

	case CmdCancel:
		if h.callbacks.OnCancel == nil {
			return notImplemented(resp)
		}
		data, err := h.callbacks.OnCancel()
		fill(&resp, data, err)

	default:
		resp.Status = "error"
		resp.Error = fmt.Sprintf("unknown command: %s", cmd.Command)
	}

	return resp
}

func fill(resp *Response, data map[string]interface{}, err error) {
	resp.Data = data
	if err != nil {
		resp.Status = "error"
		resp.Error = err.Error()
		return
	}
	resp.Status = "success"
}

func notImplemented(resp Response) Response {
	resp.Status = "error"
	resp.Error = resp.CommandAck + " not implemented"
	return resp
}

func (h *Handler) sendResponse(resp Response) {
	resp.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal response", "error", err)
		return
	}

	token := h.client.Publish(h.ResponseTopic(), h.cfg.QoS["control"], false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		slog.Error("response publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		slog.Error("failed to publish response", "error", err)
		return
	}

	slog.Debug("response sent", "command_ack", resp.CommandAck, "status", resp.Status)
}
