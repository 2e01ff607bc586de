package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-scan/internal/config"
)

type doneToken struct {
	mqtt.Token
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

// loopbackClient hands subscribed handlers to the test and forwards
// publishes to a channel.
type loopbackClient struct {
	mqtt.Client

	subscribed chan mqtt.MessageHandler
	published  chan mqtt.Message
}

func newLoopbackClient() *loopbackClient {
	return &loopbackClient{
		subscribed: make(chan mqtt.MessageHandler, 1),
		published:  make(chan mqtt.Message, 16),
	}
}

func (c *loopbackClient) IsConnected() bool { return true }

func (c *loopbackClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	c.subscribed <- cb
	return doneToken{}
}

func (c *loopbackClient) Unsubscribe(topics ...string) mqtt.Token { return doneToken{} }

func (c *loopbackClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published <- message{topic: topic, payload: payload.([]byte)}
	return doneToken{}
}

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

func startHandler(t *testing.T, cb CommandCallbacks) (*loopbackClient, mqtt.MessageHandler) {
	t.Helper()
	cfg := config.MQTTConfig{
		Topics: config.MQTTTopics{Control: "orion/scan/t/control"},
		QoS:    map[string]byte{"control": 1},
	}
	client := newLoopbackClient()
	h := NewHandler(cfg, client, cb)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return client, <-client.subscribed
}

func send(client *loopbackClient, handler mqtt.MessageHandler, payload string) {
	handler(client, message{topic: "orion/scan/t/control", payload: []byte(payload)})
}

func receive(t *testing.T, client *loopbackClient) Response {
	t.Helper()
	select {
	case msg := <-client.published:
		if msg.Topic() != "orion/scan/t/control/response" {
			t.Errorf("response topic = %s", msg.Topic())
		}
		var resp Response
		if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
			t.Fatalf("response payload: %v", err)
		}
		if _, err := time.Parse(time.RFC3339Nano, resp.Timestamp); err != nil {
			t.Errorf("timestamp %q: %v", resp.Timestamp, err)
		}
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("no response published")
		return Response{}
	}
}

func TestCommands(t *testing.T) {
	var gotParams map[string]interface{}
	client, handler := startHandler(t, CommandCallbacks{
		OnStartScan: func(params map[string]interface{}) (map[string]interface{}, error) {
			gotParams = params
			return map[string]interface{}{"state": "streaming"}, nil
		},
		OnAccept: func() (map[string]interface{}, error) {
			return nil, errors.New("vin: expected 17 characters, got 9")
		},
		OnCancel: func() (map[string]interface{}, error) {
			return map[string]interface{}{"state": "cancelled"}, nil
		},
		OnGetStatus: func() map[string]interface{} {
			return map[string]interface{}{"state": "detected"}
		},
	})

	tests := []struct {
		payload    string
		wantAck    string
		wantStatus string
		wantError  string
		wantState  string
	}{
		{`{"command":"start_scan","params":{"facing_mode":"user"}}`, "start_scan", "success", "", "streaming"},
		{`{"command":"get_status"}`, "get_status", "success", "", "detected"},
		{`{"command":"accept"}`, "accept", "error", "vin: expected 17 characters, got 9", ""},
		{`{"command":"cancel"}`, "cancel", "success", "", "cancelled"},
		{`{"command":"self_destruct"}`, "self_destruct", "error", "unknown command: self_destruct", ""},
		{`not json`, "unknown", "error", "invalid JSON", ""},
	}

	for _, tt := range tests {
		send(client, handler, tt.payload)
		resp := receive(t, client)

		if resp.CommandAck != tt.wantAck || resp.Status != tt.wantStatus || resp.Error != tt.wantError {
			t.Errorf("%s: resp = %+v", tt.payload, resp)
		}
		if tt.wantState != "" && resp.Data["state"] != tt.wantState {
			t.Errorf("%s: data = %v", tt.payload, resp.Data)
		}
	}

	if gotParams["facing_mode"] != "user" {
		t.Errorf("start_scan params = %v", gotParams)
	}
}

func TestMissingCallback(t *testing.T) {
	client, handler := startHandler(t, CommandCallbacks{})

	send(client, handler, `{"command":"accept"}`)
	resp := receive(t, client)
	if resp.Status != "error" || resp.Error != "accept not implemented" {
		t.Errorf("resp = %+v", resp)
	}
}

func TestErrorKeepsData(t *testing.T) {
	h := NewHandler(config.MQTTConfig{}, nil, CommandCallbacks{
		OnStartScan: func(map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"state": "failed"}, errors.New("camera: permission_denied")
		},
	})

	resp := h.handleCommand(Command{Command: CmdStartScan})
	if resp.Status != "error" || resp.Data["state"] != "failed" {
		t.Errorf("resp = %+v", resp)
	}
}
