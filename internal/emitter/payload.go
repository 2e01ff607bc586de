package emitter

import (
	"time"

	"github.com/e7canasta/orion-scan/internal/session"
	"github.com/e7canasta/orion-scan/internal/types"
)

// ChangeMessage is the events topic payload for an accepted value.
type ChangeMessage struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
}

// OverlayMessage is the overlay topic payload. Points is empty outside
// Detected, which tells renderers to clear the outline.
type OverlayMessage struct {
	SessionID string        `json:"session_id"`
	State     string        `json:"state"`
	Seq       uint64        `json:"seq"`
	Shape     string        `json:"shape,omitempty"`
	Points    []types.Point `json:"points"`
	Text      string        `json:"text,omitempty"`
	Timestamp string        `json:"timestamp"`
}

// NewChangeMessage builds the events payload for ev.
func NewChangeMessage(sessionID string, ev types.ChangeEvent, at time.Time) ChangeMessage {
	return ChangeMessage{
		Name:      ev.Name,
		Value:     ev.Value,
		SessionID: sessionID,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// NewOverlayMessage builds the overlay payload from a session snapshot.
func NewOverlayMessage(snap session.Snapshot, at time.Time) OverlayMessage {
	msg := OverlayMessage{
		SessionID: snap.ID,
		State:     snap.State.String(),
		Points:    []types.Point{},
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
	if snap.Overlay != nil {
		msg.Seq = snap.OverlaySeq
		msg.Shape = string(snap.Overlay.Shape)
		msg.Points = snap.Overlay.Points
	}
	if snap.Match != nil {
		msg.Text = snap.Match.Text
	}
	return msg
}
