package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/e7canasta/orion-scan/internal/overlay"
	"github.com/e7canasta/orion-scan/internal/types"
)

// State is the scan session lifecycle state.
type State int

const (
	Idle State = iota
	RequestingPermission
	Streaming
	Detected
	Accepted
	Cancelled
	Failed
)

var stateNames = map[State]string{
	Idle:                 "idle",
	RequestingPermission: "requesting_permission",
	Streaming:            "streaming",
	Detected:             "detected",
	Accepted:             "accepted",
	Cancelled:            "cancelled",
	Failed:               "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Accepted || s == Cancelled || s == Failed
}

// Live reports whether the camera stream is held in this state.
func (s State) Live() bool {
	return s == Streaming || s == Detected
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// FailureKind tells which collaborator failed the session.
type FailureKind string

const (
	FailureCamera FailureKind = "camera"
	FailureWorker FailureKind = "worker"
)

// Failure describes why a session ended in Failed.
type Failure struct {
	Kind FailureKind `json:"kind"`
	// CameraKind is set for camera failures (e.g. "permission_denied").
	CameraKind string `json:"camera_kind,omitempty"`
	Message    string `json:"message"`
}

// EndReason values recorded when a session reaches a terminal state.
const (
	ReasonAccepted    = "accepted"
	ReasonCancelled   = "cancelled"
	ReasonTimeout     = "timeout"
	ReasonShutdown    = "shutdown"
	ReasonCamera      = "camera_error"
	ReasonStreamLost  = "stream_lost"
	ReasonWorkerFault = "worker_fault"
)

// Counters accumulate per-session pipeline activity.
type Counters struct {
	Sampled    uint64 `json:"sampled"`
	Dropped    uint64 `json:"dropped"`
	Dispatched uint64 `json:"dispatched"`
	Received   uint64 `json:"received"`
	Matches    uint64 `json:"matches"`
	Misses     uint64 `json:"misses"`
	Stale      uint64 `json:"stale"`
	Timeouts   uint64 `json:"timeouts"`
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	ID              string             `json:"id"`
	State           State              `json:"state"`
	Failure         *Failure           `json:"failure,omitempty"`
	EndReason       string             `json:"end_reason,omitempty"`
	Overlay         *overlay.Polygon   `json:"overlay,omitempty"`
	OverlaySeq      uint64             `json:"overlay_seq,omitempty"`
	Match           *types.Match       `json:"match,omitempty"`
	ValidationError string             `json:"validation_error,omitempty"`
	Accepted        *types.ChangeEvent `json:"accepted,omitempty"`
	StreamHeld      bool               `json:"stream_held"`
	InFlight        bool               `json:"in_flight"`
	LastDispatched  uint64             `json:"last_dispatched_seq"`
	LastApplied     uint64             `json:"last_applied_seq"`
	WorkerRestarts  int                `json:"worker_restarts"`
	Counters        Counters           `json:"counters"`
	StartedAt       time.Time          `json:"started_at"`
	EndedAt         *time.Time         `json:"ended_at,omitempty"`
}
