// Package camera owns the camera stream and turns it into a paced sequence of
// sampled frames.
//
// A device (GStreamer pipeline or mock generator) publishes native frames
// into a single-slot mailbox at whatever rate it runs. A sampling goroutine
// wakes every SamplePeriod and takes the newest frame only if it has not been
// sampled before, so a slow device never produces duplicate samples and a
// fast one never builds a backlog.
//
//	device --Publish--> [mailbox: latest only] --tick--> Frames()
package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/e7canasta/orion-scan/internal/types"
)

// DefaultSamplePeriod is the cadence at which frames are offered for decoding.
const DefaultSamplePeriod = 200 * time.Millisecond

// Source is a camera stream producing sampled frames.
type Source interface {
	// Start acquires the stream. Failures are *CameraError.
	Start(ctx context.Context, c types.Constraints) error
	// Frames yields sampled frames until Stop. Never restarts.
	Frames() <-chan types.Frame
	// Err reports why Frames closed, nil after a requested Stop.
	Err() error
	// Stop releases the stream. Idempotent, valid in any state.
	Stop() error
	Stats() Stats
}

// Stats is a snapshot of source activity.
type Stats struct {
	Running      bool
	Width        int
	Height       int
	NativeFrames uint64  // frames delivered by the device
	Overwritten  uint64  // native frames replaced before any tick took them
	Sampled      uint64  // frames yielded on Frames()
	EmptyTicks   uint64  // ticks with no fresh frame
	Undelivered  uint64  // samples replaced because the consumer had not read the previous one
	NativeFPS    float64 // measured over the source lifetime
	StartedAt    time.Time
}

// ErrorKind classifies why a stream could not be acquired or was lost.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota
	DeviceUnavailable
	ConstraintsNotSatisfiable
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceUnavailable:
		return "device_unavailable"
	case ConstraintsNotSatisfiable:
		return "constraints_not_satisfiable"
	default:
		return "unknown"
	}
}

// ParseErrorKind is the inverse of ErrorKind.String.
func ParseErrorKind(s string) (ErrorKind, error) {
	for _, k := range []ErrorKind{PermissionDenied, DeviceUnavailable, ConstraintsNotSatisfiable} {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown camera error kind %q", s)
}

// CameraError is the only error kind a Source reports.
type CameraError struct {
	Kind ErrorKind
	Err  error
}

func (e *CameraError) Error() string {
	if e.Err == nil {
		return "camera: " + e.Kind.String()
	}
	return fmt.Sprintf("camera: %s: %v", e.Kind, e.Err)
}

func (e *CameraError) Unwrap() error { return e.Err }

// NewError wraps err with kind.
func NewError(kind ErrorKind, err error) *CameraError {
	return &CameraError{Kind: kind, Err: err}
}

// KindOf extracts the kind of a *CameraError anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var cerr *CameraError
	if errors.As(err, &cerr) {
		return cerr.Kind, true
	}
	return 0, false
}

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("camera: source already started")
