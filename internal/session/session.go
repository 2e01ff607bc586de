// Package session runs one scan: it acquires the camera, feeds sampled frames
// to a decode worker one request at a time, turns results into an overlay,
// and finalizes on accept, cancel or failure.
//
// State machine:
//
//	Idle → RequestingPermission → Streaming ⇄ Detected → Accepted
//	                  │                 │          │
//	                  └──→ Failed ←─────┴──────────┤
//	                                               └──→ Cancelled (from any non-terminal state)
//
// Every transition happens under a single mutex. A dedicated loop goroutine
// is the only dispatcher of decode requests. While a request is in flight,
// newly sampled frames are dropped rather than queued, so the worker always
// sees the freshest frame available when it becomes free.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/gate"
	"github.com/e7canasta/orion-scan/internal/overlay"
	"github.com/e7canasta/orion-scan/internal/types"
	"github.com/e7canasta/orion-scan/internal/worker"
)

var (
	// ErrAlreadyStarted is returned when Start is called on a used session.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrNotDetected is returned by Accept outside the Detected state.
	ErrNotDetected = errors.New("session: no detection to accept")
	// ErrTerminal is returned when acting on a finished session.
	ErrTerminal = errors.New("session: already finished")
)

// Config tunes one session.
type Config struct {
	Constraints types.Constraints
	// DecodeTimeout abandons an unanswered request; 0 waits forever.
	DecodeTimeout time.Duration
	// MaxDuration cancels the session after this long; 0 disables.
	MaxDuration time.Duration
	// MaxWorkerRestarts is the number of automatic worker re-creations.
	MaxWorkerRestarts int
}

// Options wires a session to its collaborators.
type Options struct {
	Config

	Source   camera.Source
	Workers  worker.Factory
	Gate     gate.Gate
	Observer Observer
	// OnChange is called exactly once, after a successful Accept.
	OnChange func(types.ChangeEvent)
}

// Session is a single scan. It is not reusable.
type Session struct {
	id   string
	opts Options

	mu             sync.Mutex
	state          State
	failure        *Failure
	endReason      string
	overlay        overlay.Polygon
	overlaySeq     uint64
	match          *types.Match
	validationErr  string
	accepted       *types.ChangeEvent
	worker         worker.Worker
	restarts       int
	starting       bool
	inFlight       bool
	inFlightSeq    uint64
	dispatchedAt   time.Time
	lastDispatched uint64
	lastApplied    uint64
	counters       Counters
	streamHeld     bool
	startedAt      time.Time
	endedAt        time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	releaseOnce sync.Once
	updates     chan Snapshot
}

// New validates opts and creates an Idle session.
func New(opts Options) (*Session, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("session: source is required")
	}
	if opts.Workers == nil {
		return nil, fmt.Errorf("session: worker factory is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("session: gate is required")
	}
	if opts.MaxWorkerRestarts < 0 {
		return nil, fmt.Errorf("session: max worker restarts must be >= 0, got %d", opts.MaxWorkerRestarts)
	}
	if opts.DecodeTimeout < 0 || opts.MaxDuration < 0 {
		return nil, fmt.Errorf("session: timeouts must be >= 0")
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}

	return &Session{
		id:      uuid.New().String(),
		opts:    opts,
		state:   Idle,
		done:    make(chan struct{}),
		updates: make(chan Snapshot, 1),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Start acquires the camera and begins streaming. It blocks while the camera
// is being opened. A camera failure moves the session to Failed and is
// returned as a *camera.CameraError.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = time.Now()
	s.starting = true
	s.transitionLocked(RequestingPermission)
	s.mu.Unlock()

	slog.Info("session: requesting camera",
		"session_id", s.id,
		"facing_mode", s.opts.Constraints.FacingMode,
		"width", s.opts.Constraints.IdealWidth,
		"height", s.opts.Constraints.IdealHeight,
	)

	srcErr := s.opts.Source.Start(s.ctx, s.opts.Constraints)

	s.mu.Lock()
	s.starting = false
	if s.state != RequestingPermission {
		// Cancelled while the camera was opening.
		s.mu.Unlock()
		s.release()
		return ErrTerminal
	}
	if srcErr != nil {
		s.failLocked(cameraFailure(srcErr), ReasonCamera)
		s.mu.Unlock()
		s.release()
		slog.Warn("session: camera unavailable", "session_id", s.id, "error", srcErr)
		return srcErr
	}
	s.mu.Unlock()

	w, err := s.newWorker()
	if err != nil {
		s.mu.Lock()
		if !s.state.Terminal() {
			s.failLocked(&Failure{Kind: FailureWorker, Message: err.Error()}, ReasonWorkerFault)
		}
		s.mu.Unlock()
		s.release()
		return err
	}

	s.mu.Lock()
	if s.state != RequestingPermission {
		s.mu.Unlock()
		w.Stop()
		s.release()
		return ErrTerminal
	}
	s.worker = w
	s.streamHeld = true
	s.transitionLocked(Streaming)
	s.mu.Unlock()

	go s.run(w)

	slog.Info("session: streaming", "session_id", s.id, "worker_id", w.ID())
	return nil
}

func (s *Session) newWorker() (worker.Worker, error) {
	w, err := s.opts.Workers()
	if err != nil {
		return nil, fmt.Errorf("create decode worker: %w", err)
	}
	if err := w.Start(s.ctx); err != nil {
		w.Stop()
		return nil, fmt.Errorf("start decode worker: %w", err)
	}
	return w, nil
}

func cameraFailure(err error) *Failure {
	f := &Failure{Kind: FailureCamera, Message: err.Error()}
	if kind, ok := camera.KindOf(err); ok {
		f.CameraKind = kind.String()
	} else {
		f.CameraKind = camera.DeviceUnavailable.String()
	}
	return f
}

// Accept finalizes a Detected session through the gate. A validation
// failure leaves the session Detected and returns a *gate.ValidationError.
func (s *Session) Accept() (types.ChangeEvent, error) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return types.ChangeEvent{}, ErrTerminal
	}
	if s.state != Detected || s.match == nil {
		state := s.state
		s.mu.Unlock()
		return types.ChangeEvent{}, fmt.Errorf("%w (state %s)", ErrNotDetected, state)
	}

	value, err := s.opts.Gate.Validate(s.match.Text)
	if err != nil {
		s.validationErr = err.Error()
		s.notifyLocked()
		s.mu.Unlock()
		slog.Info("session: accept rejected", "session_id", s.id, "error", err)
		return types.ChangeEvent{}, err
	}

	event := types.ChangeEvent{Name: s.opts.Gate.Field(), Value: value}
	s.accepted = &event
	s.validationErr = ""
	s.endLocked(Accepted, ReasonAccepted)
	s.mu.Unlock()

	s.release()

	slog.Info("session: value accepted", "session_id", s.id, "field", event.Name, "value", event.Value)
	if s.opts.OnChange != nil {
		s.opts.OnChange(event)
	}
	return event, nil
}

// Cancel ends a non-terminal session and releases the camera.
func (s *Session) Cancel() error {
	return s.cancelWith(ReasonCancelled)
}

func (s *Session) cancelWith(reason string) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return ErrTerminal
	}
	starting := s.starting
	s.endLocked(Cancelled, reason)
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	slog.Info("session: cancelled", "session_id", s.id, "reason", reason)

	// Start releases once the camera call returns.
	if !starting {
		s.release()
	}
	return nil
}

// Snapshot returns a consistent copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates delivers the newest snapshot after every change. Only the latest
// unread snapshot is kept.
func (s *Session) Updates() <-chan Snapshot { return s.updates }

// Done is closed once the session is terminal and its resources released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until Done or ctx ends.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:              s.id,
		State:           s.state,
		EndReason:       s.endReason,
		ValidationError: s.validationErr,
		StreamHeld:      s.streamHeld,
		InFlight:        s.inFlight,
		LastDispatched:  s.lastDispatched,
		LastApplied:     s.lastApplied,
		WorkerRestarts:  s.restarts,
		Counters:        s.counters,
		StartedAt:       s.startedAt,
	}
	if s.failure != nil {
		f := *s.failure
		snap.Failure = &f
	}
	if !s.overlay.Empty() {
		p := overlay.Polygon{Shape: s.overlay.Shape, Points: append([]types.Point(nil), s.overlay.Points...)}
		snap.Overlay = &p
		snap.OverlaySeq = s.overlaySeq
	}
	if s.match != nil {
		m := *s.match
		m.Points = append([]types.Point(nil), s.match.Points...)
		snap.Match = &m
	}
	if s.accepted != nil {
		ev := *s.accepted
		snap.Accepted = &ev
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		snap.EndedAt = &t
	}
	return snap
}

// notifyLocked publishes the current snapshot, replacing an unread one.
func (s *Session) notifyLocked() {
	snap := s.snapshotLocked()
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}

func (s *Session) transitionLocked(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	if to != Detected {
		s.overlay = overlay.Polygon{}
		s.overlaySeq = 0
		s.match = nil
		s.validationErr = ""
	}
	slog.Debug("session: transition", "session_id", s.id, "from", from, "to", to)
	s.notifyLocked()
}

// endLocked moves to a terminal state. The stream is considered released
// from this point; release performs the actual stop.
func (s *Session) endLocked(to State, reason string) {
	s.endReason = reason
	s.endedAt = time.Now()
	s.streamHeld = false
	s.inFlight = false
	s.transitionLocked(to)
	s.opts.Observer.SessionEnded(to, reason)
}

func (s *Session) failLocked(f *Failure, reason string) {
	s.failure = f
	s.endLocked(Failed, reason)
}

// release stops the camera and the worker exactly once.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		if err := s.opts.Source.Stop(); err != nil {
			slog.Warn("session: camera stop failed", "session_id", s.id, "error", err)
		}

		s.mu.Lock()
		w := s.worker
		s.mu.Unlock()
		if w != nil {
			if err := w.Stop(); err != nil {
				slog.Warn("session: worker stop failed", "session_id", s.id, "error", err)
			}
		}

		close(s.done)

		snap := s.Snapshot()
		slog.Info("session: released",
			"session_id", s.id,
			"state", snap.State,
			"reason", snap.EndReason,
			"dispatched", snap.Counters.Dispatched,
			"dropped", snap.Counters.Dropped,
			"matches", snap.Counters.Matches,
		)
	})
}
