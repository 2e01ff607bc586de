package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/overlay"
	"github.com/e7canasta/orion-scan/internal/types"
	"github.com/e7canasta/orion-scan/internal/worker"
)

// run is the session event loop: sampled frames, worker results, worker
// faults and timers. It exits when the session is released.
func (s *Session) run(w worker.Worker) {
	frames := s.opts.Source.Frames()

	var deadline <-chan time.Time
	if s.opts.MaxDuration > 0 {
		t := time.NewTimer(s.opts.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	decodeTimer := time.NewTimer(time.Hour)
	decodeTimer.Stop()
	defer decodeTimer.Stop()

	for {
		var timeoutC <-chan time.Time
		if d, ok := s.decodeRemaining(); ok {
			decodeTimer.Reset(d)
			timeoutC = decodeTimer.C
		}

		select {
		case <-s.done:
			return

		case <-s.ctx.Done():
			// Parent context ended (service shutdown) or release started.
			if err := s.cancelWith(ReasonShutdown); err == nil {
				slog.Info("session: cancelled by shutdown", "session_id", s.id)
			}
			return

		case frame, ok := <-frames:
			if !ok {
				// The sampler also closes Frames when the session context ends.
				if s.ctx.Err() != nil {
					s.cancelWith(ReasonShutdown)
					return
				}
				s.streamEnded()
				return
			}
			s.handleFrame(w, frame)

		case res := <-w.Results():
			s.handleResult(res)

		case err := <-w.Faults():
			next, ok := s.handleFault(w, err)
			if !ok {
				return
			}
			w = next

		case <-timeoutC:
			s.handleTimeout()

		case <-deadline:
			if err := s.cancelWith(ReasonTimeout); err == nil {
				slog.Info("session: max duration reached", "session_id", s.id, "max_duration", s.opts.MaxDuration)
			}
			return
		}

		if !decodeTimer.Stop() {
			select {
			case <-decodeTimer.C:
			default:
			}
		}
	}
}

// decodeRemaining returns how long the in-flight request may still take.
func (s *Session) decodeRemaining() (time.Duration, bool) {
	if s.opts.DecodeTimeout <= 0 {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inFlight {
		return 0, false
	}
	d := s.opts.DecodeTimeout - time.Since(s.dispatchedAt)
	if d < 0 {
		d = 0
	}
	return d, true
}

// handleFrame dispatches frame if the worker is free and drops it otherwise.
func (s *Session) handleFrame(w worker.Worker, frame types.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.Live() {
		return
	}
	s.counters.Sampled++
	s.opts.Observer.FrameSampled()

	if s.inFlight {
		s.counters.Dropped++
		s.opts.Observer.FrameDropped()
		slog.Debug("session: frame dropped, request in flight",
			"session_id", s.id,
			"seq", frame.Seq,
			"in_flight_seq", s.inFlightSeq,
		)
		return
	}
	if frame.Seq <= s.lastDispatched {
		s.counters.Dropped++
		s.opts.Observer.FrameDropped()
		slog.Debug("session: frame dropped, not newer than last dispatched",
			"session_id", s.id,
			"seq", frame.Seq,
			"last_dispatched", s.lastDispatched,
		)
		return
	}

	err := w.Submit(types.DecodeRequest{Seq: frame.Seq, Frame: frame})
	switch {
	case err == nil:
	case errors.Is(err, worker.ErrBusy):
		// The worker request slot is still occupied, e.g. by an abandoned request.
		s.counters.Dropped++
		s.opts.Observer.FrameDropped()
		return
	default:
		slog.Debug("session: submit failed", "session_id", s.id, "seq", frame.Seq, "error", err)
		s.counters.Dropped++
		s.opts.Observer.FrameDropped()
		return
	}

	s.inFlight = true
	s.inFlightSeq = frame.Seq
	s.dispatchedAt = time.Now()
	s.lastDispatched = frame.Seq
	s.counters.Dispatched++
	s.opts.Observer.RequestDispatched()

	slog.Debug("session: request dispatched", "session_id", s.id, "seq", frame.Seq, "trace_id", frame.TraceID)
}

// handleResult applies res unless a newer result was already applied.
func (s *Session) handleResult(res types.DecodeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return
	}
	s.counters.Received++

	var latency time.Duration
	if s.inFlight && res.Seq == s.inFlightSeq {
		s.inFlight = false
		latency = time.Since(s.dispatchedAt)
	}

	if res.Seq <= s.lastApplied {
		s.counters.Stale++
		s.opts.Observer.ResultStale()
		slog.Debug("session: stale result discarded", "session_id", s.id, "seq", res.Seq, "last_applied", s.lastApplied)
		return
	}
	s.lastApplied = res.Seq
	s.opts.Observer.ResultApplied(res.IsMatch(), latency)

	if res.IsMatch() {
		s.counters.Matches++
		s.applyMatchLocked(res)
		return
	}

	s.counters.Misses++
	if s.state == Detected {
		s.transitionLocked(Streaming)
		slog.Debug("session: symbol lost", "session_id", s.id, "seq", res.Seq)
	}
}

func (s *Session) applyMatchLocked(res types.DecodeResult) {
	poly := overlay.Map(res.Match.Points)
	if poly.Empty() {
		// Geometry too thin to anchor an overlay; the older overlay is stale.
		slog.Debug("session: match without usable geometry", "session_id", s.id, "seq", res.Seq)
		if s.state == Detected {
			s.transitionLocked(Streaming)
		}
		return
	}

	if s.match == nil || s.match.Text != res.Match.Text {
		s.validationErr = ""
	}
	m := *res.Match
	s.match = &m
	s.overlay = poly
	s.overlaySeq = res.Seq

	if s.state == Detected {
		s.notifyLocked()
		return
	}
	slog.Info("session: symbol detected", "session_id", s.id, "seq", res.Seq, "text", m.Text, "symbology", m.Symbology)
	s.transitionLocked(Detected)
}

// handleTimeout abandons an unanswered request so the next frame can go out.
func (s *Session) handleTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inFlight || time.Since(s.dispatchedAt) < s.opts.DecodeTimeout {
		return
	}
	s.inFlight = false
	s.counters.Timeouts++
	s.opts.Observer.DecodeTimeout()
	slog.Warn("session: decode timed out, frame treated as dropped",
		"session_id", s.id,
		"seq", s.inFlightSeq,
		"timeout", s.opts.DecodeTimeout,
	)
}

// handleFault replaces a faulted worker while the restart budget lasts and
// fails the session after that. It returns the worker to keep using.
func (s *Session) handleFault(w worker.Worker, fault error) (worker.Worker, bool) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil, false
	}
	s.inFlight = false

	if s.restarts >= s.opts.MaxWorkerRestarts {
		s.failLocked(&Failure{Kind: FailureWorker, Message: fault.Error()}, ReasonWorkerFault)
		s.mu.Unlock()
		slog.Error("session: decode worker failed, restart budget exhausted",
			"session_id", s.id,
			"restarts", s.restarts,
			"error", fault,
		)
		s.release()
		return nil, false
	}
	s.restarts++
	attempt := s.restarts
	s.mu.Unlock()

	slog.Warn("session: decode worker fault, recreating", "session_id", s.id, "attempt", attempt, "error", fault)

	w.Stop()
	next, err := s.newWorker()

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		if next != nil {
			next.Stop()
		}
		return nil, false
	}
	if err != nil {
		s.failLocked(&Failure{Kind: FailureWorker, Message: fmt.Sprintf("%v; restart failed: %v", fault, err)}, ReasonWorkerFault)
		s.mu.Unlock()
		s.release()
		return nil, false
	}
	s.worker = next
	s.opts.Observer.WorkerRestarted()
	s.notifyLocked()
	s.mu.Unlock()

	return next, true
}

// streamEnded handles Frames closing without a requested stop.
func (s *Session) streamEnded() {
	err := s.opts.Source.Err()
	if err == nil {
		err = camera.NewError(camera.DeviceUnavailable, fmt.Errorf("stream ended"))
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.failLocked(cameraFailure(err), ReasonStreamLost)
	s.mu.Unlock()

	slog.Error("session: camera stream lost", "session_id", s.id, "error", err)
	s.release()
}
