// Package core wires camera, decode workers and the acceptance gate into a
// scan service with one active session at a time, and exposes it over HTTP
// and the MQTT control plane.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/control"
	"github.com/e7canasta/orion-scan/internal/emitter"
	"github.com/e7canasta/orion-scan/internal/gate"
	"github.com/e7canasta/orion-scan/internal/metrics"
	"github.com/e7canasta/orion-scan/internal/session"
	"github.com/e7canasta/orion-scan/internal/types"
	"github.com/e7canasta/orion-scan/internal/worker"
)

var (
	// ErrNotRunning is returned while the service is not started.
	ErrNotRunning = errors.New("scanner: service not running")
	// ErrScanInProgress is returned when a live session already exists.
	ErrScanInProgress = errors.New("scanner: scan already in progress")
	// ErrNoSession is returned when no session was ever started.
	ErrNoSession = errors.New("scanner: no scan session")
)

// Emitter publishes scan output. *emitter.MQTTEmitter implements it.
type Emitter interface {
	PublishChange(emitter.ChangeMessage) error
	PublishOverlay(emitter.OverlayMessage) error
}

// Deps are the service collaborators. Zero fields are built from config.
type Deps struct {
	Sources SourceFactory
	Workers worker.Factory
	Gate    gate.Gate
	Metrics *metrics.Metrics
	Emitter Emitter
}

// Service owns the scan sessions of one scanner instance.
type Service struct {
	cfg     *config.Config
	deps    Deps
	metrics *metrics.Metrics

	mqtt           *emitter.MQTTEmitter
	controlHandler *control.Handler

	mu        sync.RWMutex
	current   *session.Session
	isRunning bool
	started   time.Time
	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup
}

// NewService creates a service from cfg, filling missing deps.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	var err error
	if deps.Sources == nil {
		if deps.Sources, err = NewSourceFactory(cfg); err != nil {
			return nil, fmt.Errorf("failed to create camera backend: %w", err)
		}
	}
	if deps.Workers == nil {
		if deps.Workers, err = NewWorkerFactory(cfg); err != nil {
			return nil, fmt.Errorf("failed to create decode workers: %w", err)
		}
	}
	if deps.Gate == nil {
		deps.Gate = NewGate(cfg)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	slog.Info("scan service configured",
		"instance_id", cfg.InstanceID,
		"camera_backend", cfg.Camera.Backend,
		"decoder_mode", cfg.Decoder.Mode,
		"symbologies", cfg.Decoder.Symbologies,
		"field", deps.Gate.Field(),
	)

	return &Service{cfg: cfg, deps: deps, metrics: deps.Metrics}, nil
}

// Start connects MQTT (when enabled) and makes the service accept scans.
// Sessions are children of ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Unlock()

	if s.cfg.MQTT.Enabled && s.deps.Emitter == nil {
		if err := s.startMQTT(runCtx); err != nil {
			cancel()
			return err
		}
	}

	s.mu.Lock()
	s.isRunning = true
	s.started = time.Now()
	s.runCtx = runCtx
	s.cancelRun = cancel
	s.mu.Unlock()

	slog.Info("scan service started", "instance_id", s.cfg.InstanceID)
	return nil
}

func (s *Service) startMQTT(ctx context.Context) error {
	s.mqtt = emitter.NewMQTTEmitter(s.cfg.MQTT)
	if err := s.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect mqtt: %w", err)
	}
	s.deps.Emitter = s.mqtt

	s.controlHandler = control.NewHandler(s.cfg.MQTT, s.mqtt.Client, control.CommandCallbacks{
		OnStartScan: s.startScanCommand,
		OnAccept:    s.acceptCommand,
		OnCancel:    s.cancelCommand,
		OnGetStatus: s.getStatus,
	})
	if err := s.controlHandler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	return nil
}

// Shutdown ends the active session and disconnects MQTT.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	sess := s.current
	cancel := s.cancelRun
	s.mu.Unlock()

	slog.Info("shutting down scan service")

	// Live sessions see their context end and finish as cancelled/shutdown.
	cancel()
	if sess != nil {
		if err := sess.Wait(ctx); err != nil {
			slog.Warn("session did not finish in time, cancelling", "session_id", sess.ID())
			sess.Cancel()
		}
	}

	if s.controlHandler != nil {
		if err := s.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timeout waiting for update forwarders")
	}

	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}

	slog.Info("scan service stopped")
	return nil
}

// ShutdownTimeout returns the configured graceful shutdown timeout
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout()
}

// StartScan begins a new session. c overrides the configured constraints
// field by field when non-nil. It blocks while the camera opens; the
// returned snapshot reflects the outcome even when err is non-nil.
func (s *Service) StartScan(c *types.Constraints) (session.Snapshot, error) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return session.Snapshot{}, ErrNotRunning
	}
	if s.current != nil {
		if snap := s.current.Snapshot(); !snap.State.Terminal() {
			s.mu.Unlock()
			return snap, ErrScanInProgress
		}
	}

	src, err := s.deps.Sources()
	if err != nil {
		slog.Error("failed to create camera source", "error", err)
		src = newUnavailableSource(err)
	}

	var sess *session.Session
	sess, err = session.New(session.Options{
		Config: session.Config{
			Constraints:       s.constraints(c),
			DecodeTimeout:     s.cfg.DecodeTimeout(),
			MaxDuration:       s.cfg.MaxDuration(),
			MaxWorkerRestarts: *s.cfg.Session.MaxWorkerRestarts,
		},
		Source:   src,
		Workers:  s.deps.Workers,
		Gate:     s.deps.Gate,
		Observer: s.metrics,
		OnChange: func(ev types.ChangeEvent) { s.publishChange(sess.ID(), ev) },
	})
	if err != nil {
		s.mu.Unlock()
		src.Stop()
		return session.Snapshot{}, err
	}
	s.current = sess
	runCtx := s.runCtx
	s.mu.Unlock()

	s.metrics.SessionStarted()
	s.wg.Add(1)
	go s.forwardUpdates(sess)

	err = sess.Start(runCtx)
	return sess.Snapshot(), err
}

func (s *Service) constraints(override *types.Constraints) types.Constraints {
	c := types.Constraints{
		FacingMode:  types.FacingMode(s.cfg.Camera.FacingMode),
		IdealWidth:  s.cfg.Camera.IdealWidth,
		IdealHeight: s.cfg.Camera.IdealHeight,
	}
	if override == nil {
		return c
	}
	if override.FacingMode != "" {
		c.FacingMode = override.FacingMode
	}
	if override.IdealWidth > 0 {
		c.IdealWidth = override.IdealWidth
	}
	if override.IdealHeight > 0 {
		c.IdealHeight = override.IdealHeight
	}
	return c
}

// Accept finalizes the current session.
func (s *Service) Accept() (types.ChangeEvent, error) {
	sess := s.session()
	if sess == nil {
		return types.ChangeEvent{}, ErrNoSession
	}
	return sess.Accept()
}

// Cancel ends the current session.
func (s *Service) Cancel() (session.Snapshot, error) {
	sess := s.session()
	if sess == nil {
		return session.Snapshot{}, ErrNoSession
	}
	err := sess.Cancel()
	return sess.Snapshot(), err
}

// Status returns the current (or last) session snapshot.
func (s *Service) Status() (session.Snapshot, error) {
	sess := s.session()
	if sess == nil {
		return session.Snapshot{}, ErrNoSession
	}
	return sess.Snapshot(), nil
}

func (s *Service) session() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// forwardUpdates relays session snapshots to the overlay topic until the
// session is released.
func (s *Service) forwardUpdates(sess *session.Session) {
	defer s.wg.Done()

	for {
		select {
		case snap := <-sess.Updates():
			s.publishOverlay(snap)
		case <-sess.Done():
			select {
			case snap := <-sess.Updates():
				s.publishOverlay(snap)
			default:
			}
			return
		}
	}
}

func (s *Service) publishOverlay(snap session.Snapshot) {
	if s.deps.Emitter == nil {
		return
	}
	if err := s.deps.Emitter.PublishOverlay(emitter.NewOverlayMessage(snap, time.Now())); err != nil {
		slog.Debug("overlay publish failed", "session_id", snap.ID, "error", err)
	}
}

func (s *Service) publishChange(sessionID string, ev types.ChangeEvent) {
	if s.deps.Emitter == nil {
		return
	}
	if err := s.deps.Emitter.PublishChange(emitter.NewChangeMessage(sessionID, ev, time.Now())); err != nil {
		slog.Error("change event publish failed",
			"session_id", sessionID,
			"field", ev.Name,
			"error", err,
		)
	}
}
