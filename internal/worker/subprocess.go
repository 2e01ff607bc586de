package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-scan/internal/types"
)

// SubprocessConfig describes the child process to spawn.
type SubprocessConfig struct {
	ID      string
	Command string
	Args    []string
	Env     []string
	// StopTimeout bounds the graceful exit after stdin is closed (default 2s).
	StopTimeout time.Duration
	// WriteTimeout bounds a single request write (default 2s).
	WriteTimeout time.Duration
}

// Subprocess runs the decoder in a child process. Requests go out on the
// child's stdin, responses come back on its stdout, and the child's stderr is
// relayed into the parent log.
//
// Goroutines:
//
//	writeRequests - pending request -> stdin
//	readResults   - stdout -> Results()
//	logStderr     - stderr -> slog
//	waitProcess   - reaps the child once both readers finish
type Subprocess struct {
	cfg SubprocessConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	requests chan types.DecodeRequest
	results  chan types.DecodeResult
	faults   chan error

	ctx      context.Context
	cancel   context.CancelFunc
	quit     chan struct{}
	wg       sync.WaitGroup
	readers  sync.WaitGroup
	isActive atomic.Bool
	stopped  atomic.Bool

	stats *tracker
}

// NewSubprocess validates cfg and creates an unstarted worker.
func NewSubprocess(cfg SubprocessConfig) (*Subprocess, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	return &Subprocess{
		cfg:      cfg,
		requests: make(chan types.DecodeRequest, 1),
		results:  make(chan types.DecodeResult, 1),
		faults:   make(chan error, 1),
		quit:     make(chan struct{}),
		stats:    newTracker(),
	}, nil
}

func (w *Subprocess) ID() string { return w.cfg.ID }

// Start spawns the child process and its I/O goroutines.
func (w *Subprocess) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return ErrStopped
	}
	if w.isActive.Load() {
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.spawn(); err != nil {
		w.cancel()
		return fmt.Errorf("failed to spawn decode worker: %w", err)
	}

	w.isActive.Store(true)

	w.wg.Add(1)
	go w.writeRequests()

	slog.Info("worker: decode subprocess started",
		"worker_id", w.cfg.ID,
		"pid", w.cmd.Process.Pid,
		"command", w.cfg.Command,
	)
	return nil
}

func (w *Subprocess) spawn() error {
	w.cmd = exec.CommandContext(w.ctx, w.cfg.Command, w.cfg.Args...)
	if len(w.cfg.Env) > 0 {
		w.cmd.Env = w.cfg.Env
	}

	stdin, err := w.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	w.stdin = stdin

	stdout, err := w.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	w.stdout = stdout

	stderr, err := w.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	w.stderr = stderr

	if err := w.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	w.readers.Add(2)
	w.wg.Add(3)
	go w.readResults()
	go w.logStderr()
	go w.waitProcess()

	return nil
}

// Submit implements Worker.
func (w *Subprocess) Submit(req types.DecodeRequest) error {
	if !w.isActive.Load() {
		w.stats.reject()
		return ErrStopped
	}
	select {
	case w.requests <- req:
		w.stats.submit(req.Seq)
		return nil
	default:
		w.stats.reject()
		return ErrBusy
	}
}

func (w *Subprocess) writeRequests() {
	defer w.wg.Done()

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			if err := w.send(req); err != nil {
				w.fault(err)
				return
			}
		}
	}
}

// send writes one request, giving up after WriteTimeout so a hung child
// cannot stall the writer forever.
func (w *Subprocess) send(req types.DecodeRequest) error {
	done := make(chan error, 1)
	go func() {
		done <- WriteMessage(w.stdin, requestFrom(req))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send seq=%d: %w", req.Seq, err)
		}
		return nil
	case <-time.After(w.cfg.WriteTimeout):
		return fmt.Errorf("send seq=%d: timeout after %v", req.Seq, w.cfg.WriteTimeout)
	case <-w.quit:
		return nil
	}
}

func (w *Subprocess) readResults() {
	defer w.wg.Done()
	defer w.readers.Done()

	for {
		var resp Response
		if err := ReadMessage(w.stdout, &resp); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("worker: decode subprocess stdout closed", "worker_id", w.cfg.ID)
				w.fault(fmt.Errorf("decode subprocess closed its output"))
				return
			}
			w.fault(fmt.Errorf("read response: %w", err))
			return
		}

		res := resp.result()
		w.stats.complete(res)

		select {
		case w.results <- res:
		case <-w.quit:
			return
		}
	}
}

// logStderr relays child log lines, mapping the child's slog level.
func (w *Subprocess) logStderr() {
	defer w.wg.Done()
	defer w.readers.Done()

	scanner := bufio.NewScanner(w.stderr)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.Contains(line, `"level":"ERROR"`), strings.Contains(line, "level=ERROR"):
			slog.Error("decode worker error", "worker_id", w.cfg.ID, "log", line)
		case strings.Contains(line, `"level":"WARN"`), strings.Contains(line, "level=WARN"):
			slog.Warn("decode worker warning", "worker_id", w.cfg.ID, "log", line)
		default:
			slog.Debug("decode worker log", "worker_id", w.cfg.ID, "log", line)
		}
	}

	if err := scanner.Err(); err != nil && w.isActive.Load() {
		slog.Error("worker: error reading decode worker stderr", "worker_id", w.cfg.ID, "error", err)
	}
}

// waitProcess reaps the child after its output pipes are drained.
func (w *Subprocess) waitProcess() {
	defer w.wg.Done()

	w.readers.Wait()
	err := w.cmd.Wait()

	switch {
	case !w.isActive.Load():
		slog.Debug("worker: decode subprocess exited (shutdown)", "worker_id", w.cfg.ID, "error", err)
	case err != nil:
		slog.Error("worker: decode subprocess exited unexpectedly", "worker_id", w.cfg.ID, "error", err)
		w.fault(fmt.Errorf("process exited: %w", err))
	default:
		slog.Warn("worker: decode subprocess exited while active", "worker_id", w.cfg.ID)
		w.fault(fmt.Errorf("process exited"))
	}
}

// fault reports the first failure of a running worker.
func (w *Subprocess) fault(err error) {
	if !w.isActive.Load() {
		return
	}
	select {
	case w.faults <- fmt.Errorf("%w: %s: %v", ErrFault, w.cfg.ID, err):
	default:
	}
}

func (w *Subprocess) Results() <-chan types.DecodeResult { return w.results }

func (w *Subprocess) Faults() <-chan error { return w.faults }

// Stop closes the child's stdin, waits StopTimeout for it to exit, then
// kills it. Idempotent.
func (w *Subprocess) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !w.isActive.Swap(false) {
		return nil
	}

	slog.Debug("worker: stopping decode subprocess", "worker_id", w.cfg.ID)

	close(w.quit)
	if w.stdin != nil {
		w.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.StopTimeout):
		slog.Warn("worker: decode subprocess stop timeout, force killing", "worker_id", w.cfg.ID)
		w.cancel()
		if w.cmd != nil && w.cmd.Process != nil {
			if err := w.cmd.Process.Kill(); err != nil {
				slog.Error("worker: failed to kill decode subprocess", "worker_id", w.cfg.ID, "error", err)
			}
		}
		<-done
	}
	w.cancel()

	m := w.stats.snapshot()
	slog.Info("worker: decode subprocess stopped",
		"worker_id", w.cfg.ID,
		"completed", m.Completed,
		"matches", m.Matches,
		"avg_latency_ms", m.AvgLatencyMS,
	)
	return nil
}

func (w *Subprocess) Metrics() Metrics { return w.stats.snapshot() }
