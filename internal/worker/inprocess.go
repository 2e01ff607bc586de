package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-scan/internal/decoder"
	"github.com/e7canasta/orion-scan/internal/types"
)

// InProcess decodes on a dedicated goroutine that owns its decoder.
type InProcess struct {
	id  string
	dec decoder.Decoder

	requests chan types.DecodeRequest
	results  chan types.DecodeResult
	faults   chan error

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool
	stopped  atomic.Bool

	stats *tracker
}

// NewInProcess creates an in-process worker around dec.
func NewInProcess(id string, dec decoder.Decoder) (*InProcess, error) {
	if dec == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	return &InProcess{
		id:       id,
		dec:      dec,
		requests: make(chan types.DecodeRequest, 1),
		results:  make(chan types.DecodeResult, 1),
		faults:   make(chan error, 1),
		stats:    newTracker(),
	}, nil
}

func (w *InProcess) ID() string { return w.id }

// Start launches the decode goroutine.
func (w *InProcess) Start(ctx context.Context) error {
	if w.stopped.Load() {
		return ErrStopped
	}
	if !w.isActive.CompareAndSwap(false, true) {
		return fmt.Errorf("worker already started")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.processRequests()

	slog.Debug("worker: in-process decoder started", "worker_id", w.id)
	return nil
}

// Submit implements Worker.
func (w *InProcess) Submit(req types.DecodeRequest) error {
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

func (w *InProcess) processRequests() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case req := <-w.requests:
			res := w.dec.Decode(req.Frame)
			res.Seq = req.Seq
			w.stats.complete(res)

			select {
			case w.results <- res:
			case <-w.ctx.Done():
				return
			}
		}
	}
}

func (w *InProcess) Results() <-chan types.DecodeResult { return w.results }

func (w *InProcess) Faults() <-chan error { return w.faults }

// Stop cancels the decode goroutine and waits for it. A decode already
// running finishes first; its result is discarded.
func (w *InProcess) Stop() error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if !w.isActive.Swap(false) {
		return nil
	}

	w.cancel()
	w.wg.Wait()

	m := w.stats.snapshot()
	slog.Debug("worker: in-process decoder stopped",
		"worker_id", w.id,
		"completed", m.Completed,
		"matches", m.Matches,
	)
	return nil
}

func (w *InProcess) Metrics() Metrics { return w.stats.snapshot() }
