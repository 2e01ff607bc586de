// Package worker runs symbol decoding in an isolated execution context.
//
// A Worker accepts one DecodeRequest at a time and answers each with exactly
// one DecodeResult carrying the request's sequence number. Requests and
// results only travel through channels; the pixel buffer belongs to the
// worker once submitted.
//
// Two implementations exist:
//
//	InProcess  - a dedicated goroutine owning its own decoder
//	Subprocess - a child process speaking length-prefixed msgpack on stdin/stdout
//
// A worker that can no longer answer reports on Faults(). Whoever owns the
// worker decides whether to build a replacement through a Factory.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/e7canasta/orion-scan/internal/types"
)

var (
	// ErrBusy is returned by Submit when a request is already queued.
	ErrBusy = errors.New("worker: request already pending")
	// ErrStopped is returned by Submit once the worker is not running.
	ErrStopped = errors.New("worker: not running")
	// ErrFault wraps every error reported on Faults().
	ErrFault = errors.New("worker: fault")
)

// Worker decodes frames one request at a time.
//
// Results and Faults are never closed; callers stop reading after Stop.
type Worker interface {
	ID() string
	Start(ctx context.Context) error
	// Submit hands a request to the worker without blocking.
	Submit(req types.DecodeRequest) error
	Results() <-chan types.DecodeResult
	Faults() <-chan error
	// Stop releases the execution context. Idempotent.
	Stop() error
	Metrics() Metrics
}

// Factory creates a fresh, unstarted worker.
type Factory func() (Worker, error)

// Metrics is a point-in-time view of worker activity.
type Metrics struct {
	Submitted    uint64
	Completed    uint64
	Matches      uint64
	Rejected     uint64
	AvgLatencyMS float64
	LastSeenAt   time.Time
}

// tracker records per-request latency. At most a couple of requests are ever
// pending, so a map under a mutex is enough.
type tracker struct {
	mu         sync.Mutex
	pending    map[uint64]time.Time
	submitted  uint64
	completed  uint64
	matches    uint64
	rejected   uint64
	totalMS    float64
	lastSeenAt time.Time
}

func newTracker() *tracker {
	return &tracker{pending: make(map[uint64]time.Time)}
}

func (t *tracker) submit(seq uint64) {
	t.mu.Lock()
	t.pending[seq] = time.Now()
	t.submitted++
	t.mu.Unlock()
}

func (t *tracker) reject() {
	t.mu.Lock()
	t.rejected++
	t.mu.Unlock()
}

func (t *tracker) complete(res types.DecodeResult) {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if start, ok := t.pending[res.Seq]; ok {
		t.totalMS += float64(now.Sub(start).Microseconds()) / 1000
		delete(t.pending, res.Seq)
	}
	t.completed++
	if res.IsMatch() {
		t.matches++
	}
	t.lastSeenAt = now
}

func (t *tracker) snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{
		Submitted:  t.submitted,
		Completed:  t.completed,
		Matches:    t.matches,
		Rejected:   t.rejected,
		LastSeenAt: t.lastSeenAt,
	}
	if t.completed > 0 {
		m.AvgLatencyMS = t.totalMS / float64(t.completed)
	}
	return m
}
