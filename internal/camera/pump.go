package camera

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-scan/internal/types"
)

// Pump couples the latest-frame mailbox with the sampling goroutine. Device
// backends call Publish from their capture callback and expose Frames.
type Pump struct {
	period time.Duration
	box    mailbox
	out    chan types.Frame

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	once    sync.Once

	seq         uint64
	sampled     uint64
	emptyTicks  uint64
	undelivered uint64
	startedAt   atomic.Value // time.Time

	errMu sync.Mutex
	err   error
}

// NewPump creates a pump sampling every period (DefaultSamplePeriod if <= 0).
func NewPump(period time.Duration) *Pump {
	if period <= 0 {
		period = DefaultSamplePeriod
	}
	return &Pump{
		period: period,
		out:    make(chan types.Frame, 1),
	}
}

// Publish hands a native RGB frame to the mailbox. The pump takes ownership
// of data.
func (p *Pump) Publish(data []byte, width, height int) {
	p.box.publish(data, width, height)
}

// Start launches the sampling goroutine. Subsequent calls are no-ops.
func (p *Pump) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.startedAt.Store(time.Now())

	p.wg.Add(1)
	go p.sampleLoop()
}

func (p *Pump) sampleLoop() {
	defer p.wg.Done()
	defer p.closeOut()

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			frame, ok := p.box.take()
			if !ok {
				atomic.AddUint64(&p.emptyTicks, 1)
				continue
			}
			frame.Seq = atomic.AddUint64(&p.seq, 1)
			p.deliver(frame)
		}
	}
}

// deliver offers a sample without blocking. A sample the consumer has not
// picked up yet is replaced by the newer one.
func (p *Pump) deliver(frame types.Frame) {
	select {
	case p.out <- frame:
		atomic.AddUint64(&p.sampled, 1)
		return
	default:
	}

	select {
	case <-p.out:
		atomic.AddUint64(&p.undelivered, 1)
	default:
	}

	select {
	case p.out <- frame:
		atomic.AddUint64(&p.sampled, 1)
	default:
		atomic.AddUint64(&p.undelivered, 1)
	}
}

// Frames returns the sampled frame channel, closed by Close.
func (p *Pump) Frames() <-chan types.Frame { return p.out }

// Close stops sampling and closes Frames. err records why the stream ended
// (nil for a requested stop); only the first reason is kept. Idempotent.
func (p *Pump) Close(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.closeOut()
}

func (p *Pump) closeOut() {
	p.once.Do(func() { close(p.out) })
}

// Err returns the reason recorded by Close.
func (p *Pump) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

// Stats fills the counters the pump owns. Width, Height and Running are left
// to the backend.
func (p *Pump) Stats() Stats {
	st := Stats{
		NativeFrames: atomic.LoadUint64(&p.box.published),
		Overwritten:  atomic.LoadUint64(&p.box.overwritten),
		Sampled:      atomic.LoadUint64(&p.sampled),
		EmptyTicks:   atomic.LoadUint64(&p.emptyTicks),
		Undelivered:  atomic.LoadUint64(&p.undelivered),
	}
	if v := p.startedAt.Load(); v != nil {
		st.StartedAt = v.(time.Time)
		if elapsed := time.Since(st.StartedAt).Seconds(); elapsed > 0 {
			st.NativeFPS = float64(st.NativeFrames) / elapsed
		}
	}
	return st
}
