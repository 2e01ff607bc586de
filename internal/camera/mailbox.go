package camera

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-scan/internal/types"
)

// mailbox holds the newest native frame. Publish overwrites, take empties.
//
// Publishing never blocks the device callback: an unconsumed frame is simply
// replaced and counted as overwritten.
type mailbox struct {
	mu    sync.Mutex
	frame *types.Frame

	published   uint64
	overwritten uint64
}

// publish stores a native frame, replacing any frame not yet sampled.
func (m *mailbox) publish(data []byte, width, height int) {
	seq := atomic.AddUint64(&m.published, 1)
	f := &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     width,
		Height:    height,
		Data:      data,
		TraceID:   uuid.New().String(),
	}

	m.mu.Lock()
	if m.frame != nil {
		atomic.AddUint64(&m.overwritten, 1)
	}
	m.frame = f
	m.mu.Unlock()
}

// take returns the newest unsampled frame, or false when nothing arrived
// since the previous take.
func (m *mailbox) take() (types.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame == nil {
		return types.Frame{}, false
	}
	f := *m.frame
	m.frame = nil
	return f, true
}
