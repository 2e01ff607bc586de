// Package gstcam is the GStreamer camera backend.
package gstcam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/types"
)

// busPollInterval bounds each bus wait so Start notices cancellation.
const busPollInterval = 100 * time.Millisecond

// Config configures the GStreamer camera.
type Config struct {
	// Devices maps facing modes to v4l2 device paths.
	Devices map[types.FacingMode]string
	// Device is used when the facing mode has no mapping. Empty selects
	// autovideosrc.
	Device       string
	MaxRate      int
	SamplePeriod time.Duration
	// StartTimeout bounds waiting for the pipeline to reach PLAYING.
	StartTimeout time.Duration
}

// Source captures frames from a local camera through GStreamer.
type Source struct {
	cfg  Config
	pump *camera.Pump

	mu       sync.Mutex
	elements *PipelineElements
	device   string
	width    int
	height   int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
	isActive atomic.Bool

	badBuffers uint64
}

// New validates cfg. GStreamer availability is checked on Start so a missing
// installation surfaces as a DeviceUnavailable camera error.
func New(cfg Config) (*Source, error) {
	if cfg.MaxRate < 0 {
		return nil, fmt.Errorf("gstcam: max rate must be >= 0, got %d", cfg.MaxRate)
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 5 * time.Second
	}
	return &Source{cfg: cfg, pump: camera.NewPump(cfg.SamplePeriod)}, nil
}

func (s *Source) resolveDevice(mode types.FacingMode) string {
	if dev, ok := s.cfg.Devices[mode]; ok && dev != "" {
		return dev
	}
	return s.cfg.Device
}

// Start implements camera.Source.
func (s *Source) Start(ctx context.Context, c types.Constraints) error {
	if !s.started.CompareAndSwap(false, true) {
		return camera.ErrAlreadyStarted
	}
	if s.stopped.Load() {
		return camera.NewError(camera.DeviceUnavailable, fmt.Errorf("source already stopped"))
	}

	if err := checkGStreamerAvailable(); err != nil {
		return camera.NewError(camera.DeviceUnavailable, err)
	}

	width, height := c.IdealWidth, c.IdealHeight
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	device := s.resolveDevice(c.FacingMode)

	elements, err := CreatePipeline(PipelineConfig{
		Device:  device,
		Width:   width,
		Height:  height,
		MaxRate: s.cfg.MaxRate,
	})
	if err != nil {
		return camera.NewError(camera.DeviceUnavailable, err)
	}

	s.mu.Lock()
	s.elements = elements
	s.device = device
	s.width, s.height = width, height
	s.mu.Unlock()

	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onNewSample(sink)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		cerr := s.drainStartError(err)
		s.teardown()
		return cerr
	}

	if err := s.waitPlaying(ctx, elements); err != nil {
		s.teardown()
		return err
	}

	monitorCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.pump.Start(ctx)
	s.isActive.Store(true)

	s.wg.Add(1)
	go s.monitorPipeline(monitorCtx, elements)

	slog.Info("gstcam: camera streaming",
		"device", device,
		"facing_mode", c.FacingMode,
		"width", width,
		"height", height,
	)
	return nil
}

// waitPlaying blocks until the pipeline reports PLAYING, fails, or ctx ends.
func (s *Source) waitPlaying(ctx context.Context, elements *PipelineElements) error {
	bus := elements.Pipeline.GetPipelineBus()
	deadline := time.Now().Add(s.cfg.StartTimeout)
	name := elements.Pipeline.GetName()

	for {
		if err := ctx.Err(); err != nil {
			return camera.NewError(camera.DeviceUnavailable, fmt.Errorf("camera start aborted: %w", err))
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return camera.NewError(camera.DeviceUnavailable,
				fmt.Errorf("camera did not start within %v", s.cfg.StartTimeout))
		}

		msg := bus.TimedPop(min(remaining, busPollInterval))
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			return classify(msg.ParseError())
		case gst.MessageStateChanged:
			if msg.Source() != name {
				continue
			}
			if _, newState := msg.ParseStateChanged(); newState == gst.StatePlaying {
				slog.Debug("gstcam: pipeline reached PLAYING state")
				return nil
			}
		}
	}
}

// drainStartError looks for the bus error explaining a failed state change.
func (s *Source) drainStartError(stateErr error) *camera.CameraError {
	s.mu.Lock()
	elements := s.elements
	s.mu.Unlock()

	bus := elements.Pipeline.GetPipelineBus()
	for i := 0; i < 10; i++ {
		msg := bus.TimedPop(100 * time.Millisecond)
		if msg == nil {
			break
		}
		if msg.Type() == gst.MessageError {
			return classify(msg.ParseError())
		}
	}
	return camera.NewError(camera.ClassifyError(stateErr.Error(), ""), stateErr)
}

func classify(gerr *gst.GError) *camera.CameraError {
	if gerr == nil {
		return camera.NewError(camera.DeviceUnavailable, fmt.Errorf("unknown pipeline error"))
	}
	kind := camera.ClassifyError(gerr.Error(), gerr.DebugString())
	slog.Warn("gstcam: pipeline error",
		"kind", kind,
		"error", gerr.Error(),
		"debug", gerr.DebugString(),
	)
	return camera.NewError(kind, fmt.Errorf("%s", gerr.Error()))
}

// monitorPipeline watches the bus while streaming. Losing the stream closes
// Frames with a CameraError; the camera is not reopened.
func (s *Source) monitorPipeline(ctx context.Context, elements *PipelineElements) {
	defer s.wg.Done()

	bus := elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("gstcam: end of stream", "device", s.device)
			s.pump.Close(camera.NewError(camera.DeviceUnavailable, fmt.Errorf("end of stream")))
			return
		case gst.MessageError:
			s.pump.Close(classify(msg.ParseError()))
			return
		case gst.MessageStateChanged:
			old, newState := msg.ParseStateChanged()
			slog.Debug("gstcam: state changed", "element", msg.Source(), "from", old, "to", newState)
		}
	}
}

// onNewSample copies the mapped buffer into a tightly packed RGB frame and
// publishes it.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}

	frame, err := packRGB(data, s.width, s.height)
	buffer.Unmap()
	if err != nil {
		if n := atomic.AddUint64(&s.badBuffers, 1); n == 1 || n%100 == 0 {
			slog.Warn("gstcam: skipping malformed buffer", "error", err, "count", n)
		}
		return gst.FlowOK
	}

	s.pump.Publish(frame, s.width, s.height)
	return gst.FlowOK
}

// packRGB copies an RGB buffer, removing GStreamer's 4-byte row padding.
func packRGB(data []byte, width, height int) ([]byte, error) {
	row := width * 3
	if height <= 0 || len(data) < row*height {
		return nil, fmt.Errorf("buffer %d bytes too small for %dx%d RGB", len(data), width, height)
	}

	stride := len(data) / height
	out := make([]byte, row*height)
	if stride == row {
		copy(out, data[:row*height])
		return out, nil
	}
	if stride < row {
		return nil, fmt.Errorf("stride %d smaller than row %d", stride, row)
	}
	for y := 0; y < height; y++ {
		copy(out[y*row:(y+1)*row], data[y*stride:y*stride+row])
	}
	return out, nil
}

func (s *Source) Frames() <-chan types.Frame { return s.pump.Frames() }

func (s *Source) Err() error { return s.pump.Err() }

// Stop implements camera.Source.
func (s *Source) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.isActive.Store(false)

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("gstcam: pipeline monitor did not exit in time")
	}

	s.teardown()
	s.pump.Close(nil)

	st := s.pump.Stats()
	slog.Info("gstcam: camera released",
		"device", s.device,
		"native_frames", st.NativeFrames,
		"sampled", st.Sampled,
	)
	return nil
}

func (s *Source) teardown() {
	s.mu.Lock()
	elements := s.elements
	s.elements = nil
	s.mu.Unlock()

	if err := DestroyPipeline(elements); err != nil {
		slog.Error("gstcam: failed to destroy pipeline", "error", err)
	}
}

func (s *Source) Stats() camera.Stats {
	st := s.pump.Stats()
	st.Running = s.isActive.Load()
	s.mu.Lock()
	st.Width, st.Height = s.width, s.height
	s.mu.Unlock()
	return st
}
