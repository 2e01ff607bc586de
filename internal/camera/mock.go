package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/image/draw"

	"github.com/e7canasta/orion-scan/internal/types"
)

// MockConfig configures a synthetic camera.
type MockConfig struct {
	// FPS is the native frame rate (default 30).
	FPS          float64
	SamplePeriod time.Duration
	// Images are looped in order; a synthetic pattern is used when empty.
	Images []image.Image
	// StartError makes Start fail, simulating a denied or missing camera.
	StartError *CameraError
}

// MockSource generates frames in-process. It backs the "mock" camera backend
// and tests that need a real sampling cadence.
type MockSource struct {
	cfg  MockConfig
	pump *Pump

	width  int
	height int

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  atomic.Bool
	stopped  atomic.Bool
	isActive atomic.Bool
}

// NewMockSource creates an unstarted mock camera.
func NewMockSource(cfg MockConfig) *MockSource {
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &MockSource{cfg: cfg, pump: NewPump(cfg.SamplePeriod)}
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context, c types.Constraints) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if m.cfg.StartError != nil {
		slog.Warn("camera: mock start failing as configured", "kind", m.cfg.StartError.Kind)
		return m.cfg.StartError
	}
	if m.stopped.Load() {
		return NewError(DeviceUnavailable, fmt.Errorf("source already stopped"))
	}

	m.width, m.height = c.IdealWidth, c.IdealHeight
	if m.width <= 0 || m.height <= 0 {
		m.width, m.height = 640, 480
	}

	frames := m.render()

	genCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.pump.Start(ctx)
	m.isActive.Store(true)

	m.wg.Add(1)
	go m.generate(genCtx, frames)

	slog.Info("camera: mock source started",
		"width", m.width,
		"height", m.height,
		"fps", m.cfg.FPS,
		"images", len(m.cfg.Images),
	)
	return nil
}

// render prepares one RGB buffer per configured image, scaled to the
// negotiated size.
func (m *MockSource) render() [][]byte {
	images := m.cfg.Images
	if len(images) == 0 {
		images = []image.Image{testPattern(m.width, m.height)}
	}

	out := make([][]byte, 0, len(images))
	for _, img := range images {
		dst := image.NewRGBA(image.Rect(0, 0, m.width, m.height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		data, _, _ := types.RGBFromImage(dst)
		out = append(out, data)
	}
	return out
}

func (m *MockSource) generate(ctx context.Context, frames [][]byte) {
	defer m.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / m.cfg.FPS))
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			src := frames[i%len(frames)]
			data := make([]byte, len(src))
			copy(data, src)
			m.pump.Publish(data, m.width, m.height)
		}
	}
}

func (m *MockSource) Frames() <-chan types.Frame { return m.pump.Frames() }

func (m *MockSource) Err() error { return m.pump.Err() }

// Stop implements Source.
func (m *MockSource) Stop() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	m.isActive.Store(false)
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.pump.Close(nil)

	slog.Debug("camera: mock source stopped", "sampled", m.pump.Stats().Sampled)
	return nil
}

func (m *MockSource) Stats() Stats {
	st := m.pump.Stats()
	st.Running = m.isActive.Load()
	st.Width, st.Height = m.width, m.height
	return st
}

func testPattern(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	return img
}

// LoadImages reads every PNG or JPEG in dir, sorted by name.
func LoadImages(dir string) ([]image.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read image dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	images := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := LoadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no png or jpeg images in %s", dir)
	}
	return images, nil
}

// LoadImage decodes a single PNG or JPEG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
