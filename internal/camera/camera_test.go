package camera

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/e7canasta/orion-scan/internal/types"
)

func TestMailboxOverwrite(t *testing.T) {
	var m mailbox

	if _, ok := m.take(); ok {
		t.Fatal("empty mailbox returned a frame")
	}

	m.publish([]byte{1}, 1, 1)
	m.publish([]byte{2}, 1, 1)
	m.publish([]byte{3}, 1, 1)

	f, ok := m.take()
	if !ok {
		t.Fatal("expected a frame")
	}
	if f.Data[0] != 3 {
		t.Errorf("took frame %d, want newest (3)", f.Data[0])
	}
	if f.TraceID == "" {
		t.Error("trace id not assigned")
	}
	if m.overwritten != 2 {
		t.Errorf("overwritten = %d, want 2", m.overwritten)
	}
	if _, ok := m.take(); ok {
		t.Error("frame taken twice")
	}
}

func TestPumpNoDuplicateSamples(t *testing.T) {
	p := NewPump(10 * time.Millisecond)
	p.Start(context.Background())
	defer p.Close(nil)

	p.Publish(make([]byte, 3), 1, 1)

	select {
	case f := <-p.Frames():
		if f.Seq != 1 {
			t.Errorf("first sample seq = %d, want 1", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("no sample produced")
	}

	// Several ticks pass with nothing new published.
	select {
	case f := <-p.Frames():
		t.Fatalf("duplicate sample produced: %+v", f)
	case <-time.After(80 * time.Millisecond):
	}

	st := p.Stats()
	if st.Sampled != 1 {
		t.Errorf("sampled = %d, want 1", st.Sampled)
	}
	if st.EmptyTicks == 0 {
		t.Error("expected empty ticks to be counted")
	}

	t.Logf("✅ pump stats after idle: %+v", st)
}

func TestPumpSequenceIncreases(t *testing.T) {
	p := NewPump(5 * time.Millisecond)
	p.Start(context.Background())
	defer p.Close(nil)

	var last uint64
	for i := 0; i < 3; i++ {
		p.Publish(make([]byte, 3), 1, 1)
		select {
		case f := <-p.Frames():
			if f.Seq <= last {
				t.Fatalf("seq %d not greater than %d", f.Seq, last)
			}
			last = f.Seq
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for sample")
		}
	}
}

func TestPumpCloseIdempotent(t *testing.T) {
	p := NewPump(5 * time.Millisecond)
	p.Start(context.Background())

	lost := NewError(DeviceUnavailable, errors.New("unplugged"))
	p.Close(lost)
	p.Close(nil)

	if _, ok := <-p.Frames(); ok {
		t.Error("frames channel still open after Close")
	}
	if kind, ok := KindOf(p.Err()); !ok || kind != DeviceUnavailable {
		t.Errorf("Err() = %v, want first close reason", p.Err())
	}
}

func TestPumpCloseWithoutStart(t *testing.T) {
	p := NewPump(0)
	p.Close(nil)
	if _, ok := <-p.Frames(); ok {
		t.Error("frames channel still open")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		message string
		debug   string
		want    ErrorKind
	}{
		{"Could not open device '/dev/video0' for reading and writing.", "system error: Permission denied", PermissionDenied},
		{"Cannot identify device '/dev/video3'.", "system error: No such file or directory", DeviceUnavailable},
		{"Device '/dev/video0' is busy", "Failed to allocate required memory. device busy", DeviceUnavailable},
		{"Internal data stream error.", "streaming stopped, reason not-negotiated (-4)", ConstraintsNotSatisfiable},
		{"Device '/dev/video0' does not support 4000x3000", "unsupported resolution", ConstraintsNotSatisfiable},
		{"something odd happened", "", DeviceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			if got := ClassifyError(tt.message, tt.debug); got != tt.want {
				t.Errorf("ClassifyError(%q, %q) = %v, want %v", tt.message, tt.debug, got, tt.want)
			}
		})
	}
}

func TestParseErrorKind(t *testing.T) {
	for _, k := range []ErrorKind{PermissionDenied, DeviceUnavailable, ConstraintsNotSatisfiable} {
		got, err := ParseErrorKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseErrorKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseErrorKind("bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestMockSourceLifecycle(t *testing.T) {
	src := NewMockSource(MockConfig{FPS: 100, SamplePeriod: 20 * time.Millisecond})

	err := src.Start(context.Background(), types.Constraints{FacingMode: types.FacingEnvironment, IdealWidth: 32, IdealHeight: 24})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := src.Start(context.Background(), types.Constraints{}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	select {
	case f := <-src.Frames():
		if f.Width != 32 || f.Height != 24 {
			t.Errorf("frame size %dx%d, want 32x24", f.Width, f.Height)
		}
		if err := f.Validate(); err != nil {
			t.Errorf("invalid frame: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from mock source")
	}

	if !src.Stats().Running {
		t.Error("Stats().Running = false while streaming")
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if src.Stats().Running {
		t.Error("Stats().Running = true after Stop")
	}
	for range src.Frames() {
	}
	if src.Err() != nil {
		t.Errorf("Err() after requested stop = %v", src.Err())
	}
}

func TestMockSourceStartError(t *testing.T) {
	src := NewMockSource(MockConfig{StartError: NewError(PermissionDenied, nil)})

	err := src.Start(context.Background(), types.Constraints{})
	if kind, ok := KindOf(err); !ok || kind != PermissionDenied {
		t.Fatalf("Start error = %v, want PermissionDenied", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestMockSourceStopBeforeStart(t *testing.T) {
	src := NewMockSource(MockConfig{})
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := src.Start(context.Background(), types.Constraints{}); err == nil {
		t.Error("Start after Stop should fail")
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png"} {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, color.White)
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if err := png.Encode(f, img); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644)

	images, err := LoadImages(dir)
	if err != nil {
		t.Fatalf("LoadImages: %v", err)
	}
	if len(images) != 2 {
		t.Errorf("loaded %d images, want 2", len(images))
	}

	if _, err := LoadImages(t.TempDir()); err == nil {
		t.Error("expected error for empty directory")
	}
}
