package core

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/camera/gstcam"
	"github.com/e7canasta/orion-scan/internal/config"
	"github.com/e7canasta/orion-scan/internal/decoder"
	"github.com/e7canasta/orion-scan/internal/gate"
	"github.com/e7canasta/orion-scan/internal/types"
	"github.com/e7canasta/orion-scan/internal/worker"
)

// SourceFactory creates the camera source for one session.
type SourceFactory func() (camera.Source, error)

// unavailableSource stands in for a source the factory could not build, so
// the session still records the failure as Failed(camera).
type unavailableSource struct {
	err    *camera.CameraError
	frames chan types.Frame
}

func newUnavailableSource(err error) *unavailableSource {
	var camErr *camera.CameraError
	if !errors.As(err, &camErr) {
		camErr = camera.NewError(camera.DeviceUnavailable, err)
	}
	frames := make(chan types.Frame)
	close(frames)
	return &unavailableSource{err: camErr, frames: frames}
}

func (u *unavailableSource) Start(context.Context, types.Constraints) error { return u.err }
func (u *unavailableSource) Frames() <-chan types.Frame                     { return u.frames }
func (u *unavailableSource) Err() error                                     { return u.err }
func (u *unavailableSource) Stop() error                                    { return nil }
func (u *unavailableSource) Stats() camera.Stats                            { return camera.Stats{} }

// NewSourceFactory builds sources for the configured camera backend.
func NewSourceFactory(cfg *config.Config) (SourceFactory, error) {
	switch cfg.Camera.Backend {
	case "mock":
		var images []image.Image
		if dir := cfg.Camera.Mock.ImageDir; dir != "" {
			var err error
			images, err = camera.LoadImages(dir)
			if err != nil {
				return nil, fmt.Errorf("load mock images: %w", err)
			}
		}

		var startErr *camera.CameraError
		if cfg.Camera.Mock.FailWith != "" {
			kind, err := camera.ParseErrorKind(cfg.Camera.Mock.FailWith)
			if err != nil {
				return nil, err
			}
			startErr = camera.NewError(kind, fmt.Errorf("simulated by mock camera"))
		}

		mockCfg := camera.MockConfig{
			FPS:          cfg.Camera.Mock.FPS,
			SamplePeriod: cfg.SamplePeriod(),
			Images:       images,
			StartError:   startErr,
		}
		return func() (camera.Source, error) {
			return camera.NewMockSource(mockCfg), nil
		}, nil

	case "gstreamer":
		devices := make(map[types.FacingMode]string, len(cfg.Camera.Devices))
		for mode, dev := range cfg.Camera.Devices {
			devices[types.FacingMode(mode)] = dev
		}
		gstCfg := gstcam.Config{
			Devices:      devices,
			Device:       cfg.Camera.Device,
			MaxRate:      cfg.Camera.MaxRate,
			SamplePeriod: cfg.SamplePeriod(),
			StartTimeout: time.Duration(cfg.Camera.StartTimeoutS) * time.Second,
		}
		return func() (camera.Source, error) {
			src, err := gstcam.New(gstCfg)
			if err != nil {
				return nil, err
			}
			return src, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown camera backend %q", cfg.Camera.Backend)
	}
}

// DecoderConfig maps the decoder section onto decoder.Config.
func DecoderConfig(cfg *config.Config) decoder.Config {
	return decoder.Config{
		Symbologies: cfg.Decoder.Symbologies,
		TryHarder:   cfg.Decoder.TryHarder,
		MaxWidth:    cfg.Decoder.MaxWidth,
	}
}

// WorkerArgs are the arguments that start this binary as a decode worker
// with the configured decoder settings.
func WorkerArgs(cfg *config.Config) []string {
	args := []string{
		"decode-worker",
		"--symbologies", strings.Join(cfg.Decoder.Symbologies, ","),
		"--max-width", strconv.Itoa(cfg.Decoder.MaxWidth),
		"--log-level", cfg.Log.Level,
	}
	if cfg.Decoder.TryHarder {
		args = append(args, "--try-harder")
	}
	return args
}

// NewWorkerFactory builds decode workers for the configured mode. Every call
// of the returned factory yields a fresh, unstarted worker.
func NewWorkerFactory(cfg *config.Config) (worker.Factory, error) {
	decCfg := DecoderConfig(cfg)
	var n atomic.Uint64

	switch cfg.Decoder.Mode {
	case "inprocess":
		return func() (worker.Worker, error) {
			dec, err := decoder.New(decCfg)
			if err != nil {
				return nil, err
			}
			w, err := worker.NewInProcess(fmt.Sprintf("decoder-%d", n.Add(1)), dec)
			if err != nil {
				return nil, err
			}
			return w, nil
		}, nil

	case "subprocess":
		command := cfg.Decoder.Command
		args := WorkerArgs(cfg)
		if command == "" {
			exe, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolve worker executable: %w", err)
			}
			command = exe
		}
		stopTimeout := time.Duration(cfg.Decoder.StopTimeoutMS) * time.Millisecond

		return func() (worker.Worker, error) {
			w, err := worker.NewSubprocess(worker.SubprocessConfig{
				ID:          fmt.Sprintf("decoder-%d", n.Add(1)),
				Command:     command,
				Args:        args,
				StopTimeout: stopTimeout,
			})
			if err != nil {
				return nil, err
			}
			return w, nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown decoder mode %q", cfg.Decoder.Mode)
	}
}

// NewGate builds the acceptance gate.
func NewGate(cfg *config.Config) gate.Gate {
	return gate.NewVIN(gate.VINConfig{
		FieldName:  cfg.Acceptance.FieldName,
		CheckDigit: *cfg.Acceptance.CheckDigit,
	})
}
