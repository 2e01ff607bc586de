package gstcam

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// PipelineConfig describes the capture pipeline to build.
type PipelineConfig struct {
	Device  string // v4l2 device path, empty selects autovideosrc
	Width   int
	Height  int
	MaxRate int // native frames per second cap
}

// PipelineElements holds the elements needed after creation.
type PipelineElements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
	Source   *gst.Element
}

// CreatePipeline builds, but does not start, the capture pipeline:
//
//	v4l2src|autovideosrc → videoconvert → videoscale → videorate → capsfilter(RGB) → appsink
func CreatePipeline(cfg PipelineConfig) (*PipelineElements, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var src *gst.Element
	if cfg.Device != "" {
		src, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		src.SetProperty("device", cfg.Device)
	} else {
		src, err = gst.NewElement("autovideosrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create autovideosrc: %w", err)
		}
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)
	if cfg.MaxRate > 0 {
		videorate.SetProperty("max-rate", cfg.MaxRate)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsStr := buildCaps(cfg.Width, cfg.Height)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(capsStr))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, converter, scaler, videorate, capsfilter, appsink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	slog.Debug("gstcam: pipeline created", "device", cfg.Device, "caps", capsStr, "max_rate", cfg.MaxRate)

	return &PipelineElements{
		Pipeline: pipeline,
		AppSink:  appsink,
		Source:   src,
	}, nil
}

// DestroyPipeline moves the pipeline to NULL, releasing the device.
func DestroyPipeline(elements *PipelineElements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}
	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

func buildCaps(width, height int) string {
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d", width, height)
}

// checkGStreamerAvailable verifies GStreamer initializes and core elements
// can be created.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	if _, err := gst.NewElement("fakesrc"); err != nil {
		return fmt.Errorf("GStreamer not available: %w", err)
	}
	return nil
}
