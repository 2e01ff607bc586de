// Package decoder adapts the gozxing symbol readers to the pipeline's single
// decode result shape.
//
// A decode never fails from the caller's point of view: a malformed buffer,
// an undecodable frame, or a panic inside a reader all surface as a Miss.
package decoder

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"golang.org/x/image/draw"

	"github.com/e7canasta/orion-scan/internal/types"
)

// Decoder turns one frame into a DecodeResult.
type Decoder interface {
	Decode(frame types.Frame) types.DecodeResult
}

// Config selects readers and preprocessing.
type Config struct {
	Symbologies []string
	TryHarder   bool
	// MaxWidth downscales wider frames before decoding; 0 disables.
	MaxWidth int
}

// ZXing decodes frames with gozxing readers tried in configured order.
//
// Readers keep internal state and are not safe for concurrent use; a ZXing
// decoder belongs to exactly one worker.
type ZXing struct {
	readers  []namedReader
	hints    map[gozxing.DecodeHintType]interface{}
	maxWidth int
}

// New creates a ZXing decoder.
func New(cfg Config) (*ZXing, error) {
	readers, err := buildReaders(cfg.Symbologies)
	if err != nil {
		return nil, err
	}
	if cfg.MaxWidth < 0 {
		return nil, fmt.Errorf("max_width must be >= 0, got %d", cfg.MaxWidth)
	}

	hints := make(map[gozxing.DecodeHintType]interface{})
	if cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	return &ZXing{readers: readers, hints: hints, maxWidth: cfg.MaxWidth}, nil
}

// Decode implements Decoder.
func (z *ZXing) Decode(frame types.Frame) types.DecodeResult {
	img, err := frame.Image()
	if err != nil {
		slog.Debug("decoder: malformed frame, reporting miss", "seq", frame.Seq, "error", err)
		return types.Miss(frame.Seq)
	}

	match := z.DecodeImage(img)
	return types.DecodeResult{Seq: frame.Seq, Match: match}
}

// DecodeImage decodes a still image. It returns nil when no symbol is found.
// Points are reported in the coordinates of img.
func (z *ZXing) DecodeImage(img image.Image) (match *types.Match) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("decoder: reader panicked, reporting miss", "panic", r)
			match = nil
		}
	}()

	src, sx, sy := z.downscale(img)

	bmp, err := gozxing.NewBinaryBitmapFromImage(src)
	if err != nil {
		slog.Debug("decoder: cannot binarize image", "error", err)
		return nil
	}

	for _, nr := range z.readers {
		result, err := nr.reader.Decode(bmp, z.hints)
		nr.reader.Reset()
		if err != nil || result == nil {
			continue
		}

		rps := result.GetResultPoints()
		points := make([]types.Point, 0, len(rps))
		for _, rp := range rps {
			if rp == nil {
				continue
			}
			points = append(points, types.Point{X: rp.GetX() * sx, Y: rp.GetY() * sy})
		}
		if len(points) < 2 {
			// No usable geometry; nothing can be anchored on screen.
			slog.Debug("decoder: match without geometry ignored", "symbology", nr.name, "points", len(points))
			continue
		}

		return &types.Match{
			Text:      result.GetText(),
			Points:    points,
			Symbology: nr.name,
		}
	}

	return nil
}

// downscale shrinks img to maxWidth and returns the per-axis factors mapping
// scaled coordinates back onto the original.
func (z *ZXing) downscale(img image.Image) (image.Image, float64, float64) {
	b := img.Bounds()
	if z.maxWidth == 0 || b.Dx() <= z.maxWidth {
		return img, 1, 1
	}

	ratio := float64(z.maxWidth) / float64(b.Dx())
	h := int(float64(b.Dy()) * ratio)
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, z.maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)

	return dst, float64(b.Dx()) / float64(z.maxWidth), float64(b.Dy()) / float64(h)
}
