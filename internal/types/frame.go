package types

import (
	"fmt"
	"image"
	"time"
)

// Frame is one sampled camera image in packed RGB24.
//
// A Frame is owned by the stage currently holding it and is never mutated
// after creation. Seq is strictly increasing within one sampling sequence.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte // RGB24, len == Width*Height*3
	TraceID   string
}

// Validate checks that the pixel buffer matches the declared geometry.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame geometry %dx%d", f.Width, f.Height)
	}
	if want := f.Width * f.Height * 3; len(f.Data) != want {
		return fmt.Errorf("frame buffer size %d does not match %dx%d RGB (%d)", len(f.Data), f.Width, f.Height, want)
	}
	return nil
}

// Image wraps the RGB buffer as an image.Image.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i < len(f.Data); i, j = i+3, j+4 {
		img.Pix[j] = f.Data[i]
		img.Pix[j+1] = f.Data[i+1]
		img.Pix[j+2] = f.Data[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// RGBFromImage packs any image into an RGB24 buffer.
func RGBFromImage(img image.Image) (data []byte, width, height int) {
	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	data = make([]byte, 0, width*height*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			data = append(data, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return data, width, height
}

// FacingMode selects which physical camera to open.
type FacingMode string

const (
	FacingEnvironment FacingMode = "environment"
	FacingUser        FacingMode = "user"
)

// Constraints describes the stream requested from the camera.
type Constraints struct {
	FacingMode  FacingMode `json:"facing_mode"`
	IdealWidth  int        `json:"ideal_width"`
	IdealHeight int        `json:"ideal_height"`
}
