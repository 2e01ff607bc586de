package types

import (
	"image"
	"image/color"
	"testing"
)

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"valid 2x1", Frame{Width: 2, Height: 1, Data: make([]byte, 6)}, false},
		{"zero width", Frame{Width: 0, Height: 1}, true},
		{"short buffer", Frame{Width: 2, Height: 2, Data: make([]byte, 6)}, true},
		{"long buffer", Frame{Width: 1, Height: 1, Data: make([]byte, 4)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFrameImageRoundTrip(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(2, 1, color.RGBA{B: 200, A: 255})

	data, w, h := RGBFromImage(src)
	if w != 3 || h != 2 || len(data) != 18 {
		t.Fatalf("RGBFromImage: got %dx%d len=%d", w, h, len(data))
	}

	img, err := Frame{Width: w, Height: h, Data: data}.Image()
	if err != nil {
		t.Fatalf("Image() error: %v", err)
	}

	r, _, _, _ := img.At(0, 0).RGBA()
	if r>>8 != 255 {
		t.Errorf("pixel (0,0) red = %d, want 255", r>>8)
	}
	_, _, b, _ := img.At(2, 1).RGBA()
	if b>>8 != 200 {
		t.Errorf("pixel (2,1) blue = %d, want 200", b>>8)
	}

	t.Logf("✅ RGB frame round trip preserved pixels")
}

func TestDecodeResultIsMatch(t *testing.T) {
	if Miss(4).IsMatch() {
		t.Error("Miss reported as match")
	}
	r := DecodeResult{Seq: 5, Match: &Match{Text: "X"}}
	if !r.IsMatch() {
		t.Error("Match not reported as match")
	}
}
