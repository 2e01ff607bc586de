package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

func writeLabel(t *testing.T, text string) string {
	t.Helper()
	m, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, 400, 80, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	const margin = 20
	img := image.NewGray(image.Rect(0, 0, m.GetWidth()+2*margin, m.GetHeight()+2*margin))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	for y := 0; y < m.GetHeight(); y++ {
		for x := 0; x < m.GetWidth(); x++ {
			if m.Get(x, y) {
				img.SetGray(x+margin, y+margin, color.Gray{Y: 0})
			}
		}
	}

	path := filepath.Join(t.TempDir(), "label.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDecodeCommand(t *testing.T) {
	path := writeLabel(t, "1HGCM82633A004352")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"decode", path, "--symbologies", "code128", "--try-harder", "--vin"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("decode: %v\n%s", err, out.String())
	}

	var got decodeOutput
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("output: %v\n%s", err, out.String())
	}
	if got.Match == nil || got.Match.Text != "1HGCM82633A004352" {
		t.Fatalf("match = %+v", got.Match)
	}
	if got.Overlay == nil || len(got.Overlay.Points) != 4 {
		t.Errorf("overlay = %+v", got.Overlay)
	}
	if got.VIN != "1HGCM82633A004352" || got.Error != "" {
		t.Errorf("vin = %q err = %q", got.VIN, got.Error)
	}
	t.Logf("decoded %s at %v", got.Match.Text, got.Overlay.Points)
}
