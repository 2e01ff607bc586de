package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-scan/internal/camera"
	"github.com/e7canasta/orion-scan/internal/gate"
	"github.com/e7canasta/orion-scan/internal/logging"
	"github.com/e7canasta/orion-scan/internal/overlay"
	"github.com/e7canasta/orion-scan/internal/types"
)

var checkVINFlag bool

// decodeCmd decodes a still image, for checking labels and decoder settings
// without a camera.
var decodeCmd = &cobra.Command{
	Use:   "decode <image>",
	Short: "Decode one PNG/JPEG image and print the match and overlay",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	decodeCmd.Flags().BoolVar(&checkVINFlag, "vin", false, "Also run the VIN acceptance gate on the decoded text")
}

type decodeOutput struct {
	Image   string           `json:"image"`
	Width   int              `json:"width"`
	Height  int              `json:"height"`
	Match   *types.Match     `json:"match"`
	Overlay *overlay.Polygon `json:"overlay,omitempty"`
	VIN     string           `json:"vin,omitempty"`
	Error   string           `json:"vin_error,omitempty"`
}

func runDecode(cmd *cobra.Command, args []string) error {
	logging.Setup(os.Stderr, logLevelFlag, "text")

	img, err := camera.LoadImage(args[0])
	if err != nil {
		return err
	}
	dec, err := newDecoder()
	if err != nil {
		return err
	}

	out := decodeOutput{
		Image:  args[0],
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Match:  dec.DecodeImage(img),
	}
	if out.Match != nil {
		if poly := overlay.Map(out.Match.Points); !poly.Empty() {
			out.Overlay = &poly
		}
		if checkVINFlag {
			vin, err := gate.NewVIN(gate.VINConfig{CheckDigit: true}).Validate(out.Match.Text)
			if err != nil {
				out.Error = err.Error()
			} else {
				out.VIN = vin
			}
		}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if out.Match == nil {
		return fmt.Errorf("no symbol found in %s", args[0])
	}
	return nil
}
