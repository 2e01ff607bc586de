package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the orion-scan binary. The service and its decode workers are
// the same executable.
var rootCmd = &cobra.Command{
	Use:   "orion-scan",
	Short: "Real-time barcode/VIN scanner service",
	Long: `orion-scan opens a camera, samples frames every 200ms, decodes them in an
isolated worker and exposes the scan session over HTTP and MQTT.

Examples:
  orion-scan run --config config/scan.yaml
  orion-scan decode label.png --symbologies code39
  orion-scan decode-worker   # started by "run", speaks msgpack on stdin/stdout`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, decodeWorkerCmd, decodeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
