package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-scan/internal/decoder"
	"github.com/e7canasta/orion-scan/internal/logging"
	"github.com/e7canasta/orion-scan/internal/worker"
)

var (
	symbologiesFlag []string
	tryHarderFlag   bool
	maxWidthFlag    int
	logLevelFlag    string
)

// decodeWorkerCmd is the child side of the subprocess decode worker. Stdout
// carries protocol frames only; logs go to stderr as JSON so the parent can
// relay them.
var decodeWorkerCmd = &cobra.Command{
	Use:    "decode-worker",
	Short:  "Serve decode requests on stdin/stdout (started by run)",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runDecodeWorker,
}

func init() {
	for _, c := range []*cobra.Command{decodeWorkerCmd, decodeCmd} {
		c.Flags().StringSliceVar(&symbologiesFlag, "symbologies", decoder.DefaultSymbologies, "Symbologies to try, in order")
		c.Flags().BoolVar(&tryHarderFlag, "try-harder", false, "Spend more time looking for a symbol")
		c.Flags().IntVar(&maxWidthFlag, "max-width", 0, "Downscale wider frames before decoding (0 = never)")
		c.Flags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	}
}

func newDecoder() (*decoder.ZXing, error) {
	return decoder.New(decoder.Config{
		Symbologies: symbologiesFlag,
		TryHarder:   tryHarderFlag,
		MaxWidth:    maxWidthFlag,
	})
}

func runDecodeWorker(cmd *cobra.Command, args []string) error {
	logging.Setup(os.Stderr, logLevelFlag, "json")

	dec, err := newDecoder()
	if err != nil {
		return err
	}

	// The parent ends the worker by closing stdin; signals only matter when
	// run by hand.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return worker.Serve(ctx, os.Stdin, os.Stdout, dec)
}
