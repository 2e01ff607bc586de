package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/e7canasta/orion-scan/internal/decoder"
)

// Serve is the child side of the subprocess protocol: it answers every
// request read from in with exactly one response on out until in is closed.
func Serve(ctx context.Context, in io.Reader, out io.Writer, dec decoder.Decoder) error {
	slog.Info("decode worker serving")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req Request
		if err := ReadMessage(in, &req); err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("decode worker input closed, exiting")
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		}

		res := dec.Decode(req.frame())
		res.Seq = req.Seq

		if err := WriteMessage(out, responseFrom(res)); err != nil {
			return fmt.Errorf("write response seq=%d: %w", req.Seq, err)
		}

		slog.Debug("decode worker answered", "seq", req.Seq, "match", res.IsMatch())
	}
}
