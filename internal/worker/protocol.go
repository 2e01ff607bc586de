package worker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-scan/internal/types"
)

// maxMessageSize bounds a single framed message (a 4K RGB frame is ~25MB).
const maxMessageSize = 64 << 20

// Request is the wire form of a decode request.
type Request struct {
	Seq    uint64 `msgpack:"seq"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Pixels []byte `msgpack:"pixels"`
}

// Response is the wire form of a decode result. Match is nil for a miss.
type Response struct {
	Seq   uint64     `msgpack:"seq"`
	Match *WireMatch `msgpack:"match"`
}

// WireMatch carries decoded text and its geometry.
type WireMatch struct {
	Text      string        `msgpack:"text"`
	Points    []types.Point `msgpack:"points"`
	Symbology string        `msgpack:"symbology,omitempty"`
}

func requestFrom(req types.DecodeRequest) Request {
	return Request{
		Seq:    req.Seq,
		Width:  req.Frame.Width,
		Height: req.Frame.Height,
		Pixels: req.Frame.Data,
	}
}

func (r Request) frame() types.Frame {
	return types.Frame{Seq: r.Seq, Width: r.Width, Height: r.Height, Data: r.Pixels}
}

func responseFrom(res types.DecodeResult) Response {
	out := Response{Seq: res.Seq}
	if res.Match != nil {
		out.Match = &WireMatch{
			Text:      res.Match.Text,
			Points:    res.Match.Points,
			Symbology: res.Match.Symbology,
		}
	}
	return out
}

func (r Response) result() types.DecodeResult {
	res := types.DecodeResult{Seq: r.Seq}
	if r.Match != nil {
		res.Match = &types.Match{
			Text:      r.Match.Text,
			Points:    r.Match.Points,
			Symbology: r.Match.Symbology,
		}
	}
	return res
}

// WriteMessage encodes v as msgpack and writes it behind a 4-byte big-endian
// length prefix.
func WriteMessage(w io.Writer, v interface{}) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("msgpack marshal failed: %w", err)
	}
	if len(payload) > maxMessageSize {
		return fmt.Errorf("message too large: %d bytes", len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed msgpack message into v. It returns
// io.EOF unchanged when the stream ends cleanly between messages.
func ReadMessage(r io.Reader, v interface{}) error {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lengthBuf)
	if n > maxMessageSize {
		return fmt.Errorf("message length %d exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("failed to read message body (expected %d bytes): %w", n, err)
	}

	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("msgpack unmarshal failed: %w", err)
	}
	return nil
}
