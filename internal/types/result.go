package types

import "fmt"

// Point is a location in frame pixel coordinates.
type Point struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

func (p Point) String() string {
	return fmt.Sprintf("(%g,%g)", p.X, p.Y)
}

// DecodeRequest carries exactly one frame to the decode worker.
type DecodeRequest struct {
	Seq   uint64
	Frame Frame
}

// Match is a successful decode. Points holds 2 entries for linear
// symbologies and 3 or more for matrix symbologies.
type Match struct {
	Text      string  `json:"text"`
	Points    []Point `json:"points"`
	Symbology string  `json:"symbology,omitempty"`
}

// DecodeResult is the single result shape produced by a decode worker:
// a Match when Match is non-nil, a Miss otherwise.
type DecodeResult struct {
	Seq   uint64 `json:"seq"`
	Match *Match `json:"match,omitempty"`
}

// Miss builds a result carrying no symbol.
func Miss(seq uint64) DecodeResult {
	return DecodeResult{Seq: seq}
}

// IsMatch reports whether the result carries a decoded symbol.
func (r DecodeResult) IsMatch() bool {
	return r.Match != nil
}

func (r DecodeResult) String() string {
	if r.Match == nil {
		return fmt.Sprintf("Miss{seq=%d}", r.Seq)
	}
	return fmt.Sprintf("Match{seq=%d text=%q points=%v}", r.Seq, r.Match.Text, r.Match.Points)
}
