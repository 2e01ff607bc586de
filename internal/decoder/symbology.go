package decoder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// readerFactories maps configuration names to gozxing readers. Linear
// symbologies come first so a VIN label (Code 39) wins over stray matrix
// codes in the same frame.
var readerFactories = map[string]func() gozxing.Reader{
	"code39":     func() gozxing.Reader { return oned.NewCode39Reader() },
	"code128":    func() gozxing.Reader { return oned.NewCode128Reader() },
	"ean13":      func() gozxing.Reader { return oned.NewEAN13Reader() },
	"upca":       func() gozxing.Reader { return oned.NewUPCAReader() },
	"qr":         func() gozxing.Reader { return qrcode.NewQRCodeReader() },
	"datamatrix": func() gozxing.Reader { return datamatrix.NewDataMatrixReader() },
}

// DefaultSymbologies is used when none are configured.
var DefaultSymbologies = []string{"code39", "code128", "qr", "datamatrix"}

// KnownSymbologies lists every supported symbology name.
func KnownSymbologies() []string {
	names := make([]string, 0, len(readerFactories))
	for name := range readerFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type namedReader struct {
	name   string
	reader gozxing.Reader
}

func buildReaders(symbologies []string) ([]namedReader, error) {
	if len(symbologies) == 0 {
		symbologies = DefaultSymbologies
	}

	readers := make([]namedReader, 0, len(symbologies))
	seen := make(map[string]bool)
	for _, raw := range symbologies {
		name := strings.ToLower(strings.TrimSpace(raw))
		if seen[name] {
			continue
		}
		factory, ok := readerFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown symbology %q (known: %s)", raw, strings.Join(KnownSymbologies(), ", "))
		}
		seen[name] = true
		readers = append(readers, namedReader{name: name, reader: factory()})
	}
	return readers, nil
}
