package gate

import (
	"fmt"
	"strings"
)

const vinLength = 17

// vinValues are the ISO 3779 transliteration values. I, O and Q are absent.
var vinValues = map[byte]int{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4, '5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

var vinWeights = [vinLength]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

// VINConfig tunes the VIN gate.
type VINConfig struct {
	// FieldName is reported in change events (default "vin").
	FieldName string
	// CheckDigit enables the position-9 check digit test.
	CheckDigit bool
}

// VIN validates vehicle identification numbers.
type VIN struct {
	field      string
	checkDigit bool
}

// NewVIN creates a VIN gate.
func NewVIN(cfg VINConfig) *VIN {
	if cfg.FieldName == "" {
		cfg.FieldName = "vin"
	}
	return &VIN{field: cfg.FieldName, checkDigit: cfg.CheckDigit}
}

func (v *VIN) Field() string { return v.field }

// Validate normalizes text (trim, upper-case, drop the Code 39 "I" import
// marker) and checks length, alphabet and optionally the check digit.
func (v *VIN) Validate(text string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(text))
	if len(s) == vinLength+1 && s[0] == 'I' {
		s = s[1:]
	}

	if len(s) != vinLength {
		return "", &ValidationError{Value: text, Reason: fmt.Sprintf("length %d, want %d", len(s), vinLength)}
	}
	for i := 0; i < len(s); i++ {
		if _, ok := vinValues[s[i]]; !ok {
			return "", &ValidationError{Value: text, Reason: fmt.Sprintf("character %q at position %d not allowed", s[i], i+1)}
		}
	}

	if v.checkDigit {
		want := CheckDigit(s)
		if s[8] != want {
			return "", &ValidationError{Value: text, Reason: fmt.Sprintf("check digit %q, want %q", s[8], want)}
		}
	}

	return s, nil
}

// CheckDigit computes the expected position-9 character of a 17 character
// VIN. The input must already use the VIN alphabet.
func CheckDigit(vin string) byte {
	sum := 0
	for i := 0; i < vinLength && i < len(vin); i++ {
		sum += vinValues[vin[i]] * vinWeights[i]
	}
	rem := sum % 11
	if rem == 10 {
		return 'X'
	}
	return byte('0' + rem)
}
