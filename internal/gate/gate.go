// Package gate validates decoded text before a scan session may accept it.
//
// A Gate is pure: it inspects a string and either returns the normalized value
// or a *ValidationError. It never touches session state, so a failed
// validation leaves the caller free to keep scanning.
package gate

import "fmt"

// Gate validates and normalizes a decoded value.
type Gate interface {
	// Field is the name reported in the change event on acceptance.
	Field() string
	// Validate returns the normalized value or a *ValidationError.
	Validate(text string) (string, error)
}

// ValidationError reports why a decoded value was rejected.
type ValidationError struct {
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q: %s", e.Value, e.Reason)
}

// Func adapts a plain function into a Gate.
type Func struct {
	Name string
	Fn   func(text string) (string, error)
}

func (g Func) Field() string { return g.Name }

func (g Func) Validate(text string) (string, error) { return g.Fn(text) }
