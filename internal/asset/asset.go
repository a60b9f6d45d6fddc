// Package asset provides the default pigo face cascade, compiled into the
// binary and used when no model path is given.
package asset

import _ "embed"

//go:embed facefinder
var facefinder []byte

// DefaultModel returns the embedded facefinder cascade. The slice is shared
// and must not be modified.
func DefaultModel() []byte {
	return facefinder
}
