// Package entropy supplies the randomness policy of the inference runtime:
// there is no randomness. Anything that asks for it fails the same way
// every time.
package entropy

import "errors"

// ErrUnsupported is returned by every read from Unavailable.
var ErrUnsupported = errors.New("UNSUPPORTED")

type unavailable struct{}

func (unavailable) Read([]byte) (int, error) { return 0, ErrUnsupported }

// Unavailable is an io.Reader that never yields a byte.
var Unavailable = unavailable{}
