//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chipName string, pin int, activeLow bool) (*RealReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (bool, error) {
	return false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}

// RealContactor is not available on non-Linux platforms.
type RealContactor struct{}

// NewRealContactor returns an error on non-Linux platforms.
func NewRealContactor(chipName string, pin int) (*RealContactor, error) {
	return nil, errUnsupported
}

// Set is not implemented on non-Linux platforms.
func (c *RealContactor) Set(closed bool) error {
	return errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (c *RealContactor) Close() error {
	return nil
}
