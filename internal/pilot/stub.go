//go:build !linux

package pilot

import (
	"errors"

	"github.com/sweeney/evse-interlock/internal/iio"
)

// HardwareConfig locates the pilot front end.
type HardwareConfig struct {
	Chip         string
	PWMPin       int
	ProximityPin int
	Pilot        iio.Channel
	Current      iio.Channel
}

// RealSampler is not available on non-Linux platforms.
type RealSampler struct{}

// NewRealSampler returns an error on non-Linux platforms.
func NewRealSampler(cfg HardwareConfig) (*RealSampler, error) {
	return nil, errors.New("pilot: not supported on this platform (requires Linux)")
}

// Sample is not implemented on non-Linux platforms.
func (s *RealSampler) Sample() (Reading, error) {
	return Reading{}, errors.New("pilot: not supported")
}

// Close is not implemented on non-Linux platforms.
func (s *RealSampler) Close() error {
	return nil
}
