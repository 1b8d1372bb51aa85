//go:build linux

package pilot

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"

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

// RealSampler reads the pilot voltage and charging current from IIO ADC
// channels, proximity from a GPIO line, and the PWM duty cycle from GPIO edge
// events.
type RealSampler struct {
	chip    *gpiocdev.Chip
	pwm     *gpiocdev.Line
	prox    *gpiocdev.Line
	pilot   iio.Channel
	current iio.Channel
	duty    DutyMeter
}

// NewRealSampler opens the GPIO lines described by cfg.
func NewRealSampler(cfg HardwareConfig) (*RealSampler, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	s := &RealSampler{
		chip:    chip,
		pilot:   cfg.Pilot,
		current: cfg.Current,
	}

	s.pwm, err = chip.RequestLine(cfg.PWMPin,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(s.handlePWM))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request PWM pin %d: %w", cfg.PWMPin, err)
	}

	s.prox, err = chip.RequestLine(cfg.ProximityPin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		s.pwm.Close()
		chip.Close()
		return nil, fmt.Errorf("request proximity pin %d: %w", cfg.ProximityPin, err)
	}

	return s, nil
}

func (s *RealSampler) handlePWM(evt gpiocdev.LineEvent) {
	s.duty.Edge(evt.Type == gpiocdev.LineEventRisingEdge, evt.Timestamp)
}

// Sample reads one pilot front end sample.
func (s *RealSampler) Sample() (Reading, error) {
	mv, err := s.pilot.ReadMillivolts()
	if err != nil {
		return Reading{}, fmt.Errorf("read pilot: %w", err)
	}

	currentMV, err := s.current.ReadMillivolts()
	if err != nil {
		return Reading{}, fmt.Errorf("read current: %w", err)
	}

	prox, err := s.prox.Value()
	if err != nil {
		return Reading{}, fmt.Errorf("read proximity: %w", err)
	}

	return Reading{
		PilotMV:      mv,
		Proximity:    prox > 0,
		DutyCyclePct: s.duty.DutyCycle(),
		CurrentA:     float64(currentMV) / 1000,
	}, nil
}

// Close releases GPIO resources.
func (s *RealSampler) Close() error {
	var errs []error
	if s.pwm != nil {
		if err := s.pwm.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PWM pin: %w", err))
		}
	}
	if s.prox != nil {
		if err := s.prox.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close proximity pin: %w", err))
		}
	}
	if s.chip != nil {
		if err := s.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
