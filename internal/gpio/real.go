//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the AC-presence input using the Linux GPIO character device.
type RealReader struct {
	chip      *gpiocdev.Chip
	line      *gpiocdev.Line
	activeLow bool
}

// NewRealReader requests pin as an input. With activeLow set, a raw 0 means
// AC is present, as with an optocoupler pulling the line down.
func NewRealReader(chipName string, pin int, activeLow bool) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request AC pin %d: %w", pin, err)
	}

	return &RealReader{chip: chip, line: line, activeLow: activeLow}, nil
}

// Read returns true when AC is present.
func (r *RealReader) Read() (bool, error) {
	raw, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read AC pin: %w", err)
	}
	if r.activeLow {
		return raw == 0, nil
	}
	return raw == 1, nil
}

// Close reconfigures the line to input with pull-down (the Pi boot default)
// and releases it.
func (r *RealReader) Close() error {
	var errs []error
	if r.line != nil {
		if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure AC pin: %w", err))
		}
		if err := r.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close AC pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// RealContactor drives the contactor relay through a GPIO output.
type RealContactor struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
}

// NewRealContactor requests pin as an output, initially open (low).
func NewRealContactor(chipName string, pin int) (*RealContactor, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request contactor pin %d: %w", pin, err)
	}

	return &RealContactor{chip: chip, line: line}, nil
}

// Set drives the relay.
func (c *RealContactor) Set(closed bool) error {
	v := 0
	if closed {
		v = 1
	}
	if err := c.line.SetValue(v); err != nil {
		return fmt.Errorf("set contactor: %w", err)
	}
	return nil
}

// Close drives the relay open, then returns the line to input with pull-down
// so the relay stays released across reboot.
func (c *RealContactor) Close() error {
	var errs []error
	if c.line != nil {
		if err := c.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("open contactor: %w", err))
		}
		if err := c.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure contactor pin: %w", err))
		}
		if err := c.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close contactor pin: %w", err))
		}
	}
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
