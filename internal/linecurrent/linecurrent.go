// Package linecurrent watches the upstream current clamp and reports
// significant changes.
package linecurrent

import (
	"log"
	"math"
	"time"

	"github.com/sweeney/evse-interlock/internal/iio"
)

// EventType is the telemetry event type for a reported change.
const EventType = "current_change"

// DefaultThreshold is the minimum change worth reporting.
const DefaultThreshold = 0.5 // amps

// Sampler reads the line current in amps.
type Sampler interface {
	ReadCurrent() (float64, error)
}

// IIOSampler reads a clamp whose scaled ADC channel yields milliamps.
type IIOSampler struct {
	Channel iio.Channel
}

// ReadCurrent implements Sampler.
func (s IIOSampler) ReadCurrent() (float64, error) {
	ma, err := s.Channel.ReadMillivolts()
	if err != nil {
		return 0, err
	}
	return float64(ma) / 1000, nil
}

// Change is a reported line-current change.
type Change struct {
	CurrentA float64
	Time     time.Time
}

// Monitor compares each sample with the previous one.
// Not safe for concurrent use.
type Monitor struct {
	sampler   Sampler
	threshold float64
	last      float64
	primed    bool
}

// NewMonitor creates a Monitor. A non-positive threshold uses DefaultThreshold.
func NewMonitor(sampler Sampler, thresholdA float64) *Monitor {
	if thresholdA <= 0 {
		thresholdA = DefaultThreshold
	}
	return &Monitor{sampler: sampler, threshold: thresholdA}
}

// Poll samples the clamp at now. It reports a change when the current moved by
// at least the threshold since the previous sample. The first sample only
// primes the monitor. Read errors are logged and skipped.
func (m *Monitor) Poll(now time.Time) (Change, bool) {
	if m == nil || m.sampler == nil {
		return Change{}, false
	}

	a, err := m.sampler.ReadCurrent()
	if err != nil {
		log.Printf("linecurrent: read error: %v", err)
		return Change{}, false
	}

	send := m.primed && math.Abs(a-m.last) >= m.threshold
	m.primed = true
	m.last = a

	if !send {
		return Change{}, false
	}
	return Change{CurrentA: a, Time: now}, true
}

// Last returns the most recent sample and whether one has been taken.
func (m *Monitor) Last() (float64, bool) {
	if m == nil {
		return 0, false
	}
	return m.last, m.primed
}

// FakeSampler is a test double that returns scripted currents.
type FakeSampler struct {
	// Currents are returned in order; the last one repeats once exhausted.
	Currents []float64
	index    int

	// ReadError, if set, will be returned by ReadCurrent()
	ReadError error
}

// ReadCurrent returns the next scripted current.
func (f *FakeSampler) ReadCurrent() (float64, error) {
	if f.ReadError != nil {
		return 0, f.ReadError
	}
	if len(f.Currents) == 0 {
		return 0, nil
	}
	a := f.Currents[f.index]
	if f.index < len(f.Currents)-1 {
		f.index++
	}
	return a, nil
}
