package pilot

import "errors"

// FakeSampler is a test double that returns scripted readings.
type FakeSampler struct {
	// Readings are returned in order; the last one repeats once exhausted.
	Readings []Reading

	index int

	// SampleError, if set, is returned by Sample.
	SampleError error
}

// NewFakeSampler creates a FakeSampler with the given readings.
func NewFakeSampler(readings ...Reading) *FakeSampler {
	return &FakeSampler{Readings: readings}
}

// Sample returns the next scripted reading.
func (f *FakeSampler) Sample() (Reading, error) {
	if f.SampleError != nil {
		return Reading{}, f.SampleError
	}
	if len(f.Readings) == 0 {
		return Reading{}, errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}
