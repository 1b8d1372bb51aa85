package gpio

import "errors"

// FakeReader is a test double that returns scripted AC-presence values.
type FakeReader struct {
	// Samples are returned in order; the last one repeats once exhausted.
	Samples []bool

	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Read()
	ReadError error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...bool) *FakeReader {
	return &FakeReader{Samples: samples}
}

// Read returns the next scripted sample.
func (f *FakeReader) Read() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}
	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	present := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return present, nil
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.Closed = true
	return nil
}

// Reset resets the reader to the beginning of samples.
func (f *FakeReader) Reset() {
	f.index = 0
	f.Closed = false
}

// FakeContactor records every value driven onto the contactor.
type FakeContactor struct {
	Energized bool
	History   []bool
	Closed    bool

	// SetError, if set, will be returned by Set()
	SetError error
}

// Set records closed as the contactor state.
func (f *FakeContactor) Set(closed bool) error {
	if f.SetError != nil {
		return f.SetError
	}
	f.Energized = closed
	f.History = append(f.History, closed)
	return nil
}

// Close opens the contactor and marks it closed.
func (f *FakeContactor) Close() error {
	f.Energized = false
	f.Closed = true
	return nil
}
