// Package debounce converts a bouncing binary input into a stable level plus edge events.
// It has no hardware or clock dependencies: the caller supplies every instant.
package debounce

import "time"

// Level is a single raw sample of a binary input.
type Level int8

const (
	// Unreadable marks a sample the hardware could not produce.
	// It is never fed into the filter.
	Unreadable Level = -1
	Low        Level = 0
	High       Level = 1
)

// FromRead converts the result of a digital input read into a Level.
// Any read error yields Unreadable.
func FromRead(high bool, err error) Level {
	switch {
	case err != nil:
		return Unreadable
	case high:
		return High
	default:
		return Low
	}
}

func (l Level) String() string {
	switch l {
	case Low:
		return "0"
	case High:
		return "1"
	default:
		return "unreadable"
	}
}

// Edge classifies a change of the stable level.
type Edge int

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeUnknown
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeUnknown:
		return "unknown"
	default:
		return "none"
	}
}

// Debouncer tracks the pending and stable level of one input.
// Not safe for concurrent use.
type Debouncer struct {
	window time.Duration

	stable      Level
	pending     Level
	lastChange  time.Time
	initialized bool
}

// New creates a Debouncer that requires a level to hold for window before it
// becomes the stable level.
func New(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		stable:  Unreadable,
		pending: Unreadable,
	}
}

// Update feeds one sample taken at now. It returns the edge and true only when
// the stable level changed. Unreadable samples leave the state untouched.
func (d *Debouncer) Update(sample Level, now time.Time) (Edge, bool) {
	if d == nil || sample == Unreadable {
		return EdgeNone, false
	}

	// First sample is taken as-is; there is nothing to compare against.
	if !d.initialized {
		d.initialized = true
		d.stable = sample
		d.pending = sample
		d.lastChange = now
		return EdgeNone, false
	}

	// Any disagreement restarts the window.
	if sample != d.pending {
		d.pending = sample
		d.lastChange = now
		return EdgeNone, false
	}

	if now.Sub(d.lastChange) < d.window {
		return EdgeNone, false
	}

	if d.pending == d.stable {
		return EdgeNone, false
	}

	edge := edgeFor(d.stable, d.pending)
	d.stable = d.pending
	return edge, true
}

func edgeFor(from, to Level) Edge {
	switch {
	case from == Low && to == High:
		return EdgeRising
	case from == High && to == Low:
		return EdgeFalling
	default:
		return EdgeUnknown
	}
}

// Initialized reports whether a first readable sample has been seen.
func (d *Debouncer) Initialized() bool {
	return d != nil && d.initialized
}

// Stable returns the last accepted level, or Unreadable before initialization.
func (d *Debouncer) Stable() Level {
	if d == nil {
		return Unreadable
	}
	return d.stable
}

// Pending returns the most recent readable sample.
func (d *Debouncer) Pending() Level {
	if d == nil {
		return Unreadable
	}
	return d.pending
}

// LastChange returns when the pending level last changed.
func (d *Debouncer) LastChange() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.lastChange
}

// HeldFor reports whether the pending level has been unchanged for at least
// the window as of now.
func (d *Debouncer) HeldFor(now time.Time) bool {
	if !d.Initialized() {
		return false
	}
	return now.Sub(d.lastChange) >= d.window
}
