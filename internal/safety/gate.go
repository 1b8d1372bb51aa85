// Package safety holds the single authoritative allow/deny decision for the EV contactor.
//
// The gate is fail-closed: any ambiguous input, bad configuration, backward time or
// transport saturation latches a fault and the gate denies until it is reconstructed.
package safety

import (
	"time"

	"github.com/sweeney/evse-interlock/internal/debounce"
)

// MaxDebounce is the longest accepted debounce window.
const MaxDebounce = 60 * time.Second

// AC presence levels as seen on the monitored conductor.
const (
	ACAbsent  = debounce.Low
	ACPresent = debounce.High
)

// Gate decides whether the EV supply may be energized.
// Not safe for concurrent use; the owning loop serializes all calls.
type Gate struct {
	ac            *debounce.Debouncer
	evAllowed     bool
	timeAnomaly   bool
	debounceValid bool
	faults        Fault
	lastTimestamp time.Time
	haveTimestamp bool
}

// New creates a gate with the given AC debounce window. A window outside
// (0, MaxDebounce] latches FaultDebounceInvalid and the gate denies forever.
func New(window time.Duration) *Gate {
	g := &Gate{
		debounceValid: window > 0 && window <= MaxDebounce,
	}
	if !g.debounceValid {
		g.faults |= FaultDebounceInvalid
		window = 0
	}
	g.ac = debounce.New(window)
	return g
}

// ObserveAC feeds one AC presence sample taken at now and re-evaluates the
// decision. It returns the debounced AC edge, EdgeNone if the stable level did
// not change.
func (g *Gate) ObserveAC(level debounce.Level, now time.Time) debounce.Edge {
	if g == nil {
		return debounce.EdgeNone
	}

	if !g.debounceValid {
		g.evAllowed = false
		return debounce.EdgeNone
	}

	// Unreadable input never reaches the filter.
	if level == debounce.Unreadable {
		g.faults |= FaultACUnknown | FaultInvalidInput
		g.evAllowed = false
		return debounce.EdgeNone
	}

	edge, changed := g.ac.Update(level, now)
	if !changed {
		edge = debounce.EdgeNone
	}

	stableAbsent := g.ac.Initialized() &&
		g.ac.Pending() == ACAbsent &&
		g.ac.Stable() == ACAbsent &&
		g.ac.HeldFor(now)

	g.evAllowed = g.faults == FaultNone && stableAbsent
	return edge
}

// AdmitTimestamp enforces monotonic timestamps. A timestamp earlier than the
// last admitted one latches FaultTimestampBackward, denies, and returns the
// last admitted timestamp instead.
func (g *Gate) AdmitTimestamp(ts time.Time) time.Time {
	if g == nil {
		return ts
	}

	if g.haveTimestamp && ts.Before(g.lastTimestamp) {
		g.faults |= FaultTimestampBackward
		g.timeAnomaly = true
		g.evAllowed = false
		return g.lastTimestamp
	}

	g.lastTimestamp = ts
	g.haveTimestamp = true
	return ts
}

// ReportQueueOverflow records that an outbound event could not be enqueued.
func (g *Gate) ReportQueueOverflow() {
	if g == nil {
		return
	}
	g.faults |= FaultQueueOverflow
	g.evAllowed = false
}

// IsEVAllowed reports the current decision.
func (g *Gate) IsEVAllowed() bool {
	return g != nil && g.evAllowed
}

// HasFault reports whether flag is latched.
func (g *Gate) HasFault(flag Fault) bool {
	return g != nil && g.faults&flag != 0
}

// Faults returns the latched fault set.
func (g *Gate) Faults() Fault {
	if g == nil {
		return FaultNone
	}
	return g.faults
}

// HasTimeAnomaly reports whether a backward timestamp was ever admitted.
func (g *Gate) HasTimeAnomaly() bool {
	return g != nil && g.timeAnomaly
}

// ACStable returns the debounced AC level, Unreadable before the first sample.
func (g *Gate) ACStable() debounce.Level {
	if g == nil {
		return debounce.Unreadable
	}
	return g.ac.Stable()
}
