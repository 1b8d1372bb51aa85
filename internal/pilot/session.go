// Package pilot classifies the EV control pilot into J1772 states and tracks the
// charging session lifecycle and delivered energy.
package pilot

import (
	"log"
	"time"

	"github.com/google/uuid"
)

// Reading is one sample of the pilot front end.
type Reading struct {
	PilotMV      int
	Proximity    bool
	DutyCyclePct float64
	CurrentA     float64
}

// Sampler reads the pilot front end.
type Sampler interface {
	Sample() (Reading, error)
}

// EventKind tags an emitted pilot event.
type EventKind string

const (
	EventSessionStart EventKind = "session_start"
	EventSessionEnd   EventKind = "session_end"
	EventStateChange  EventKind = "state_change"
)

// Event describes a change in pilot state or proximity.
type Event struct {
	Kind         EventKind
	State        State
	Proximity    bool
	DutyCyclePct float64
	CurrentA     float64
	EnergyKWh    float64
	SessionID    string
	Time         time.Time
}

// DefaultNominalVoltage is used for power when none is configured.
const DefaultNominalVoltage = 240.0

// Options configures a Session.
type Options struct {
	NominalVoltage float64
	ToleranceMV    int
}

// Session tracks pilot state, the active charging session and its energy.
// Not safe for concurrent use.
type Session struct {
	sampler Sampler
	opts    Options
	newID   func() string

	state          State
	proximity      bool
	dutyCyclePct   float64
	currentA       float64
	energyKWh      float64
	sessionID      string
	active         bool
	lastEnergyTime time.Time
	polled         bool
}

// NewSession creates a Session reading from sampler.
func NewSession(sampler Sampler, opts Options) *Session {
	if opts.NominalVoltage <= 0 {
		opts.NominalVoltage = DefaultNominalVoltage
	}
	if opts.ToleranceMV <= 0 {
		opts.ToleranceMV = DefaultToleranceMV
	}
	return &Session{
		sampler: sampler,
		opts:    opts,
		newID:   uuid.NewString,
		state:   StateUnknown,
	}
}

// Poll samples the front end at now and returns an event when the classified
// state or proximity changed.
func (s *Session) Poll(now time.Time) (Event, bool) {
	if s == nil || s.sampler == nil {
		return Event{}, false
	}

	r, err := s.sampler.Sample()
	if err != nil {
		log.Printf("pilot: sample error: %v", err)
		return s.update(StateUnknown, Reading{Proximity: s.proximity}, now)
	}
	return s.update(Classify(r.PilotMV, s.opts.ToleranceMV), r, now)
}

func (s *Session) update(state State, r Reading, now time.Time) (Event, bool) {
	// Integrate over the interval since the previous poll; the first poll has
	// no interval.
	if s.polled && state.Charging() {
		dt := now.Sub(s.lastEnergyTime)
		powerKW := r.CurrentA * s.opts.NominalVoltage / 1000
		if dt > 0 {
			s.energyKWh += powerKW * dt.Hours()
		}
	}
	s.lastEnergyTime = now
	s.polled = true

	changed := state != s.state || r.Proximity != s.proximity
	kind := EventStateChange
	endedID := ""

	if changed {
		switch {
		case s.state == StateA && state == StateB:
			s.sessionID = s.newID()
			s.active = true
			s.energyKWh = 0
			kind = EventSessionStart
		case s.active && state == StateA:
			kind = EventSessionEnd
			s.active = false
			endedID = s.sessionID
			s.sessionID = ""
		}
	}

	s.state = state
	s.proximity = r.Proximity
	s.dutyCyclePct = r.DutyCyclePct
	s.currentA = r.CurrentA

	if !changed {
		return Event{}, false
	}

	evt := Event{
		Kind:         kind,
		State:        state,
		Proximity:    r.Proximity,
		DutyCyclePct: r.DutyCyclePct,
		CurrentA:     r.CurrentA,
		EnergyKWh:    s.energyKWh,
		SessionID:    s.sessionID,
		Time:         now,
	}
	if kind == EventSessionEnd {
		evt.SessionID = endedID
	}
	return evt, true
}

// State returns the last classified pilot state.
func (s *Session) State() State {
	if s == nil {
		return StateUnknown
	}
	return s.state
}

// Active reports whether a charging session is in progress.
func (s *Session) Active() bool {
	return s != nil && s.active
}

// SessionID returns the active session id, empty when idle.
func (s *Session) SessionID() string {
	if s == nil {
		return ""
	}
	return s.sessionID
}

// EnergyKWh returns the energy delivered in the current or last session.
func (s *Session) EnergyKWh() float64 {
	if s == nil {
		return 0
	}
	return s.energyKWh
}

// Snapshot returns the current values as an event-shaped record.
func (s *Session) Snapshot() Event {
	if s == nil {
		return Event{State: StateUnknown}
	}
	return Event{
		Kind:         EventStateChange,
		State:        s.state,
		Proximity:    s.proximity,
		DutyCyclePct: s.dutyCyclePct,
		CurrentA:     s.currentA,
		EnergyKWh:    s.energyKWh,
		SessionID:    s.sessionID,
		Time:         s.lastEnergyTime,
	}
}
