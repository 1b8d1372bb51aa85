// Package interlock composes the safety gate, time source, pilot session and
// line-current monitor into one controller owned by the daemon loop. Every
// method returns the telemetry records the call produced, already stamped.
package interlock

import (
	"time"

	"github.com/sweeney/evse-interlock/internal/debounce"
	"github.com/sweeney/evse-interlock/internal/linecurrent"
	"github.com/sweeney/evse-interlock/internal/pilot"
	"github.com/sweeney/evse-interlock/internal/safety"
	"github.com/sweeney/evse-interlock/internal/telemetry"
	"github.com/sweeney/evse-interlock/internal/timesync"
)

// Event types that are not pilot event kinds.
const (
	EventGPIOEdge       = "gpio_edge"
	EventSafetyDecision = "safety_decision"
)

// DefaultACPin is the alias reported for the AC-presence input.
const DefaultACPin = "ac_present"

// Config configures a Controller.
type Config struct {
	Debounce time.Duration
	RunID    string
	ACPin    string
}

// Counts tracks events produced since start.
type Counts struct {
	ACEdges        int
	PilotEvents    int
	Sessions       int
	LineCurrent    int
	Decisions      int
	TimeSyncs      int
	QueueOverflows int
}

// State is a point-in-time view of the controller.
type State struct {
	EVAllowed     bool
	Faults        safety.Fault
	AC            debounce.Level
	Pilot         pilot.Event
	SessionActive bool
	LineCurrentA  float64
	TimeSynced    bool
	TimeAnomaly   bool
	Counts        Counts
}

// Controller is not safe for concurrent use.
type Controller struct {
	start   time.Time
	acPin   string
	gate    *safety.Gate
	clock   *timesync.Source
	session *pilot.Session
	line    *linecurrent.Monitor
	ids     *telemetry.IDGenerator

	reportedAllowed bool
	reportedFaults  safety.Fault
	counts          Counts
}

// New creates a Controller whose uptime starts at start. session and line may
// be nil when that hardware is absent.
func New(cfg Config, start time.Time, session *pilot.Session, line *linecurrent.Monitor) *Controller {
	pin := cfg.ACPin
	if pin == "" {
		pin = DefaultACPin
	}
	return &Controller{
		start:   start,
		acPin:   pin,
		gate:    safety.New(cfg.Debounce),
		clock:   timesync.New(),
		session: session,
		line:    line,
		ids:     telemetry.NewIDGenerator(cfg.RunID),
	}
}

func (c *Controller) uptime(now time.Time) time.Duration {
	return now.Sub(c.start)
}

// stamp converts now into the timestamp carried by an outgoing record.
func (c *Controller) stamp(now time.Time) (time.Time, bool) {
	ts := c.clock.TimestampFor(c.uptime(now))
	ts = c.gate.AdmitTimestamp(ts)
	return ts, c.clock.HasAnomaly() || c.gate.HasTimeAnomaly()
}

func (c *Controller) record(eventType string, now time.Time, data telemetry.Data) telemetry.Record {
	ts, anomaly := c.stamp(now)
	return telemetry.Record{
		EventID:     c.ids.Next(),
		EventType:   eventType,
		Timestamp:   ts,
		TimeAnomaly: anomaly,
		RunID:       c.ids.RunID(),
		Data:        data,
	}
}

// ObserveAC feeds one AC-presence sample. A read error must be passed as
// debounce.Unreadable.
func (c *Controller) ObserveAC(level debounce.Level, now time.Time) []telemetry.Record {
	var out []telemetry.Record

	edge := c.gate.ObserveAC(level, now)
	if edge != debounce.EdgeNone {
		c.counts.ACEdges++
		out = append(out, c.record(EventGPIOEdge, now, telemetry.Data{GPIO: &telemetry.GPIO{
			Pin:      c.acPin,
			State:    int(c.gate.ACStable()),
			Edge:     edge.String(),
			UptimeMS: c.uptime(now).Milliseconds(),
		}}))
	}
	return c.appendDecision(out, now)
}

// PollPilot samples the pilot front end.
func (c *Controller) PollPilot(now time.Time) []telemetry.Record {
	evt, changed := c.session.Poll(now)
	if !changed {
		return nil
	}

	c.counts.PilotEvents++
	if evt.Kind == pilot.EventSessionStart {
		c.counts.Sessions++
	}
	rec := c.record(string(evt.Kind), now, telemetry.Data{EVSE: &telemetry.EVSE{
		PilotState:         evt.State.String(),
		PWMDutyCycle:       evt.DutyCyclePct,
		CurrentDraw:        evt.CurrentA,
		ProximityDetected:  evt.Proximity,
		SessionID:          telemetry.SessionRef(evt.SessionID),
		EnergyDeliveredKWh: evt.EnergyKWh,
	}})
	return c.appendDecision([]telemetry.Record{rec}, now)
}

// PollLineCurrent samples the upstream current clamp.
func (c *Controller) PollLineCurrent(now time.Time) []telemetry.Record {
	change, ok := c.line.Poll(now)
	if !ok {
		return nil
	}

	c.counts.LineCurrent++
	rec := c.record(linecurrent.EventType, now, telemetry.Data{LineCurrent: &telemetry.LineCurrent{
		CurrentA: change.CurrentA,
	}})
	return c.appendDecision([]telemetry.Record{rec}, now)
}

// ApplyEpoch adopts a wall-clock epoch received at now.
func (c *Controller) ApplyEpoch(epoch time.Time, now time.Time) {
	c.counts.TimeSyncs++
	c.clock.ApplyEpoch(epoch, c.uptime(now))
}

// ReportQueueOverflow records that a record could not be queued for sending.
func (c *Controller) ReportQueueOverflow(now time.Time) []telemetry.Record {
	c.counts.QueueOverflows++
	c.gate.ReportQueueOverflow()
	return c.appendDecision(nil, now)
}

// appendDecision emits a safety record when the decision or latched fault
// set differs from the last one reported.
func (c *Controller) appendDecision(out []telemetry.Record, now time.Time) []telemetry.Record {
	allowed := c.gate.IsEVAllowed()
	faults := c.gate.Faults()
	if allowed == c.reportedAllowed && faults == c.reportedFaults {
		return out
	}

	// Stamping may itself latch a fault, so re-read after it.
	rec := c.record(EventSafetyDecision, now, telemetry.Data{})
	allowed = c.gate.IsEVAllowed()
	faults = c.gate.Faults()
	rec.Data.Safety = &telemetry.Safety{EVAllowed: allowed, Faults: faults.Names()}

	c.reportedAllowed = allowed
	c.reportedFaults = faults
	c.counts.Decisions++
	return append(out, rec)
}

// EVAllowed reports the current gate decision.
func (c *Controller) EVAllowed() bool {
	return c.gate.IsEVAllowed()
}

// Faults returns the latched fault set.
func (c *Controller) Faults() safety.Fault {
	return c.gate.Faults()
}

// Uptime returns the time elapsed since start.
func (c *Controller) Uptime(now time.Time) time.Duration {
	return c.uptime(now)
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	current, _ := c.line.Last()
	return State{
		EVAllowed:     c.gate.IsEVAllowed(),
		Faults:        c.gate.Faults(),
		AC:            c.gate.ACStable(),
		Pilot:         c.session.Snapshot(),
		SessionActive: c.session.Active(),
		LineCurrentA:  current,
		TimeSynced:    c.clock.IsSynced(),
		TimeAnomaly:   c.clock.HasAnomaly() || c.gate.HasTimeAnomaly(),
		Counts:        c.counts,
	}
}
