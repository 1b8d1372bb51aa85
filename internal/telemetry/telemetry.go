// Package telemetry builds the versioned JSON envelopes sent upstream for every
// interlock event.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// SchemaVersion is stamped on every envelope.
const SchemaVersion = "1.0"

// DefaultDeviceType identifies this class of device.
const DefaultDeviceType = "evse"

// ErrInvalidRecord is returned when a record lacks a required field.
var ErrInvalidRecord = errors.New("telemetry: invalid record")

// Record is one event ready to encode. Exactly one Data member must be set.
type Record struct {
	EventID     string
	EventType   string
	Timestamp   time.Time
	TimeAnomaly bool
	RunID       string
	Data        Data
}

// Data holds the kind-specific payload.
type Data struct {
	GPIO        *GPIO        `json:"gpio,omitempty"`
	EVSE        *EVSE        `json:"evse,omitempty"`
	LineCurrent *LineCurrent `json:"line_current,omitempty"`
	Safety      *Safety      `json:"safety,omitempty"`
}

func (d Data) count() int {
	n := 0
	if d.GPIO != nil {
		n++
	}
	if d.EVSE != nil {
		n++
	}
	if d.LineCurrent != nil {
		n++
	}
	if d.Safety != nil {
		n++
	}
	return n
}

// GPIO is a debounced digital input edge.
type GPIO struct {
	Pin      string `json:"pin"`
	State    int    `json:"state"`
	Edge     string `json:"edge"`
	UptimeMS int64  `json:"uptime_ms"`
}

// EVSE is a pilot state or session change.
type EVSE struct {
	PilotState         string  `json:"pilot_state"`
	PWMDutyCycle       float64 `json:"pwm_duty_cycle"`
	CurrentDraw        float64 `json:"current_draw"`
	ProximityDetected  bool    `json:"proximity_detected"`
	SessionID          *string `json:"session_id"`
	EnergyDeliveredKWh float64 `json:"energy_delivered_kwh"`
}

// LineCurrent is a significant upstream current change.
type LineCurrent struct {
	CurrentA float64 `json:"current_a"`
}

// Safety is a change in the interlock decision.
type Safety struct {
	EVAllowed bool     `json:"ev_allowed"`
	Faults    []string `json:"faults"`
}

// Envelope is the wire form of a Record.
type Envelope struct {
	SchemaVersion string  `json:"schema_version"`
	DeviceID      string  `json:"device_id"`
	DeviceType    string  `json:"device_type"`
	Timestamp     int64   `json:"timestamp"`
	EventID       string  `json:"event_id"`
	TimeAnomaly   bool    `json:"time_anomaly"`
	EventType     string  `json:"event_type"`
	Location      *string `json:"location"`
	RunID         *string `json:"run_id"`
	Data          Data    `json:"data"`
}

// Encoder stamps device identity onto records.
type Encoder struct {
	DeviceID   string
	DeviceType string
}

// Envelope validates r and builds its wire form.
func (e Encoder) Envelope(r Record) (Envelope, error) {
	switch {
	case e.DeviceID == "":
		return Envelope{}, fmt.Errorf("%w: missing device id", ErrInvalidRecord)
	case e.DeviceType == "":
		return Envelope{}, fmt.Errorf("%w: missing device type", ErrInvalidRecord)
	case r.EventID == "":
		return Envelope{}, fmt.Errorf("%w: missing event id", ErrInvalidRecord)
	case r.EventType == "":
		return Envelope{}, fmt.Errorf("%w: missing event type", ErrInvalidRecord)
	case r.Data.count() != 1:
		return Envelope{}, fmt.Errorf("%w: want exactly one data member, got %d", ErrInvalidRecord, r.Data.count())
	}

	env := Envelope{
		SchemaVersion: SchemaVersion,
		DeviceID:      e.DeviceID,
		DeviceType:    e.DeviceType,
		Timestamp:     r.Timestamp.UnixMilli(),
		EventID:       r.EventID,
		TimeAnomaly:   r.TimeAnomaly,
		EventType:     r.EventType,
		Data:          roundData(r.Data),
	}
	if r.RunID != "" {
		id := r.RunID
		env.RunID = &id
	}
	return env, nil
}

// Marshal encodes r as a JSON envelope.
func (e Encoder) Marshal(r Record) ([]byte, error) {
	env, err := e.Envelope(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// roundData trims analog values to the precision the front end resolves.
func roundData(d Data) Data {
	if d.EVSE != nil {
		v := *d.EVSE
		v.PWMDutyCycle = round(v.PWMDutyCycle, 2)
		v.CurrentDraw = round(v.CurrentDraw, 2)
		v.EnergyDeliveredKWh = round(v.EnergyDeliveredKWh, 4)
		d.EVSE = &v
	}
	if d.LineCurrent != nil {
		v := *d.LineCurrent
		v.CurrentA = round(v.CurrentA, 3)
		d.LineCurrent = &v
	}
	if d.Safety != nil && d.Safety.Faults == nil {
		v := *d.Safety
		v.Faults = []string{}
		d.Safety = &v
	}
	return d
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// SessionRef returns id as a JSON string, or nil (null) when empty.
func SessionRef(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
