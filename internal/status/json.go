package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/evse-interlock/internal/debounce"
	"github.com/sweeney/evse-interlock/internal/pilot"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	DeviceID      string       `json:"device_id"`
	EVAllowed     bool         `json:"ev_allowed"`
	Faults        []string     `json:"faults"`
	AC            string       `json:"ac"`
	Ready         bool         `json:"ready"`
	Pilot         PilotJSON    `json:"pilot"`
	LineCurrentA  float64      `json:"line_current_a"`
	Time          TimeJSON     `json:"time"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// PilotJSON reports the pilot and charging session.
type PilotJSON struct {
	State         string  `json:"state"`
	Proximity     bool    `json:"proximity"`
	DutyCyclePct  float64 `json:"duty_cycle_pct"`
	CurrentA      float64 `json:"current_a"`
	SessionActive bool    `json:"session_active"`
	SessionID     string  `json:"session_id,omitempty"`
	EnergyKWh     float64 `json:"energy_kwh"`
}

// TimeJSON reports wall-clock sync state.
type TimeJSON struct {
	Synced  bool `json:"synced"`
	Anomaly bool `json:"anomaly"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	ACEdges        int `json:"ac_edges"`
	PilotEvents    int `json:"pilot_events"`
	Sessions       int `json:"sessions"`
	LineCurrent    int `json:"line_current"`
	Decisions      int `json:"decisions"`
	TimeSyncs      int `json:"time_syncs"`
	QueueOverflows int `json:"queue_overflows"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	RunID       string `json:"run_id,omitempty"`
	PollMs      int64  `json:"poll_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	PilotPollMs int64  `json:"pilot_poll_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	Contactor   bool   `json:"contactor"`
}

// ACString names the debounced AC level for display.
func ACString(snap Snapshot) string {
	if !snap.Observed {
		return "UNKNOWN"
	}
	switch snap.Interlock.AC {
	case debounce.High:
		return "PRESENT"
	case debounce.Low:
		return "ABSENT"
	default:
		return "UNKNOWN"
	}
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Interlock
	pilotState := st.Pilot.State
	if !snap.Observed {
		pilotState = pilot.StateUnknown
	}

	inner := StatusInner{
		DeviceID:  snap.Config.DeviceID,
		EVAllowed: st.EVAllowed,
		Faults:    st.Faults.Names(),
		AC:        ACString(snap),
		Ready:     snap.Observed,
		Pilot: PilotJSON{
			State:         pilotState.String(),
			Proximity:     st.Pilot.Proximity,
			DutyCyclePct:  st.Pilot.DutyCyclePct,
			CurrentA:      st.Pilot.CurrentA,
			SessionActive: st.SessionActive,
			SessionID:     st.Pilot.SessionID,
			EnergyKWh:     st.Pilot.EnergyKWh,
		},
		LineCurrentA:  st.LineCurrentA,
		Time:          TimeJSON{Synced: st.TimeSynced, Anomaly: st.TimeAnomaly},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			ACEdges:        st.Counts.ACEdges,
			PilotEvents:    st.Counts.PilotEvents,
			Sessions:       st.Counts.Sessions,
			LineCurrent:    st.Counts.LineCurrent,
			Decisions:      st.Counts.Decisions,
			TimeSyncs:      st.Counts.TimeSyncs,
			QueueOverflows: st.Counts.QueueOverflows,
		},
		Config: ConfigJSON{
			RunID:       snap.Config.RunID,
			PollMs:      snap.Config.PollMs,
			DebounceMs:  snap.Config.DebounceMs,
			PilotPollMs: snap.Config.PilotPollMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			Contactor:   snap.Config.Contactor,
		},
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
