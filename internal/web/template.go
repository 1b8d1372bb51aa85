package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/evse-interlock/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"kwh": func(v float64) string {
		return fmt.Sprintf("%.3f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>EVSE Interlock</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.allowed { color: green; font-weight: bold; }
.denied { color: red; font-weight: bold; }
.fault { color: red; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>EVSE Interlock {{.Config.DeviceID}}</h1>

<h2>Interlock</h2>
<table>
<tr><th>EV supply</th><td id="ev-allowed" class="{{if .Interlock.EVAllowed}}allowed{{else}}denied{{end}}">{{if .Interlock.EVAllowed}}ALLOWED{{else}}DENIED{{end}}</td></tr>
<tr><th>AC</th><td id="ac-state">{{.AC}}</td></tr>
<tr><th>Faults</th><td id="faults" class="{{if .Interlock.Faults}}fault{{end}}">{{.Interlock.Faults}}</td></tr>
<tr><th>Contactor output</th><td>{{if .Config.Contactor}}enabled{{else}}disabled{{end}}</td></tr>
</table>

<h2>Charging</h2>
<table>
<tr><th>Pilot</th><td id="pilot-state">{{.PilotState}}</td></tr>
<tr><th>Proximity</th><td>{{if .Interlock.Pilot.Proximity}}yes{{else}}no{{end}}</td></tr>
<tr><th>Session</th><td>{{if .Interlock.SessionActive}}{{.Interlock.Pilot.SessionID}}{{else}}idle{{end}}</td></tr>
<tr><th>Energy</th><td>{{kwh .Interlock.Pilot.EnergyKWh}} kWh</td></tr>
<tr><th>Line current</th><td>{{.Interlock.LineCurrentA}} A</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Clock</th><td>{{if .Interlock.TimeSynced}}synced{{else}}uptime only{{end}}{{if .Interlock.TimeAnomaly}} (anomaly){{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Event Counts</h2>
<table>
<tr><th>AC edges</th><td>{{.Interlock.Counts.ACEdges}}</td></tr>
<tr><th>Pilot events</th><td>{{.Interlock.Counts.PilotEvents}}</td></tr>
<tr><th>Sessions</th><td>{{.Interlock.Counts.Sessions}}</td></tr>
<tr><th>Decisions</th><td>{{.Interlock.Counts.Decisions}}</td></tr>
<tr><th>Queue overflows</th><td>{{.Interlock.Counts.QueueOverflows}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/decision">decision</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// The template needs plain fields for values Snapshot computes.
	pilotState := "?"
	if snap.Observed {
		pilotState = snap.Interlock.Pilot.State.String()
	}
	data := struct {
		status.Snapshot
		Uptime     time.Duration
		AC         string
		PilotState string
	}{
		Snapshot:   snap,
		Uptime:     snap.Uptime(),
		AC:         status.ACString(snap),
		PilotState: pilotState,
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render: %v", err)
	}
}
