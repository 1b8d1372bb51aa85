package main

import (
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sweeney/evse-interlock/internal/config"
	"github.com/sweeney/evse-interlock/internal/gpio"
	"github.com/sweeney/evse-interlock/internal/interlock"
	"github.com/sweeney/evse-interlock/internal/linecurrent"
	"github.com/sweeney/evse-interlock/internal/mqtt"
	"github.com/sweeney/evse-interlock/internal/pilot"
	"github.com/sweeney/evse-interlock/internal/safety"
	"github.com/sweeney/evse-interlock/internal/status"
	"github.com/sweeney/evse-interlock/internal/telemetry"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	want := &status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if diff := cmp.Diff(want, readNetworkInfo()); diff != "" {
		t.Errorf("network info mismatch (-want +got):\n%s", diff)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkType, "")
	t.Setenv(envNetworkIP, "")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want %q", info.Status, "connected")
	}
	if info.Type != "" || info.IP != "" {
		t.Errorf("expected empty type and ip, got %q %q", info.Type, info.IP)
	}
}

func TestApplyOverride(t *testing.T) {
	tests := []struct {
		name  string
		value string
		check func(c *config.Config) bool
	}{
		{"poll", "20ms", func(c *config.Config) bool { return c.Interlock.Poll == "20ms" }},
		{"debounce", "1s", func(c *config.Config) bool { return c.Interlock.Debounce == "1s" }},
		{"pilot-poll", "2s", func(c *config.Config) bool { return c.Pilot.Poll == "2s" }},
		{"broker", "tcp://10.0.0.2:1883", func(c *config.Config) bool { return c.MQTT.Broker == "tcp://10.0.0.2:1883" }},
		{"heartbeat", "0s", func(c *config.Config) bool { return c.Heartbeat == "0s" }},
		{"pin-ac", "5", func(c *config.Config) bool { return c.Interlock.ACPin == 5 }},
		{"pin-contactor", "-1", func(c *config.Config) bool { return c.Interlock.ContactorPin == -1 }},
		{"device-id", "garage", func(c *config.Config) bool { return c.Device.ID == "garage" }},
		{"http", "", func(c *config.Config) bool { return c.HTTP == "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if err := applyOverride(cfg, tt.name, tt.value); err != nil {
				t.Fatalf("applyOverride: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("-%s=%q not applied: %+v", tt.name, tt.value, cfg)
			}
		})
	}
}

func TestApplyOverrideBadPin(t *testing.T) {
	cfg := config.Default()
	if err := applyOverride(cfg, "pin-ac", "seventeen"); err == nil {
		t.Error("expected error for non-numeric pin")
	}
	if cfg.Interlock.ACPin != gpio.PinAC {
		t.Errorf("pin changed on error: %d", cfg.Interlock.ACPin)
	}
}

func TestApplyOverrideIgnoresOtherFlags(t *testing.T) {
	cfg := config.Default()
	if err := applyOverride(cfg, "config", "/etc/evse.yaml"); err != nil {
		t.Fatalf("applyOverride: %v", err)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("config changed (-want +got):\n%s", diff)
	}
}

func TestResolveRunID(t *testing.T) {
	if got := resolveRunID(""); got != "" {
		t.Errorf("empty: got %q", got)
	}
	if got := resolveRunID("bench-7"); got != "bench-7" {
		t.Errorf("fixed: got %q", got)
	}
	a, b := resolveRunID(config.RunIDAuto), resolveRunID(config.RunIDAuto)
	if len(a) != 8 || a == b {
		t.Errorf("auto: got %q and %q, want two distinct 8-char ids", a, b)
	}
}

func TestContactorDriverRetriesAfterError(t *testing.T) {
	out := &gpio.FakeContactor{SetError: errors.New("line busy")}
	d := &contactorDriver{out: out}

	d.follow(true)
	if d.known {
		t.Fatal("failed write must not be remembered")
	}

	out.SetError = nil
	d.follow(true)
	d.follow(true)
	if diff := cmp.Diff([]bool{true}, out.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	d.follow(false)
	if out.Energized {
		t.Error("expected contactor open")
	}
}

func TestContactorDriverDisabled(t *testing.T) {
	d := &contactorDriver{}
	d.follow(true)
	if d.known {
		t.Error("disabled output must not record state")
	}
}

// --- runLoop tests ---

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// loopHarness drives runLoop through unbuffered channels so every send
// completes only once the loop has picked it up.
type loopHarness struct {
	ac     chan time.Time
	pilot  chan time.Time
	line   chan time.Time
	epochs chan time.Time
	sig    chan os.Signal
	done   chan error
}

func startLoop(t *testing.T, d loopDeps) *loopHarness {
	t.Helper()
	h := &loopHarness{
		ac:     make(chan time.Time),
		pilot:  make(chan time.Time),
		line:   make(chan time.Time),
		epochs: make(chan time.Time),
		sig:    make(chan os.Signal, 1),
		done:   make(chan error, 1),
	}
	d.acTick = h.ac
	d.pilotTick = h.pilot
	d.lineTick = h.line
	d.epochs = h.epochs
	d.sig = h.sig
	go func() {
		h.done <- runLoop(d)
	}()
	return h
}

func (h *loopHarness) tickAC(n int) {
	for i := 0; i < n; i++ {
		h.ac <- time.Time{}
	}
}

// stop signals the loop and waits for it to return.
func (h *loopHarness) stop(t *testing.T, s os.Signal) {
	t.Helper()
	h.sig <- s
	if err := <-h.done; err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
}

type fixture struct {
	reader    *gpio.FakeReader
	contactor *gpio.FakeContactor
	pub       *mqtt.FakePublisher
	tracker   *status.Tracker
	deps      loopDeps
}

// newFixture builds loop dependencies around a 250ms debounce window and a
// clock that advances 100ms per call.
func newFixture(samples ...bool) *fixture {
	f := &fixture{
		reader:    gpio.NewFakeReader(samples...),
		contactor: &gpio.FakeContactor{},
		pub:       mqtt.NewFakePublisher(),
		tracker:   status.NewTracker(t0, status.Config{DeviceID: "test-device"}),
	}
	f.deps = loopDeps{
		reader:     f.reader,
		contactor:  f.contactor,
		publisher:  f.pub,
		mqttStatus: f.pub,
		tracker:    f.tracker,
		ctrl:       interlock.New(interlock.Config{Debounce: 250 * time.Millisecond, RunID: "run1"}, t0, nil, nil),
		now:        fakeClock(t0, 100*time.Millisecond),
	}
	return f
}

func eventTypes(recs []telemetry.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.EventType
	}
	return out
}

func TestRunLoopStableAbsenceClosesContactor(t *testing.T) {
	f := newFixture(false)
	h := startLoop(t, f.deps)
	h.tickAC(4)
	h.stop(t, syscall.SIGTERM)

	want := []telemetry.Record{{
		EventID:   "run1-00000001",
		EventType: interlock.EventSafetyDecision,
		Timestamp: time.UnixMilli(400),
		RunID:     "run1",
		Data:      telemetry.Data{Safety: &telemetry.Safety{EVAllowed: true, Faults: []string{}}},
	}}
	if diff := cmp.Diff(want, f.pub.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}

	// Opened at start, closed on allow, opened again on shutdown.
	if diff := cmp.Diff([]bool{false, true, false}, f.contactor.History); diff != "" {
		t.Errorf("contactor history mismatch (-want +got):\n%s", diff)
	}

	if len(f.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(f.pub.SystemEvents))
	}
	se := f.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGTERM" || !se.Retained {
		t.Errorf("unexpected shutdown event: %+v", se)
	}
	if len(se.RawPayload) == 0 {
		t.Error("expected status payload on shutdown event")
	}
}

func TestRunLoopACPresentNeverAllows(t *testing.T) {
	f := newFixture(true)
	h := startLoop(t, f.deps)
	h.tickAC(10)
	h.stop(t, syscall.SIGINT)

	if len(f.pub.Records) != 0 {
		t.Errorf("expected no records, got %v", eventTypes(f.pub.Records))
	}
	for i, closed := range f.contactor.History {
		if closed {
			t.Errorf("contactor closed at write %d", i)
		}
	}
	if f.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("reason: got %q", f.pub.SystemEvents[0].Reason)
	}
}

func TestRunLoopACReturnDenies(t *testing.T) {
	f := newFixture(false, false, false, false, true)
	h := startLoop(t, f.deps)
	h.tickAC(8)
	h.stop(t, syscall.SIGTERM)

	wantTypes := []string{interlock.EventSafetyDecision, interlock.EventSafetyDecision, interlock.EventGPIOEdge}
	if diff := cmp.Diff(wantTypes, eventTypes(f.pub.Records)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	if f.pub.Records[1].Data.Safety.EVAllowed {
		t.Error("AC return must deny")
	}
	if got := f.pub.Records[2].Data.GPIO.Edge; got != "rising" {
		t.Errorf("edge: got %q, want rising", got)
	}
	if diff := cmp.Diff([]bool{false, true, false, false}, f.contactor.History); diff != "" {
		t.Errorf("contactor history mismatch (-want +got):\n%s", diff)
	}
}

func TestRunLoopReadErrorLatchesFault(t *testing.T) {
	f := newFixture(false)
	f.reader.ReadError = errors.New("gpio fault")
	h := startLoop(t, f.deps)
	h.tickAC(6)
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 1 {
		t.Fatalf("expected one safety record, got %v", eventTypes(f.pub.Records))
	}
	want := &telemetry.Safety{EVAllowed: false, Faults: []string{"ac_unknown", "invalid_input"}}
	if diff := cmp.Diff(want, f.pub.Records[0].Data.Safety); diff != "" {
		t.Errorf("safety mismatch (-want +got):\n%s", diff)
	}
	if f.contactor.Energized {
		t.Error("contactor must stay open")
	}

	snap := f.tracker.Snapshot()
	if snap.Interlock.EVAllowed || snap.Interlock.Faults == 0 {
		t.Errorf("tracker not updated: %+v", snap.Interlock)
	}
	if snap.Observed {
		t.Error("unreadable input must not mark the AC level as known")
	}
}

// overflowPublisher accepts every record but reports ErrQueueFull on one call,
// as the real publisher does when buffering pushed out an older message.
type overflowPublisher struct {
	*mqtt.FakePublisher
	fullOn int
	calls  int
}

func (p *overflowPublisher) Publish(rec telemetry.Record) error {
	p.calls++
	if err := p.FakePublisher.Publish(rec); err != nil {
		return err
	}
	if p.calls == p.fullOn {
		return mqtt.ErrQueueFull
	}
	return nil
}

func TestRunLoopQueueFullDenies(t *testing.T) {
	f := newFixture(false)
	pub := &overflowPublisher{FakePublisher: f.pub, fullOn: 1}
	f.deps.publisher = pub
	h := startLoop(t, f.deps)
	h.tickAC(6)
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 2 {
		t.Fatalf("expected allow then deny, got %v", eventTypes(f.pub.Records))
	}
	want := &telemetry.Safety{EVAllowed: false, Faults: []string{"queue_overflow"}}
	if diff := cmp.Diff(want, f.pub.Records[1].Data.Safety); diff != "" {
		t.Errorf("safety mismatch (-want +got):\n%s", diff)
	}
	if f.contactor.Energized {
		t.Error("contactor must be open after overflow")
	}
	if got := f.deps.ctrl.State().Counts.QueueOverflows; got != 1 {
		t.Errorf("queue overflows: got %d, want 1", got)
	}
}

func TestRunLoopPublishErrorKeepsRunning(t *testing.T) {
	f := newFixture(false)
	f.pub.PublishError = errors.New("broker gone")
	h := startLoop(t, f.deps)
	h.tickAC(6)
	h.stop(t, syscall.SIGTERM)

	if diff := cmp.Diff([]bool{false, true, false}, f.contactor.History); diff != "" {
		t.Errorf("plain publish errors must not affect the gate (-want +got):\n%s", diff)
	}
	if f.deps.ctrl.Faults() != 0 {
		t.Errorf("unexpected faults: %s", f.deps.ctrl.Faults())
	}
	if len(f.pub.SystemEvents) != 1 {
		t.Errorf("expected SHUTDOWN to be published, got %d system events", len(f.pub.SystemEvents))
	}
}

func TestRunLoopTimeSync(t *testing.T) {
	f := newFixture(false)
	h := startLoop(t, f.deps)
	epoch := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	h.tickAC(1)       // clock 100ms
	h.epochs <- epoch // clock 200ms
	h.tickAC(2)       // clock 300ms, 400ms
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 1 {
		t.Fatalf("expected one record, got %v", eventTypes(f.pub.Records))
	}
	if got, want := f.pub.Records[0].Timestamp, epoch.Add(200*time.Millisecond); !got.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", got, want)
	}
	snap := f.tracker.Snapshot()
	if !snap.Interlock.TimeSynced || snap.Interlock.Counts.TimeSyncs != 1 {
		t.Errorf("expected synced state, got %+v", snap.Interlock)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	f := newFixture(false)
	f.deps.now = fakeClock(t0, 5*time.Minute)
	f.deps.heartbeat = 15 * time.Minute
	h := startLoop(t, f.deps)
	h.tickAC(4) // 5m, 10m, 15m, 20m
	h.stop(t, syscall.SIGTERM)

	var got []string
	for _, se := range f.pub.SystemEvents {
		got = append(got, se.Event)
	}
	if diff := cmp.Diff([]string{"HEARTBEAT", "SHUTDOWN"}, got); diff != "" {
		t.Fatalf("system events mismatch (-want +got):\n%s", diff)
	}
	hb := f.pub.SystemEvents[0]
	if !hb.Timestamp.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("heartbeat timestamp: got %v", hb.Timestamp)
	}
	if hb.Retained {
		t.Error("heartbeat must not be retained")
	}
	if len(hb.RawPayload) == 0 {
		t.Error("expected status payload on heartbeat")
	}
}

// heartbeatFullPublisher reports ErrQueueFull whenever a heartbeat pushes an
// older message out of the outbox.
type heartbeatFullPublisher struct {
	*mqtt.FakePublisher
}

func (p *heartbeatFullPublisher) PublishSystem(event mqtt.SystemEvent) error {
	if err := p.FakePublisher.PublishSystem(event); err != nil {
		return err
	}
	if event.Event == "HEARTBEAT" {
		return mqtt.ErrQueueFull
	}
	return nil
}

func TestRunLoopHeartbeatQueueFullDenies(t *testing.T) {
	f := newFixture(false)
	f.deps.publisher = &heartbeatFullPublisher{FakePublisher: f.pub}
	f.deps.now = fakeClock(t0, 5*time.Minute)
	f.deps.heartbeat = 15 * time.Minute
	h := startLoop(t, f.deps)
	h.tickAC(4) // 5m, 10m (allow), 15m (heartbeat), 20m
	h.stop(t, syscall.SIGTERM)

	if diff := cmp.Diff([]string{"safety_decision", "safety_decision"}, eventTypes(f.pub.Records)); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	want := &telemetry.Safety{EVAllowed: false, Faults: []string{"queue_overflow"}}
	if diff := cmp.Diff(want, f.pub.Records[1].Data.Safety); diff != "" {
		t.Errorf("safety mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]bool{false, true, false}, f.contactor.History); diff != "" {
		t.Errorf("contactor history mismatch (-want +got):\n%s", diff)
	}
	if got := f.deps.ctrl.State().Counts.QueueOverflows; got != 1 {
		t.Errorf("queue overflows: got %d, want 1", got)
	}
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	f := newFixture(false)
	f.deps.now = fakeClock(t0, time.Hour)
	h := startLoop(t, f.deps)
	h.tickAC(5)
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.SystemEvents) != 1 {
		t.Errorf("expected only SHUTDOWN, got %d system events", len(f.pub.SystemEvents))
	}
}

func TestRunLoopPilotSession(t *testing.T) {
	f := newFixture(false)
	sampler := pilot.NewFakeSampler(
		pilot.Reading{PilotMV: 12000},
		pilot.Reading{PilotMV: 9000, Proximity: true, DutyCyclePct: 25},
	)
	session := pilot.NewSession(sampler, pilot.Options{NominalVoltage: 240})
	f.deps.ctrl = interlock.New(interlock.Config{Debounce: 250 * time.Millisecond, RunID: "run1"}, t0, session, nil)
	h := startLoop(t, f.deps)
	h.pilot <- time.Time{}
	h.pilot <- time.Time{}
	h.stop(t, syscall.SIGTERM)

	wantTypes := []string{string(pilot.EventStateChange), string(pilot.EventSessionStart)}
	if diff := cmp.Diff(wantTypes, eventTypes(f.pub.Records)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	evse := f.pub.Records[1].Data.EVSE
	if evse.PilotState != "B" || !evse.ProximityDetected || evse.PWMDutyCycle != 25 {
		t.Errorf("unexpected evse data: %+v", evse)
	}
	if evse.SessionID == nil || len(*evse.SessionID) != 36 {
		t.Errorf("expected a UUID session id, got %v", evse.SessionID)
	}
	if !f.tracker.Snapshot().Interlock.SessionActive {
		t.Error("tracker should show an active session")
	}
}

func TestRunLoopLineCurrent(t *testing.T) {
	f := newFixture(false)
	line := linecurrent.NewMonitor(&linecurrent.FakeSampler{Currents: []float64{0.2, 0.4, 6.1}}, 0.5)
	f.deps.ctrl = interlock.New(interlock.Config{Debounce: 250 * time.Millisecond, RunID: "run1"}, t0, nil, line)
	h := startLoop(t, f.deps)
	for i := 0; i < 3; i++ {
		h.line <- time.Time{}
	}
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 1 {
		t.Fatalf("expected one current change, got %v", eventTypes(f.pub.Records))
	}
	rec := f.pub.Records[0]
	if rec.EventType != linecurrent.EventType || rec.Data.LineCurrent.CurrentA != 6.1 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if got := f.tracker.Snapshot().Interlock.LineCurrentA; got != 6.1 {
		t.Errorf("tracker line current: got %v", got)
	}
}

func TestRunLoopWithoutContactor(t *testing.T) {
	f := newFixture(false)
	f.deps.contactor = nil
	h := startLoop(t, f.deps)
	h.tickAC(4)
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 1 || !f.pub.Records[0].Data.Safety.EVAllowed {
		t.Errorf("decision must still be published, got %v", eventTypes(f.pub.Records))
	}
	if len(f.contactor.History) != 0 {
		t.Errorf("disabled contactor was written: %v", f.contactor.History)
	}
}

func TestRunLoopInvalidDebounceDeniesForever(t *testing.T) {
	f := newFixture(false)
	f.deps.ctrl = interlock.New(interlock.Config{Debounce: 0, RunID: "run1"}, t0, nil, nil)
	h := startLoop(t, f.deps)
	h.tickAC(20)
	h.stop(t, syscall.SIGTERM)

	if len(f.pub.Records) != 1 {
		t.Fatalf("expected a single deny record, got %v", eventTypes(f.pub.Records))
	}
	want := &telemetry.Safety{EVAllowed: false, Faults: []string{"debounce_invalid"}}
	if diff := cmp.Diff(want, f.pub.Records[0].Data.Safety); diff != "" {
		t.Errorf("safety mismatch (-want +got):\n%s", diff)
	}
	if f.contactor.Energized {
		t.Error("contactor must stay open")
	}
	if !f.deps.ctrl.Faults().Has(safety.FaultDebounceInvalid) {
		t.Errorf("expected debounce_invalid, got %s", f.deps.ctrl.Faults())
	}
}
