// Command evse-interlock gates an EV charger contactor on the absence of AC on
// a monitored conductor and publishes interlock telemetry to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sweeney/evse-interlock/internal/config"
	"github.com/sweeney/evse-interlock/internal/debounce"
	"github.com/sweeney/evse-interlock/internal/gpio"
	"github.com/sweeney/evse-interlock/internal/iio"
	"github.com/sweeney/evse-interlock/internal/interlock"
	"github.com/sweeney/evse-interlock/internal/linecurrent"
	"github.com/sweeney/evse-interlock/internal/mqtt"
	"github.com/sweeney/evse-interlock/internal/pilot"
	"github.com/sweeney/evse-interlock/internal/status"
	"github.com/sweeney/evse-interlock/internal/telemetry"
	"github.com/sweeney/evse-interlock/internal/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	flag.Duration("poll", 50*time.Millisecond, "AC input polling interval")
	flag.Duration("debounce", 250*time.Millisecond, "AC debounce window")
	flag.Duration("pilot-poll", time.Second, "Pilot polling interval")
	flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.Int("pin-ac", gpio.PinAC, "BCM pin number for the AC-presence input")
	flag.Int("pin-contactor", gpio.PinContactor, "BCM pin number for the contactor output (-1 to disable)")
	flag.String("device-id", "evse-interlock", "Device id reported in telemetry")
	flag.String("http", ":8080", "HTTP status address (empty to disable)")
	printState := flag.Bool("print-state", false, "Print current inputs and exit")

	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("fatal: %v", err)
		}
		cfg = loaded
	}

	// Flags given explicitly on the command line win over the file.
	var overrideErr error
	flag.Visit(func(f *flag.Flag) {
		if err := applyOverride(cfg, f.Name, f.Value.String()); err != nil {
			overrideErr = errors.Join(overrideErr, err)
		}
	})
	if overrideErr != nil {
		log.Fatalf("fatal: %v", overrideErr)
	}

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyOverride copies one command-line flag into cfg.
func applyOverride(cfg *config.Config, name, value string) error {
	switch name {
	case "poll":
		cfg.Interlock.Poll = value
	case "debounce":
		cfg.Interlock.Debounce = value
	case "pilot-poll":
		cfg.Pilot.Poll = value
	case "broker":
		cfg.MQTT.Broker = value
	case "heartbeat":
		cfg.Heartbeat = value
	case "pin-ac", "pin-contactor":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("-%s: %w", name, err)
		}
		if name == "pin-ac" {
			cfg.Interlock.ACPin = n
		} else {
			cfg.Interlock.ContactorPin = n
		}
	case "device-id":
		cfg.Device.ID = value
	case "http":
		cfg.HTTP = value
	}
	return nil
}

// channel builds the IIO channel described by cc.
func channel(cc config.ChannelConfig) iio.Channel {
	ch := iio.NewChannel(iio.DefaultRoot, cc.Device, cc.Index)
	if cc.Num > 0 {
		ch.Num = cc.Num
	}
	if cc.Den > 0 {
		ch.Den = cc.Den
	}
	ch.BiasMV = cc.BiasMV
	return ch
}

// resolveRunID turns the configured run id into the one used for this process.
func resolveRunID(configured string) string {
	if configured == config.RunIDAuto {
		return telemetry.NewRunID()
	}
	return configured
}

func run(cfg *config.Config, printState bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	timing, err := cfg.Timing()
	if err != nil {
		return err
	}

	// Initialize GPIO
	acReader, err := gpio.NewRealReader(cfg.Interlock.GPIOChip, cfg.Interlock.ACPin, cfg.Interlock.ACActiveLow)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer acReader.Close()

	var contactor gpio.Contactor
	if cfg.Interlock.ContactorPin >= 0 {
		c, err := gpio.NewRealContactor(cfg.Interlock.GPIOChip, cfg.Interlock.ContactorPin)
		if err != nil {
			return fmt.Errorf("init contactor: %w", err)
		}
		defer c.Close()
		contactor = c
	}

	var session *pilot.Session
	if cfg.Pilot.Enabled {
		sampler, err := pilot.NewRealSampler(pilot.HardwareConfig{
			Chip:         cfg.Interlock.GPIOChip,
			PWMPin:       cfg.Pilot.PWMPin,
			ProximityPin: cfg.Pilot.ProximityPin,
			Pilot:        channel(cfg.Pilot.Voltage),
			Current:      channel(cfg.Pilot.Current),
		})
		if err != nil {
			return fmt.Errorf("init pilot: %w", err)
		}
		defer sampler.Close()
		session = pilot.NewSession(sampler, pilot.Options{
			NominalVoltage: cfg.Pilot.NominalVoltage,
			ToleranceMV:    cfg.Pilot.ToleranceMV,
		})
	}

	var line *linecurrent.Monitor
	if cfg.LineCurrent.Enabled {
		line = linecurrent.NewMonitor(linecurrent.IIOSampler{Channel: channel(cfg.LineCurrent.Channel)}, cfg.LineCurrent.ThresholdA)
	}

	// Print state mode
	if printState {
		present, err := acReader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("AC: %s\n", acString(present))
		if session != nil {
			session.Poll(time.Now())
			fmt.Printf("Pilot: %s\n", session.State())
		}
		if line != nil {
			line.Poll(time.Now())
			a, _ := line.Last()
			fmt.Printf("Line current: %.2f A\n", a)
		}
		return nil
	}

	runID := resolveRunID(cfg.Device.RunID)
	startTime := time.Now()
	ctrl := interlock.New(interlock.Config{
		Debounce: timing.Debounce,
		RunID:    runID,
	}, startTime, session, line)

	// Time-sync commands arrive on the MQTT client goroutine; the loop applies them.
	epochs := make(chan time.Time, 4)
	publisher, err := mqtt.NewRealPublisher(mqtt.Options{
		Broker:     cfg.MQTT.Broker,
		ClientID:   cfg.MQTT.ClientID,
		Encoder:    telemetry.Encoder{DeviceID: cfg.Device.ID, DeviceType: cfg.Device.Type},
		BufferSize: cfg.MQTT.BufferSize,
		OnTimeSync: func(epoch time.Time) {
			select {
			case epochs <- epoch:
			default:
				log.Printf("time sync: dropped epoch %v, loop busy", epoch)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		DeviceID:    cfg.Device.ID,
		RunID:       runID,
		PollMs:      timing.Poll.Milliseconds(),
		DebounceMs:  timing.Debounce.Milliseconds(),
		PilotPollMs: timing.PilotPoll.Milliseconds(),
		HeartbeatMs: timing.Heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP,
		Contactor:   contactor != nil,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	log.Printf("started: poll=%v debounce=%v broker=%s heartbeat=%v run_id=%q",
		timing.Poll, timing.Debounce, cfg.MQTT.Broker, timing.Heartbeat, runID)

	acTicker := time.NewTicker(timing.Poll)
	defer acTicker.Stop()

	deps := loopDeps{
		reader:     acReader,
		contactor:  contactor,
		publisher:  publisher,
		mqttStatus: publisher,
		tracker:    tracker,
		ctrl:       ctrl,
		heartbeat:  timing.Heartbeat,
		now:        time.Now,
		acTick:     acTicker.C,
		epochs:     epochs,
	}
	if session != nil {
		t := time.NewTicker(timing.PilotPoll)
		defer t.Stop()
		deps.pilotTick = t.C
	}
	if line != nil {
		t := time.NewTicker(timing.LineCurrentPoll)
		defer t.Stop()
		deps.lineTick = t.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	deps.sig = sigCh

	return runLoop(deps)
}

// loopDeps is everything runLoop touches. Nil tick channels never fire.
type loopDeps struct {
	reader     gpio.Reader
	contactor  gpio.Contactor // nil when the output is disabled
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	ctrl       *interlock.Controller
	heartbeat  time.Duration
	now        func() time.Time

	acTick    <-chan time.Time
	pilotTick <-chan time.Time
	lineTick  <-chan time.Time
	epochs    <-chan time.Time
	sig       <-chan os.Signal
}

// contactorDriver keeps the contactor output in line with the gate decision.
// A failed write is retried on the next call.
type contactorDriver struct {
	out     gpio.Contactor
	applied bool
	known   bool
}

func (d *contactorDriver) follow(allowed bool) {
	if d.out == nil || (d.known && d.applied == allowed) {
		return
	}
	if err := d.out.Set(allowed); err != nil {
		log.Printf("contactor: set %v: %v", allowed, err)
		d.known = false
		return
	}
	d.applied = allowed
	d.known = true
	log.Printf("contactor: %s", contactorString(allowed))
}

func runLoop(d loopDeps) error {
	ctrl := d.ctrl
	drv := &contactorDriver{out: d.contactor}
	lastHeartbeat := d.now()

	// Open before the first decision.
	drv.follow(false)

	publish := func(recs []telemetry.Record, now time.Time) {
		for len(recs) > 0 {
			rec := recs[0]
			recs = recs[1:]
			log.Printf("event: %s id=%s", rec.EventType, rec.EventID)
			err := d.publisher.Publish(rec)
			if errors.Is(err, mqtt.ErrQueueFull) {
				log.Printf("publish: %v", err)
				recs = append(recs, ctrl.ReportQueueOverflow(now)...)
				drv.follow(ctrl.EVAllowed())
			} else if err != nil {
				log.Printf("publish error: %v", err)
				// Don't crash on publish failure
			}
		}
	}

	refresh := func() {
		if d.tracker == nil {
			return
		}
		d.tracker.Update(ctrl.State())
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-d.sig:
			log.Printf("received %v, shutting down", s)
			drv.known = false
			drv.follow(false)

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: d.now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if d.tracker != nil {
				refresh()
				snap := d.tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			}
			if err := d.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case <-d.acTick:
			t := d.now()
			present, err := d.reader.Read()
			if err != nil {
				log.Printf("gpio read error: %v", err)
			}

			recs := ctrl.ObserveAC(debounce.FromRead(present, err), t)
			drv.follow(ctrl.EVAllowed())
			publish(recs, t)

			if d.heartbeat > 0 && t.Sub(lastHeartbeat) >= d.heartbeat {
				lastHeartbeat = t
				if err := publishHeartbeat(d, t); errors.Is(err, mqtt.ErrQueueFull) {
					log.Printf("heartbeat publish: %v", err)
					publish(ctrl.ReportQueueOverflow(t), t)
					drv.follow(ctrl.EVAllowed())
				} else if err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}

		case <-d.pilotTick:
			t := d.now()
			recs := ctrl.PollPilot(t)
			drv.follow(ctrl.EVAllowed())
			publish(recs, t)

		case <-d.lineTick:
			t := d.now()
			recs := ctrl.PollLineCurrent(t)
			drv.follow(ctrl.EVAllowed())
			publish(recs, t)

		case epoch := <-d.epochs:
			t := d.now()
			ctrl.ApplyEpoch(epoch, t)
			log.Printf("time sync: epoch=%s", epoch.UTC().Format(time.RFC3339Nano))
		}

		// Update status tracker for HTTP consumers
		refresh()
	}
}

func publishHeartbeat(d loopDeps, t time.Time) error {
	st := d.ctrl.State()
	log.Printf("heartbeat: uptime=%v ev_allowed=%v faults=%s ac_edges=%d decisions=%d",
		d.ctrl.Uptime(t), st.EVAllowed, st.Faults, st.Counts.ACEdges, st.Counts.Decisions)

	hbEvent := mqtt.SystemEvent{
		Timestamp: t,
		Event:     "HEARTBEAT",
	}
	if d.tracker != nil {
		d.tracker.Update(st)
		if d.mqttStatus != nil {
			d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
		}
		// Refresh network info for heartbeat
		if net := readNetworkInfo(); net != nil {
			d.tracker.SetNetwork(net)
		}
		snap := d.tracker.Snapshot()
		hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
	}
	return d.publisher.PublishSystem(hbEvent)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

func acString(present bool) string {
	if present {
		return "PRESENT"
	}
	return "ABSENT"
}

func contactorString(closed bool) string {
	if closed {
		return "CLOSED"
	}
	return "OPEN"
}
