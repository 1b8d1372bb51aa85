// Package config loads the daemon configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunIDAuto asks the daemon to generate a fresh run id at startup.
const RunIDAuto = "auto"

// Config is the daemon configuration.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Interlock   InterlockConfig   `yaml:"interlock"`
	Pilot       PilotConfig       `yaml:"pilot"`
	LineCurrent LineCurrentConfig `yaml:"line_current"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Heartbeat   string            `yaml:"heartbeat"` // "0" disables
	HTTP        string            `yaml:"http"`      // empty disables
}

// DeviceConfig identifies the device in telemetry.
type DeviceConfig struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type"`
	RunID string `yaml:"run_id"` // empty, a fixed id, or "auto"
}

// InterlockConfig covers the AC input and the contactor.
type InterlockConfig struct {
	GPIOChip     string `yaml:"gpio_chip"`
	Poll         string `yaml:"poll"`
	Debounce     string `yaml:"debounce"`
	ACPin        int    `yaml:"ac_pin"`
	ACActiveLow  bool   `yaml:"ac_active_low"`
	ContactorPin int    `yaml:"contactor_pin"` // -1 disables the output
}

// ChannelConfig locates one IIO ADC channel and its scaling.
type ChannelConfig struct {
	Device int `yaml:"device"`
	Index  int `yaml:"index"`
	Num    int `yaml:"num"`
	Den    int `yaml:"den"`
	BiasMV int `yaml:"bias_mv"`
}

// PilotConfig covers the J1772 pilot front end.
type PilotConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Poll           string        `yaml:"poll"`
	NominalVoltage float64       `yaml:"nominal_voltage"`
	ToleranceMV    int           `yaml:"tolerance_mv"`
	PWMPin         int           `yaml:"pwm_pin"`
	ProximityPin   int           `yaml:"proximity_pin"`
	Voltage        ChannelConfig `yaml:"voltage"`
	Current        ChannelConfig `yaml:"current"`
}

// LineCurrentConfig covers the upstream current clamp.
type LineCurrentConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Poll       string        `yaml:"poll"`
	ThresholdA float64       `yaml:"threshold_a"`
	Channel    ChannelConfig `yaml:"channel"`
}

// MQTTConfig covers the broker connection.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	BufferSize int    `yaml:"buffer_size"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:   "evse-interlock",
			Type: "evse",
		},
		Interlock: InterlockConfig{
			GPIOChip:     "gpiochip0",
			Poll:         "50ms",
			Debounce:     "250ms",
			ACPin:        17,
			ACActiveLow:  true,
			ContactorPin: 27,
		},
		Pilot: PilotConfig{
			Poll:           "1s",
			NominalVoltage: 240,
			ToleranceMV:    1000,
			PWMPin:         22,
			ProximityPin:   23,
			Voltage:        ChannelConfig{Device: 0, Index: 0, Num: 11, Den: 1, BiasMV: 12000},
			Current:        ChannelConfig{Device: 0, Index: 1, Num: 20, Den: 1},
		},
		LineCurrent: LineCurrentConfig{
			Poll:       "5s",
			ThresholdA: 0.5,
			Channel:    ChannelConfig{Device: 0, Index: 2, Num: 30, Den: 1},
		},
		MQTT: MQTTConfig{
			Broker:     "tcp://localhost:1883",
			ClientID:   "evse-interlock",
			BufferSize: 256,
		},
		Heartbeat: "15m",
		HTTP:      ":8080",
	}
}

// Load reads the configuration from YAML. Keys absent from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(c)
	return c, nil
}

// applyDefaults fills values the file set to empty.
func applyDefaults(c *Config) {
	d := Default()
	if c.Device.ID == "" {
		c.Device.ID = d.Device.ID
	}
	if c.Device.Type == "" {
		c.Device.Type = d.Device.Type
	}
	if c.Interlock.GPIOChip == "" {
		c.Interlock.GPIOChip = d.Interlock.GPIOChip
	}
	if c.Interlock.Poll == "" {
		c.Interlock.Poll = d.Interlock.Poll
	}
	if c.Interlock.Debounce == "" {
		c.Interlock.Debounce = d.Interlock.Debounce
	}
	if c.Pilot.Poll == "" {
		c.Pilot.Poll = d.Pilot.Poll
	}
	if c.LineCurrent.Poll == "" {
		c.LineCurrent.Poll = d.LineCurrent.Poll
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = d.MQTT.ClientID
	}
	if c.MQTT.BufferSize == 0 {
		c.MQTT.BufferSize = d.MQTT.BufferSize
	}
	if c.Heartbeat == "" {
		c.Heartbeat = d.Heartbeat
	}
}

// Timing holds the parsed durations.
type Timing struct {
	Poll            time.Duration
	Debounce        time.Duration
	PilotPoll       time.Duration
	LineCurrentPoll time.Duration
	Heartbeat       time.Duration
}

// Timing parses the configured durations. The debounce window is only
// parsed, not range-checked: the safety gate owns that decision.
func (c *Config) Timing() (Timing, error) {
	var t Timing
	var err error
	if t.Poll, err = parseDuration("interlock.poll", c.Interlock.Poll); err != nil {
		return Timing{}, err
	}
	if t.Debounce, err = parseDuration("interlock.debounce", c.Interlock.Debounce); err != nil {
		return Timing{}, err
	}
	if t.PilotPoll, err = parseDuration("pilot.poll", c.Pilot.Poll); err != nil {
		return Timing{}, err
	}
	if t.LineCurrentPoll, err = parseDuration("line_current.poll", c.LineCurrent.Poll); err != nil {
		return Timing{}, err
	}
	if t.Heartbeat, err = parseDuration("heartbeat", c.Heartbeat); err != nil {
		return Timing{}, err
	}
	return t, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// Validate reports configuration the daemon cannot run with.
func (c *Config) Validate() error {
	t, err := c.Timing()
	if err != nil {
		return err
	}

	var errs []error
	if t.Poll <= 0 {
		errs = append(errs, errors.New("interlock.poll must be positive"))
	}
	if c.Pilot.Enabled && t.PilotPoll <= 0 {
		errs = append(errs, errors.New("pilot.poll must be positive"))
	}
	if c.LineCurrent.Enabled && t.LineCurrentPoll <= 0 {
		errs = append(errs, errors.New("line_current.poll must be positive"))
	}
	if t.Heartbeat < 0 {
		errs = append(errs, errors.New("heartbeat must not be negative"))
	}
	if c.Interlock.ACPin < 0 {
		errs = append(errs, errors.New("interlock.ac_pin must not be negative"))
	}
	if c.Interlock.ContactorPin < -1 {
		errs = append(errs, errors.New("interlock.contactor_pin must be -1 or a pin number"))
	}
	if c.LineCurrent.ThresholdA < 0 {
		errs = append(errs, errors.New("line_current.threshold_a must not be negative"))
	}
	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.BufferSize < 0 {
		errs = append(errs, errors.New("mqtt.buffer_size must not be negative"))
	}
	return errors.Join(errs...)
}
