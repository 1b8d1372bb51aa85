// Package mqtt carries interlock telemetry to the broker and time-sync
// commands back, with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/evse-interlock/internal/telemetry"
)

// TopicEvents is the MQTT topic for telemetry envelopes.
const TopicEvents = "evse/interlock/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "evse/interlock/system"

// TopicDownlink is the MQTT topic the daemon listens on for commands.
const TopicDownlink = "evse/interlock/downlink"

// ErrQueueFull is returned when a message was accepted but an older buffered
// message had to be dropped to make room.
var ErrQueueFull = errors.New("mqtt: outbound queue full")

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a telemetry record to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(rec telemetry.Record) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// SystemPayload is the payload for simple system events (LWT, RECONNECTED)
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// CommandTimeSync is the downlink command carrying a wall-clock epoch.
const CommandTimeSync = "time_sync"

// Command is a downlink message.
type Command struct {
	Cmd     string `json:"cmd"`
	EpochMS *int64 `json:"epoch_ms,omitempty"`
}

// ParseTimeSync decodes a downlink payload. It returns ok=false for
// well-formed commands other than time_sync.
func ParseTimeSync(payload []byte) (epoch time.Time, ok bool, err error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return time.Time{}, false, fmt.Errorf("decode downlink: %w", err)
	}
	if cmd.Cmd != CommandTimeSync {
		return time.Time{}, false, nil
	}
	if cmd.EpochMS == nil || *cmd.EpochMS <= 0 {
		return time.Time{}, false, errors.New("time_sync: missing or invalid epoch_ms")
	}
	return time.UnixMilli(*cmd.EpochMS), true, nil
}
