package mqtt

import (
	"github.com/sweeney/evse-interlock/internal/telemetry"
)

// FakePublisher records published events for test assertions.
type FakePublisher struct {
	// Encoder formats records into Payloads.
	Encoder telemetry.Encoder

	// Records contains all telemetry records that were published.
	Records []telemetry.Record

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{
		Encoder: telemetry.Encoder{DeviceID: "test-device", DeviceType: telemetry.DefaultDeviceType},
	}
}

// Publish records the telemetry record.
func (f *FakePublisher) Publish(rec telemetry.Record) error {
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := f.Encoder.Marshal(rec)
	if err != nil {
		return err
	}
	f.Records = append(f.Records, rec)
	f.Payloads = append(f.Payloads, payload)

	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.Records = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
