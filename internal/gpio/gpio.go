// Package gpio provides the AC-presence input and the contactor output.
// The real implementation uses the Linux GPIO character device.
// The fakes allow testing without hardware.
package gpio

// Reader reads the AC-presence input.
type Reader interface {
	// Read returns true when AC is present on the monitored conductor.
	// Any error means the input is unreadable and must not be trusted.
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// Contactor drives the EV supply contactor.
type Contactor interface {
	// Set energizes (true) or opens (false) the contactor.
	Set(closed bool) error

	// Close opens the contactor and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinAC        = 17 // AC-presence optocoupler
	PinContactor = 27 // contactor relay driver
)
