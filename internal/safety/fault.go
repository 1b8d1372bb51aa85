package safety

import "strings"

// Fault is a bitset of conditions that force the gate to deny.
// Flags are only ever OR'd in; nothing clears them for the life of a Gate.
type Fault uint32

const (
	FaultNone              Fault = 0
	FaultACUnknown         Fault = 1 << 0
	FaultDebounceInvalid   Fault = 1 << 1
	FaultTimestampBackward Fault = 1 << 2
	FaultQueueOverflow     Fault = 1 << 3
	FaultInvalidInput      Fault = 1 << 4
)

var faultNames = []struct {
	flag Fault
	name string
}{
	{FaultACUnknown, "ac_unknown"},
	{FaultDebounceInvalid, "debounce_invalid"},
	{FaultTimestampBackward, "timestamp_backward"},
	{FaultQueueOverflow, "queue_overflow"},
	{FaultInvalidInput, "invalid_input"},
}

// Has reports whether every bit of flag is set.
func (f Fault) Has(flag Fault) bool {
	return flag != FaultNone && f&flag == flag
}

// Names returns the snake_case names of the set flags in bit order.
func (f Fault) Names() []string {
	names := []string{}
	for _, fn := range faultNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Fault) String() string {
	if f == FaultNone {
		return "none"
	}
	return strings.Join(f.Names(), "|")
}
