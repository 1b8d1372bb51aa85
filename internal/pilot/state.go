package pilot

// State is the J1772 control pilot state.
type State int

const (
	StateA State = iota // 12 V, no vehicle
	StateB              // 9 V, vehicle connected
	StateC              // 6 V, charging
	StateD              // 3 V, charging with ventilation
	StateE              // 0 V, EVSE error
	StateF              // -12 V, EVSE unavailable
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateA:
		return "A"
	case StateB:
		return "B"
	case StateC:
		return "C"
	case StateD:
		return "D"
	case StateE:
		return "E"
	case StateF:
		return "F"
	default:
		return "?"
	}
}

// Charging reports whether energy is delivered in this state.
func (s State) Charging() bool {
	return s == StateC || s == StateD
}

// DefaultToleranceMV is the default band tolerance below each nominal level.
const DefaultToleranceMV = 1000

// Band lower bounds in millivolts, before tolerance is subtracted.
var bands = []struct {
	minMV int
	state State
}{
	{12000, StateA},
	{9000, StateB},
	{6000, StateC},
	{3000, StateD},
	{-1000, StateE},
}

// Classify maps a pilot voltage to a state. Each band starts toleranceMV below
// its nominal level; anything below the E band is F.
func Classify(mv, toleranceMV int) State {
	for _, b := range bands {
		if mv >= b.minMV-toleranceMV {
			return b.state
		}
	}
	return StateF
}
