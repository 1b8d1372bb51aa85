package pilot

import (
	"sync"
	"time"
)

// DutyMeter derives the pilot PWM duty cycle from edge timestamps.
// Edges arrive from a driver goroutine, so it is safe for concurrent use.
type DutyMeter struct {
	mu       sync.Mutex
	lastRise time.Duration
	sawRise  bool
	period   time.Duration
	high     time.Duration
}

// Edge records one PWM edge at ts, a monotonic driver timestamp.
func (m *DutyMeter) Edge(rising bool, ts time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rising {
		if m.sawRise {
			m.period = ts - m.lastRise
		}
		m.lastRise = ts
		m.sawRise = true
		return
	}
	if m.sawRise {
		m.high = ts - m.lastRise
	}
}

// DutyCycle returns the last measured high time as a percentage of the period,
// or 0 when no consistent measurement exists.
func (m *DutyMeter) DutyCycle() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.period <= 0 || m.high <= 0 || m.high > m.period {
		return 0
	}
	return float64(m.high) * 100 / float64(m.period)
}
