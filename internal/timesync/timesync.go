// Package timesync turns a free-running uptime counter into best-effort wall-clock
// timestamps. Emitted timestamps never go backward: regressions are clamped and
// recorded as a sticky anomaly.
package timesync

import "time"

// Source derives timestamps from uptime. Not safe for concurrent use.
type Source struct {
	bootEpoch   time.Time // wall-clock instant corresponding to uptime zero
	synced      bool
	lastEmitted time.Time
	emitted     bool
	anomaly     bool
}

// New returns an unsynced Source.
func New() *Source {
	return &Source{}
}

// uptimeInstant expresses a raw uptime as an instant so that unsynced
// timestamps carry the uptime in their millisecond value.
func uptimeInstant(uptime time.Duration) time.Time {
	return time.UnixMilli(0).Add(uptime)
}

// ApplyEpoch adopts a wall-clock epoch that was current at uptimeAtSync.
// An epoch older than the last emitted timestamp is not trusted: the offset is
// rebased so the next timestamp continues from the last emitted value, and the
// anomaly flag is set.
func (s *Source) ApplyEpoch(epoch time.Time, uptimeAtSync time.Duration) {
	if s == nil {
		return
	}
	if s.emitted && epoch.Before(s.lastEmitted) {
		s.anomaly = true
		s.bootEpoch = s.lastEmitted.Add(-uptimeAtSync)
	} else {
		s.bootEpoch = epoch.Add(-uptimeAtSync)
	}
	s.synced = true
}

// TimestampFor returns the timestamp for the given uptime. Before the first
// sync it is the raw uptime. The result is never earlier than any previously
// returned timestamp.
func (s *Source) TimestampFor(uptime time.Duration) time.Time {
	if s == nil {
		return uptimeInstant(uptime)
	}

	ts := uptimeInstant(uptime)
	if s.synced {
		ts = s.bootEpoch.Add(uptime)
	}

	if s.emitted && ts.Before(s.lastEmitted) {
		s.anomaly = true
		if s.synced {
			s.bootEpoch = s.lastEmitted.Add(-uptime)
		}
		ts = s.lastEmitted
	}

	s.lastEmitted = ts
	s.emitted = true
	return ts
}

// IsSynced reports whether an epoch has been applied.
func (s *Source) IsSynced() bool {
	return s != nil && s.synced
}

// HasAnomaly reports whether a timestamp ever had to be clamped.
func (s *Source) HasAnomaly() bool {
	return s != nil && s.anomaly
}
