package scanner

import (
	"sync/atomic"

	"github.com/lightningnetwork/lnd/clock"
)

// Meter counts derived candidates for a backend's Stats.
type Meter struct {
	clock    clock.Clock
	start    int64
	attempts atomic.Uint64
}

// NewMeter starts a meter at the clock's current time.
func NewMeter(c clock.Clock) *Meter {
	if c == nil {
		c = clock.NewDefaultClock()
	}
	return &Meter{clock: c, start: c.Now().UnixNano()}
}

// Add records n derived candidates.
func (m *Meter) Add(n int) {
	m.attempts.Add(uint64(n))
}

// Stats returns the totals so far.
func (m *Meter) Stats() Stats {
	attempts := m.attempts.Load()
	elapsed := float64(m.clock.Now().UnixNano()-m.start) / 1e9

	var rate float64
	if elapsed > 0 {
		rate = float64(attempts) / elapsed
	}

	return Stats{
		Attempts:    attempts,
		HashRate:    rate,
		ElapsedSecs: elapsed,
	}
}
