package timer

import (
	"time"

	"github.com/lattisledger/lattis/common/clock"
)

// Periodic fires at most once per interval. Poll returns true when the
// interval has elapsed since the last firing and rearms the timer.
type Periodic struct {
	clock    clock.Clock
	interval time.Duration
	last     time.Time
}

// NewPeriodic creates a periodic timer. The first Poll after creation fires.
func NewPeriodic(c clock.Clock, interval time.Duration) *Periodic {
	return &Periodic{clock: c, interval: interval}
}

func (p *Periodic) Poll() bool {
	now := p.clock.Now()
	if p.last.IsZero() || now.Sub(p.last) >= p.interval {
		p.last = now
		return true
	}
	return false
}

// Reset rearms the timer so that the next firing is a full interval away.
func (p *Periodic) Reset() {
	p.last = p.clock.Now()
}

// Deadline tracks a single expiry point in the future.
type Deadline struct {
	clock  clock.Clock
	expiry time.Time
	armed  bool
}

// NewDeadline creates an unarmed deadline timer.
func NewDeadline(c clock.Clock) *Deadline {
	return &Deadline{clock: c}
}

// Restart arms the deadline d from now.
func (t *Deadline) Restart(d time.Duration) {
	t.expiry = t.clock.Now().Add(d)
	t.armed = true
}

// HasExpired reports whether an armed deadline has passed.
func (t *Deadline) HasExpired() bool {
	return t.armed && !t.clock.Now().Before(t.expiry)
}

// Clear disarms the deadline.
func (t *Deadline) Clear() {
	t.armed = false
}
