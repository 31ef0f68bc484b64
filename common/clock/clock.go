package clock

import (
	"sync"
	"time"
)

// Clock abstracts the time source so that the coordinator's deadlines can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// NewSystem creates a Clock backed by time.Now.
func NewSystem() *System {
	return &System{}
}

func (s *System) Now() time.Time {
	return time.Now()
}

// Simulated is a Clock that only moves when told to. Used in testing.
type Simulated struct {
	mu  sync.Mutex
	now time.Time
}

// NewSimulated creates a simulated clock starting at an arbitrary fixed point.
func NewSimulated() *Simulated {
	return &Simulated{now: time.Unix(1000000, 0)}
}

func (s *Simulated) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Advance moves the simulated clock forward by d.
func (s *Simulated) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(d)
}
