package clock

import (
	"sync"
	"time"
)

// Clock abstracts the current time so token expiry can be tested without
// sleeping.
type Clock interface {
	Now() time.Time
}

// System reads the real system clock.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}

// Fixture is a manually controlled clock for tests. It is safe for
// concurrent use.
type Fixture struct {
	mu      sync.Mutex
	current time.Time
}

// NewFixture creates a fixture clock starting at the given time. A zero start
// time uses time.Now().
func NewFixture(start time.Time) *Fixture {
	if start.IsZero() {
		start = time.Now()
	}
	return &Fixture{current: start}
}

func (f *Fixture) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Set moves the clock to the given time.
func (f *Fixture) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = t
}

// Advance moves the clock forward by d.
func (f *Fixture) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}
