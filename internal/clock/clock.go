package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// Real reads the system clock in UTC
type Real struct{}

func (Real) Now() time.Time { return time.Now().UTC() }

// Fake is a manually advanced clock for tests and replays
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a clock fixed at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
