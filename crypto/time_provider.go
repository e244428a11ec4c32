package crypto

import (
	"sync"
	"time"
)

// TimeProvider abstracts the wall clock so timestamp handling can be tested
// deterministically. Implementations must be safe for concurrent use.
type TimeProvider interface {
	Now() time.Time
}

// SystemTime reads the real clock.
type SystemTime struct{}

// Now returns time.Now.
func (SystemTime) Now() time.Time { return time.Now() }

// FixedTime is a settable clock for tests.
type FixedTime struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedTime returns a FixedTime stopped at t.
func NewFixedTime(t time.Time) *FixedTime {
	return &FixedTime{t: t}
}

// Now returns the stored time.
func (f *FixedTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *FixedTime) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t.
func (f *FixedTime) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

// OrSystem returns tp, or SystemTime when tp is nil.
func OrSystem(tp TimeProvider) TimeProvider {
	if tp == nil {
		return SystemTime{}
	}
	return tp
}
