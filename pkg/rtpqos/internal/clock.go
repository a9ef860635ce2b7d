// Package internal holds helpers shared by the rtpqos subpackages.
package internal

import (
	"sync"
	"time"
)

// Clock supplies arrival timestamps for captured packets.
type Clock interface {
	// Now returns the current time. Successive calls must not go backwards.
	Now() time.Time
}

// MonotonicClock stamps packets with time.Now, which carries a monotonic
// reading in Go.
type MonotonicClock struct{}

// Now returns the current system time.
func (MonotonicClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually driven Clock for deterministic captures. It may
// be read from background goroutines while a test advances it.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMockClock creates a MockClock at t, or at 2001-09-09 if t is zero.
func NewMockClock(t time.Time) *MockClock {
	if t.IsZero() {
		t = time.Unix(1000000000, 0)
	}
	return &MockClock{current: t}
}

// Now returns the mock clock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward by d. It panics on a negative d, since
// arrival times of a leg never go backwards.
func (m *MockClock) Advance(d time.Duration) {
	if d < 0 {
		panic("MockClock.Advance: duration must be non-negative")
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}

// Tick returns the current time and then advances the clock by d.
func (m *MockClock) Tick(d time.Duration) time.Time {
	if d < 0 {
		panic("MockClock.Tick: duration must be non-negative")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.current
	m.current = now.Add(d)
	return now
}
