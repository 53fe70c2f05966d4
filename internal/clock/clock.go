// Package clock provides a small clock abstraction so components that stamp
// or expire data (registry, road cache) can be tested against controlled
// time rather than the wall clock.
package clock

import (
	"sync"
	"time"
)

// Clock is the read-only time source used throughout the engine.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual is a hand-advanced Clock for tests.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual constructs a Manual clock pinned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
