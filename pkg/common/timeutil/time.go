// Package timeutil provides an injectable clock.
package timeutil

import (
	"sync"
	"time"
)

// Provider abstracts time operations so expiry and timestamps can be
// controlled in tests.
type Provider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

type defaultProvider struct{}

// Default returns a Provider backed by the system clock.
func Default() Provider { return defaultProvider{} }

func (defaultProvider) Now() time.Time                  { return time.Now() }
func (defaultProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Mock is a manually advanced clock.
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock creates a mock clock frozen at now.
func NewMock(now time.Time) *Mock { return &Mock{now: now} }

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since returns the time elapsed since t according to the mock clock.
func (m *Mock) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

// Advance moves the clock forward by d.
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set moves the clock to t.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
