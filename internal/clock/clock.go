package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Code that needs "now" (today's agenda,
// due labels, cache expiry) takes a Clock instead of calling time.Now so
// tests can pin it.
type Clock interface {
	Now() time.Time
}

// Real returns a Clock backed by time.Now.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Fixed returns a Clock that reports t until Set or Advance is called.
func Fixed(t time.Time) *FixedClock {
	return &FixedClock{current: t}
}

// FixedClock is a manually driven Clock for tests. It is safe for
// concurrent use.
type FixedClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
