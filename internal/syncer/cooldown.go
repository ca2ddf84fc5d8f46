package syncer

import (
	"sync"
	"time"
)

// Cooldown tracks the most recent local edit. While it is active, incoming
// poll results are held back so they cannot overwrite an edit that has not
// reached the server yet.
type Cooldown struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	marked  time.Time
	pending bool
}

func NewCooldown(window time.Duration, now func() time.Time) *Cooldown {
	if now == nil {
		now = time.Now
	}
	return &Cooldown{window: window, now: now}
}

// Mark records a local edit at the current time.
func (c *Cooldown) Mark() {
	c.mu.Lock()
	c.marked, c.pending = c.now(), true
	c.mu.Unlock()
}

// Active reports whether less than the window has elapsed since the last mark.
func (c *Cooldown) Active() bool {
	return c.Remaining() > 0
}

// Remaining is the time left in the window, zero when inactive.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pending {
		return 0
	}
	left := c.window - c.now().Sub(c.marked)
	if left <= 0 {
		c.pending = false
		return 0
	}
	return left
}

// Clear drops any pending mark.
func (c *Cooldown) Clear() {
	c.mu.Lock()
	c.pending = false
	c.mu.Unlock()
}
