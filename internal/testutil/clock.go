package testutil

import (
	"sync"
	"time"

	"github.com/roach88/civicroute/internal/clock"
)

// ManualClock is a clock.Clock whose time only moves when the test says so.
//
// Timers registered with AfterFunc fire from inside Advance, synchronously, in
// deadline order (ties broken by registration order). A callback that arms a
// new timer due within the same Advance window sees it fire in that same call.
//
// Thread-safety: All methods are safe for concurrent use. Callbacks run
// without the internal lock held, so they may call back into the clock.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	timers map[int64]*manualTimer
}

type manualTimer struct {
	c    *ManualClock
	id   int64
	when time.Time
	f    func()
}

// Ensure ManualClock implements clock.Clock.
var _ clock.Clock = (*ManualClock)(nil)

// NewManualClock creates a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{
		now:    start,
		timers: make(map[int64]*manualTimer),
	}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has been advanced by d.
// f never runs from inside AfterFunc itself, even when d <= 0.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &manualTimer{c: c, id: c.nextID, when: c.now.Add(d), f: f}
	c.timers[t.id] = t
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.earliestDue(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		delete(c.timers, next.id)
		if next.when.After(c.now) {
			c.now = next.when
		}
		c.mu.Unlock()

		next.f()
	}
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// earliestDue must be called with c.mu held.
func (c *ManualClock) earliestDue(target time.Time) *manualTimer {
	var best *manualTimer
	for _, t := range c.timers {
		if t.when.After(target) {
			continue
		}
		if best == nil || t.when.Before(best.when) || (t.when.Equal(best.when) && t.id < best.id) {
			best = t
		}
	}
	return best
}

// Stop prevents the timer from firing. Returns false if it already fired or
// was stopped.
func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if _, ok := t.c.timers[t.id]; !ok {
		return false
	}
	delete(t.c.timers, t.id)
	return true
}
