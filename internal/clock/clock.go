// Package clock provides the time sources used by the assignment engine.
//
// Two kinds of time are kept apart:
//   - Clock: wall time, used for offer and completion deadlines.
//   - Sequence: a logical counter, used to order outbound notifications.
//     Ordering NEVER relies on wall-clock timestamps.
package clock

import "time"

// Timer is a pending callback registered with a Clock.
// *time.Timer satisfies this interface.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or the timer was already stopped.
	Stop() bool
}

// Clock is a source of wall time that can schedule callbacks.
//
// Implementations must not run f synchronously inside AfterFunc; callers
// rely on being able to hold their own locks while registering timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Wall is the production Clock backed by the time package.
type Wall struct{}

// Now returns the current UTC time.
func (Wall) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc waits for d to elapse and then calls f in its own goroutine.
func (Wall) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
