// Package clock abstracts the timer operations used by the reconnect loop so
// tests can drive time deterministically.
//
// Production code uses Real(). Tests use Fake(start) and call Advance to fire
// pending timers synchronously in deadline order.
package clock

import "time"

// Clock is the subset of the time package the client needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc waits for d, then calls f. The returned Timer can cancel
	// the pending call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer; false means it already fired or was stopped.
	Stop() bool
}

type realClock struct{}

// Real returns a Clock backed by the standard library.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
