package core

import "time"

// Clock provides the current time. All scheduling and deadline logic in
// this module depends on this interface rather than calling time.Now()
// directly, so ticks, retries, and ack-deadlines can be driven
// deterministically in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real system time. Use only at composition
// roots (cmd/*).
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FixedClock always returns the same instant. Useful for table-driven
// tests that assert on exact timestamps.
type FixedClock struct {
	T time.Time
}

// Now returns the fixed time.
func (c FixedClock) Now() time.Time {
	return c.T
}

// FuncClock wraps a function as a Clock, letting tests advance time
// between calls.
type FuncClock func() time.Time

// Now calls the wrapped function.
func (f FuncClock) Now() time.Time {
	return f()
}

var (
	_ Clock = SystemClock{}
	_ Clock = FixedClock{}
	_ Clock = FuncClock(nil)
)
