package types

import (
	"time"
)

// The presentation clock is monotonic and measured in microseconds. It
// starts well above zero so that a zero timestamp can keep its special
// "present immediately" meaning.

var clockEpoch = time.Now()

const clockStartUS = 10_000_000

// NowUS returns the current monotonic time in microseconds.
func NowUS() int64 {
	return clockStartUS + time.Since(clockEpoch).Microseconds()
}

// UntilUS returns the duration from now until the given monotonic
// microsecond timestamp (negative if it already passed).
func UntilUS(ts int64) time.Duration {
	return time.Duration(ts-NowUS()) * time.Microsecond
}
