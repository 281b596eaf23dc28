package session

import (
	"math"
	"time"
)

// RetryDelay splits an activation timeout evenly across retries, rounded to
// the millisecond.
func RetryDelay(timeout time.Duration, retries int) time.Duration {
	if retries < 1 {
		retries = 1
	}
	if timeout <= 0 {
		return 0
	}
	ms := math.Round(float64(timeout.Milliseconds()) / float64(retries))
	return time.Duration(ms) * time.Millisecond
}

// RemainingDelay returns what is left of one retry slice after elapsed,
// clamped to zero.
func RemainingDelay(slice, elapsed time.Duration) time.Duration {
	if elapsed >= slice {
		return 0
	}
	return slice - elapsed
}
