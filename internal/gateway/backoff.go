package gateway

import "time"

const (
	baseDelay = 200 * time.Millisecond
	maxDelay  = 10 * time.Second
)

// Backoff returns the exponential delay for the given retry count,
// capped at maxDelay.
func Backoff(retry int) time.Duration {
	if retry < 0 {
		return baseDelay
	}
	if retry > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<retry)
	if d > maxDelay {
		return maxDelay
	}
	return d
}
