package processor

import (
	"math/rand"
	"time"
)

// backoff returns the delay before the given retry attempt: exponential in
// the attempt number, capped, with up to ±10% jitter so a burst of failures
// does not come back as a synchronized thundering herd.
func backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 5 * time.Minute
	}

	shift := attempt
	if shift > 16 {
		shift = 16
	}

	d := base * time.Duration(1<<shift)
	if d > max || d <= 0 {
		d = max
	}

	jitter := time.Duration(rand.Int63n(int64(d)/5+1) - int64(d)/10)
	d += jitter
	if d < base {
		d = base
	}
	return d
}
