// Package backoff provides bounded exponential delay calculation for retry
// loops.
package backoff

import (
	"math"
	"time"
)

// Policy bounds an exponential delay sequence. Zero values fall back to the
// defaults (250ms initial, 4s cap).
type Policy struct {
	Initial time.Duration
	Cap     time.Duration
}

// Delay returns the wait before the given retry attempt. Attempt 1 waits
// Initial, attempt 2 twice that, and so on up to Cap. Attempts below 1 wait
// Initial.
func Delay(attempt int, p *Policy) time.Duration {
	initial := 250 * time.Millisecond
	limit := 4 * time.Second
	if p != nil {
		if p.Initial > 0 {
			initial = p.Initial
		}
		if p.Cap > 0 {
			limit = p.Cap
		}
	}

	if attempt < 1 {
		return initial
	}
	d := float64(initial) * math.Pow(2, float64(attempt-1))
	if d > float64(limit) {
		d = float64(limit)
	}
	return time.Duration(d)
}
