package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays with jitter.
type Backoff struct {
	// rand returns a value in [0, 1); nil selects math/rand/v2.
	rand   func() float64
	Base   time.Duration
	Cap    time.Duration
	Jitter float64 // доля разброса, 0.25 -> ±25%
}

// Delay returns the wait before retry n (0-indexed):
// min(Base*2^n, Cap) scaled by a random factor in [1-Jitter, 1+Jitter].
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}

	d := b.Base
	for i := 0; i < n; i++ {
		if b.Cap > 0 && d >= b.Cap {
			break
		}
		// Защита от переполнения int64
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if b.Cap > 0 && d > b.Cap {
		d = b.Cap
	}

	if b.Jitter <= 0 {
		return d
	}

	r := rand.Float64
	if b.rand != nil {
		r = b.rand
	}
	factor := 1 - b.Jitter + 2*b.Jitter*r()
	return time.Duration(float64(d) * factor)
}
