package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// ExponentialJitter returns base*2^(attempt-1) capped at max, with +/-20%
// jitter so colliding workers spread out.
func ExponentialJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	mul := math.Pow(2, float64(attempt-1))
	d := min(time.Duration(float64(base)*mul), max)

	j := time.Duration(float64(d) * 0.2)
	if j <= 0 {
		return d
	}
	return d - j + time.Duration(rand.Int63n(int64(2*j)))
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
