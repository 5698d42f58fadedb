package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func ExponentialBackoff(initialInterval, maxInterval time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = 0
	return exp
}

func ExponentialBackoffWithMaxElapsed(initialInterval, maxInterval, maxElapsed time.Duration, multiplier float64) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.MaxInterval = maxInterval
	exp.Multiplier = multiplier
	exp.MaxElapsedTime = maxElapsed
	return exp
}

// CalculateBackoffDuration returns the base delay before the given retry
// attempt (0-based), capped at maxInterval.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}

// AddJitter extends d by a random amount in [0, fraction*d), clamped to max
// when max is positive. Jitter is only ever additive so delays stay monotonic
// across attempts below the cap.
func AddJitter(d time.Duration, fraction float64, max time.Duration, r *rand.Rand) time.Duration {
	if fraction <= 0 || d <= 0 {
		return d
	}
	jittered := d + time.Duration(r.Float64()*fraction*float64(d))
	if max > 0 && jittered > max {
		return max
	}
	return jittered
}
