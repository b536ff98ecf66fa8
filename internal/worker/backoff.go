package worker

import (
	"math/rand/v2"
	"time"
)

// backoff is the idle-delay state for one loop: starts at the floor, doubles
// per consecutive unproductive cycle, capped at the ceiling, with ±fraction
// proportional jitter so a fleet of workers does not poll in lockstep.
// Not safe for concurrent use; each Worker owns one.
type backoff struct {
	floor          time.Duration
	ceiling        time.Duration
	jitterFraction float64
	current        time.Duration // 0 means the next delay starts at the floor
}

func newBackoff(floor, ceiling time.Duration, jitterFraction float64) *backoff {
	return &backoff{
		floor:          floor,
		ceiling:        ceiling,
		jitterFraction: jitterFraction,
	}
}

// next advances the delay and returns it with jitter applied.
func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.floor
	} else {
		b.current *= 2
		if b.current > b.ceiling {
			b.current = b.ceiling
		}
	}
	return b.jitter(b.current)
}

// reset drops the delay back to the floor. Called the instant a claim
// succeeds.
func (b *backoff) reset() { b.current = 0 }

// jitter returns d shifted by a uniform random amount in
// [-jitterFraction*d, +jitterFraction*d].
func (b *backoff) jitter(d time.Duration) time.Duration {
	if b.jitterFraction <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * b.jitterFraction * float64(d) //nolint:gosec // jitter intentionally uses non-crypto rand
	return d + time.Duration(delta)
}
