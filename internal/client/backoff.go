package client

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newBackoff returns a deterministic doubling backoff: base, 2*base, 4*base, ...
// capped at max, never giving up.
func newBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
