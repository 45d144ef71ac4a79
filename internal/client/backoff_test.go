package client

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBackoffSequence(t *testing.T) {
	b := newBackoff(time.Second, 30*time.Second)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		if got := b.NextBackOff(); got != w*time.Second {
			t.Errorf("delay %d: got %v, want %v", i, got, w*time.Second)
		}
	}

	b.Reset()
	if got := b.NextBackOff(); got != time.Second {
		t.Errorf("after reset: got %v, want 1s", got)
	}
}

// TestBackoffProperty checks that reconnect delays never decrease, never pass the
// ceiling and restart from the base after a reset.
func TestBackoffProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("delays are non-decreasing, capped and reset to base", prop.ForAll(
		func(baseMS, maxFactor, failures int) bool {
			base := time.Duration(baseMS) * time.Millisecond
			max := base * time.Duration(maxFactor)
			b := newBackoff(base, max)

			prev := time.Duration(0)
			for i := 0; i < failures; i++ {
				d := b.NextBackOff()
				if d < prev || d > max || d < base {
					return false
				}
				expected := base << i
				if expected > max || expected <= 0 {
					expected = max
				}
				if d != expected {
					return false
				}
				prev = d
			}

			b.Reset()
			return b.NextBackOff() == base
		},
		gen.IntRange(1, 2000),
		gen.IntRange(1, 64),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}
