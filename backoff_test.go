package outboxd_test

import (
	"testing"
	"time"

	outboxd "github.com/bravellian/outboxd"
)

func TestDefaultBackoffWithinBounds(t *testing.T) {
	b := outboxd.DefaultBackoff{}
	cases := []struct {
		attempt  uint32
		min, max time.Duration
	}{
		{0, 250 * time.Millisecond, 500 * time.Millisecond},
		{1, 500 * time.Millisecond, 750 * time.Millisecond},
		{2, 1 * time.Second, 1250 * time.Millisecond},
		{10, 60 * time.Second, 60*time.Second + 250*time.Millisecond},
		{20, 60 * time.Second, 60*time.Second + 250*time.Millisecond}, // clamped exponent
	}
	for _, c := range cases {
		d := b.Delay(c.attempt)
		if d < c.min || d > c.max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", c.attempt, d, c.min, c.max)
		}
	}
}
