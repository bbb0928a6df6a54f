package outboxd

import (
	"math"
	"math/rand/v2"
	"time"
)

// BackoffPolicy computes the delay before a failed-but-retryable
// attempt becomes claimable again. attempt is the item's AttemptCount
// after the current failure has been recorded (so attempt=1 is the
// first retry).
type BackoffPolicy interface {
	Delay(attempt uint32) time.Duration
}

// DefaultBackoff implements spec.md's default policy:
//
//	delay = min(60s, 250ms * 2^min(10, attempt)) + uniform(0, 250ms)
type DefaultBackoff struct{}

const (
	defaultBase   = 250 * time.Millisecond
	defaultCap    = 60 * time.Second
	defaultJitter = 250 * time.Millisecond
)

func (DefaultBackoff) Delay(attempt uint32) time.Duration {
	exp := attempt
	if exp > 10 {
		exp = 10
	}
	d := time.Duration(float64(defaultBase) * math.Pow(2, float64(exp)))
	if d > defaultCap {
		d = defaultCap
	}
	return d + time.Duration(rand.Int64N(int64(defaultJitter)+1))
}
