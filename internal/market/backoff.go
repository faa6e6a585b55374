package market

import (
	"math/rand"
	"time"
)

// Backoff computes reconnect delays: base doubled per attempt, capped at Max,
// with up to Jitter (fraction) added on top.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff provides conservative reconnect defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:   2 * time.Second,
		Max:    30 * time.Second,
		Jitter: 0.1,
	}
}

// Delay returns the deterministic delay for the given attempt (1-based):
// min(base * 2^(attempt-1), max).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := b.Base
	if base <= 0 {
		base = time.Second
	}
	max := b.Max
	if max <= 0 {
		max = 30 * time.Second
	}
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= max {
			return max
		}
	}
	if wait > max {
		return max
	}
	return wait
}

// Next returns Delay(attempt) plus jitter.
func (b Backoff) Next(attempt int) time.Duration {
	wait := b.Delay(attempt)
	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	return wait + time.Duration(rand.Float64()*jitter*float64(wait))
}
