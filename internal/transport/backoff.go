// ABOUTME: Exponential reconnect backoff
// ABOUTME: Delay grows by a multiplier per attempt up to a cap
package transport

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes reconnect delays
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns 1s base, x2, capped at 30s
func DefaultBackoff() Backoff {
	return Backoff{
		Base:       time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
	}
}

// policy is the jitter-free library policy for these parameters. It never
// gives up; the session decides when to stop reconnecting.
func (b Backoff) policy() *backoff.ExponentialBackOff {
	p := backoff.NewExponentialBackOff()
	p.InitialInterval = b.Base
	p.MaxInterval = b.Max
	p.Multiplier = b.Multiplier
	p.RandomizationFactor = 0
	p.MaxElapsedTime = 0
	p.Reset()
	return p
}

// Delay returns min(Max, Base * Multiplier^attempt). The attempt counter
// lives in the session so it can be reset on open and read by tests.
func (b Backoff) Delay(attempt int) time.Duration {
	p := b.policy()
	d := p.NextBackOff()
	for i := 0; i < attempt && d < b.Max; i++ {
		d = p.NextBackOff()
	}
	return min(d, b.Max)
}
