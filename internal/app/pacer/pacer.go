// Package pacer spaces out calls to the playlist service.
package pacer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// Pacer enforces a minimum delay between consecutive calls.
// The first call goes through immediately.
type Pacer struct {
	limiter *rate.Limiter
	delay   time.Duration
}

// New creates a pacer that allows one call per delay.
// A delay <= 0 disables pacing.
func New(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(delay), 1),
		delay:   delay,
	}
}

// Disabled returns a pacer that never waits.
func Disabled() *Pacer {
	return New(0)
}

// Delay returns the configured minimum spacing.
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Wait blocks until the next call is allowed or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "pacer wait interrupted")
	}
	return nil
}
