package util

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles file reloads. A nil Limiter never blocks.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter allows perSecond reloads with the given burst. A non-positive
// perSecond disables throttling.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit, burst := normalize(perSecond, burst)
	return &Limiter{inner: rate.NewLimiter(limit, burst)}
}

// SetRate retunes the limiter in place, keeping the tokens already spent.
func (l *Limiter) SetRate(perSecond float64, burst int) {
	if l == nil {
		return
	}
	limit, burst := normalize(perSecond, burst)
	l.inner.SetLimit(limit)
	l.inner.SetBurst(burst)
}

// Wait blocks until one reload may run or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.inner.Wait(ctx)
}

// Tokens reports the reloads currently available without waiting.
func (l *Limiter) Tokens() float64 {
	if l == nil {
		return 0
	}
	return l.inner.Tokens()
}

func normalize(perSecond float64, burst int) (rate.Limit, int) {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return limit, burst
}
