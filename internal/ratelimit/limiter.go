package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter paces outbound sends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket enforces a steady per-second send rate. Burst equals the rate,
// so no capacity is saved up beyond the configured per-second maximum. The
// executor is a single sequential sender, so one in-process bucket is the
// whole story.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a limiter for perSec sends per second. A rate of zero
// or less means unlimited.
func NewTokenBucket(perSec float64) *TokenBucket {
	if perSec <= 0 {
		return &TokenBucket{limiter: rate.NewLimiter(rate.Inf, 0)}
	}

	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(perSec), burst)}
}

// Wait blocks until a send token is available. Returns a non-nil error only
// if ctx is cancelled while waiting.
func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
