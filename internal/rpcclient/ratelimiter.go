package rpcclient

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimiter wraps a token-bucket limiter for the Bitcoin RPC endpoint.
type rateLimiter struct {
	limiter *rate.Limiter
}

// newRateLimiter creates a rate limiter allowing rps requests per second.
// A burst of 1 spreads requests evenly rather than admitting bursts that
// could overwhelm a node under load.
func newRateLimiter(rps int) *rateLimiter {
	return &rateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Wait blocks until the limiter allows another request or ctx is cancelled.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	return rl.limiter.Wait(ctx)
}
