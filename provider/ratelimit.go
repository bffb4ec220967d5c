package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedAdapter decorates an Adapter with a client-side token bucket,
// so a single slow or misconfigured caller cannot exceed a provider's rate
// limits and trip its backoff on every other workflow sharing the adapter.
type RateLimitedAdapter struct {
	Adapter
	limiter *rate.Limiter
}

// NewRateLimitedAdapter wraps next with a token bucket allowing
// requestsPerSecond sustained calls and burst concurrent calls before
// Execute starts blocking on limiter.Wait.
func NewRateLimitedAdapter(next Adapter, requestsPerSecond float64, burst int) *RateLimitedAdapter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedAdapter{
		Adapter: next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Execute blocks until the token bucket admits the call, then delegates.
// A cancelled ctx unblocks Wait immediately and the call never reaches the
// wrapped Adapter.
func (r *RateLimitedAdapter) Execute(ctx context.Context, op Operation, input any) (any, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Adapter.Execute(ctx, op, input)
}
