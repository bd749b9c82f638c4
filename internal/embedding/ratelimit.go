package embedding

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedEmbedder spaces provider calls to stay under a requests-per-second budget.
// Waiting honors ctx; a cancelled wait is returned as is, not as a ProviderError.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder allows rps requests per second with bursts of burst.
func NewRateLimitedEmbedder(next Embedder, rps float64, burst int) *RateLimitedEmbedder {
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedEmbedder{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Embed waits for a token and then calls the wrapped embedder.
func (r *RateLimitedEmbedder) Embed(ctx context.Context, text, credential string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Embed(ctx, text, credential)
}

// Dimensions returns the wrapped embedder's dimension.
func (r *RateLimitedEmbedder) Dimensions() int { return r.next.Dimensions() }

// Close closes the wrapped embedder.
func (r *RateLimitedEmbedder) Close() error { return r.next.Close() }
