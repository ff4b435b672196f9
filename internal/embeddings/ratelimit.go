package embeddings

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited paces calls to an underlying provider with a token bucket.
// A batch costs one token per text.
type RateLimited struct {
	Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps p with a limiter of limit events per second.
func NewRateLimited(p Provider, limit rate.Limit, burst int) *RateLimited {
	return &RateLimited{Provider: p, limiter: rate.NewLimiter(limit, burst)}
}

// EmbedQuery waits for a token, then delegates.
func (r *RateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Provider.EmbedQuery(ctx, text)
}

// EmbedDocuments waits for one token per text, capped at the burst size.
func (r *RateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	n := min(max(len(texts), 1), r.limiter.Burst())
	if err := r.limiter.WaitN(ctx, n); err != nil {
		return nil, err
	}
	return r.Provider.EmbedDocuments(ctx, texts)
}
