package embedding

import (
	"context"

	"github.com/agentic-memory/epimem/embedding/ratelimit"
	epierrors "github.com/agentic-memory/epimem/errors"
)

// GuardedProvider wraps any Provider with the full protection stack
// spec.md §4.4 requires: rate limiting, a circuit breaker, and retry
// with exponential backoff. Request-level timeout is applied by the
// wrapped provider's own HTTP client (HTTPProvider) or, for non-HTTP
// providers, left to the caller's context deadline.
type GuardedProvider struct {
	inner   Provider
	limiter *ratelimit.Limiter
	breaker *CircuitBreaker
	retry   RetryConfig
}

var _ Provider = (*GuardedProvider)(nil)

// NewGuardedProvider composes inner with the given limiter/breaker/
// retry policy. Any of limiter/breaker may be nil to disable that
// protection.
func NewGuardedProvider(inner Provider, limiter *ratelimit.Limiter, breaker *CircuitBreaker, retry RetryConfig) *GuardedProvider {
	return &GuardedProvider{inner: inner, limiter: limiter, breaker: breaker, retry: retry}
}

func (g *GuardedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (g *GuardedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	// Fail fast on an exhausted budget (spec.md §4.4: "rate limiter at
	// zero budget returns RateLimitExceeded without making a request")
	// rather than queuing behind Wait, which would stall the caller
	// instead of surfacing the limit.
	if g.limiter != nil && !g.limiter.Allow(estimateTokens(texts)) {
		return nil, epierrors.New("embedding.GuardedProvider.EmbedBatch", epierrors.KindRateLimitExceeded, "", epierrors.ErrRateLimitExceeded)
	}

	var result [][]float32
	call := func() error {
		var err error
		result, err = g.inner.EmbedBatch(ctx, texts)
		return err
	}

	guarded := call
	if g.breaker != nil {
		guarded = func() error { return g.breaker.Execute(call) }
	}

	if err := WithRetry(ctx, g.retry, guarded); err != nil {
		return nil, err
	}
	return result, nil
}

func (g *GuardedProvider) ModelName() string   { return g.inner.ModelName() }
func (g *GuardedProvider) Dimension() int      { return g.inner.Dimension() }
func (g *GuardedProvider) Metadata() Metadata  { return g.inner.Metadata() }

// estimateTokens approximates token count as ~4 chars/token, a
// standard rough heuristic used when a provider doesn't report exact
// token usage up front.
func estimateTokens(texts []string) int {
	total := 0
	for _, t := range texts {
		total += len(t)/4 + 1
	}
	return total
}
