// Package ratelimit implements the token-bucket RPM/TPM limiter that
// guards every embedding provider (spec.md §4.4's protection clause
// (a)).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces both a requests-per-minute and a tokens-per-minute
// ceiling using two independent golang.org/x/time/rate token buckets.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// New builds a Limiter from RPM/TPM ceilings. Burst is set equal to
// the per-minute rate so a caller can spend a full minute's budget in
// one request-burst after being idle, matching typical embedding
// client expectations.
func New(rpm, tpm int) *Limiter {
	l := &Limiter{}
	if rpm > 0 {
		l.requests = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
	}
	if tpm > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(tpm)/60.0), tpm)
	}
	return l
}

// Wait blocks until both the request-count and token-count budgets
// admit a call of the given estimated token size, or ctx is done.
func (l *Limiter) Wait(ctx context.Context, estimatedTokens int) error {
	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return err
		}
	}
	if l.tokens != nil && estimatedTokens > 0 {
		if err := l.tokens.WaitN(ctx, estimatedTokens); err != nil {
			return err
		}
	}
	return nil
}

// Allow is a non-blocking check used by callers that want to fail fast
// rather than queue (e.g. to surface a retryable rate-limit error
// instead of stalling the caller).
func (l *Limiter) Allow(estimatedTokens int) bool {
	if l.requests != nil && !l.requests.Allow() {
		return false
	}
	if l.tokens != nil && estimatedTokens > 0 && !l.tokens.AllowN(time.Now(), estimatedTokens) {
		return false
	}
	return true
}
