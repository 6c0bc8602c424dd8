package embedding

import (
	"context"
	"errors"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
)

// RetryConfig controls exponential backoff, grounded on the teacher's
// BaseClient.ExecuteWithRetry (ai/providers/base.go), generalized here
// from an HTTP-request retry to a generic operation retry and gated on
// epimem's error-kind recoverability instead of HTTP status codes.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// WithRetry calls op, retrying with exponential backoff (capped at
// MaxDelay) while the returned error is recoverable per spec.md §7.
// Non-recoverable errors return immediately without consuming a retry.
func WithRetry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRecoverable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay << uint(attempt)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func isRecoverable(err error) bool {
	var memErr *epierrors.MemoryError
	if errors.As(err, &memErr) {
		return epierrors.IsRecoverableKind(memErr.Kind)
	}
	// Unclassified errors (e.g. raw network errors from an HTTP
	// client) are treated as recoverable — they are almost always
	// transient connection failures, not caller mistakes.
	return true
}
