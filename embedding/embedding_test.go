package embedding_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	epierrors "github.com/agentic-memory/epimem/errors"

	"github.com/agentic-memory/epimem/embedding"
	"github.com/agentic-memory/epimem/embedding/ratelimit"
)

type stubProvider struct{ calls int }

func (s *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *stubProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1}
	}
	return out, nil
}

func (s *stubProvider) ModelName() string          { return "stub" }
func (s *stubProvider) Dimension() int              { return 1 }
func (s *stubProvider) Metadata() embedding.Metadata { return embedding.Metadata{} }

func TestEmbedBatchedSplitsOversizedInput(t *testing.T) {
	var calls [][]string
	embedFn := func(_ context.Context, texts []string) ([][]float32, error) {
		calls = append(calls, texts)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(i)}
		}
		return out, nil
	}

	texts := []string{"a", "b", "c", "d", "e"}
	out, err := embedding.EmbedBatched(context.Background(), texts, 2, embedFn)
	require.NoError(t, err)
	assert.Len(t, out, 5)
	assert.Len(t, calls, 3)
}

func TestCircuitBreakerTripsAfterVolumeAndErrorThreshold(t *testing.T) {
	cb := embedding.NewCircuitBreaker(embedding.CircuitBreakerConfig{
		ErrorThreshold: 0.5, VolumeThreshold: 4, SleepWindow: time.Minute, HalfOpenMaxRequests: 1,
	})
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_ = cb.Execute(func() error { return boom })
	}
	assert.Equal(t, embedding.StateOpen, cb.State())
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	cb := embedding.NewCircuitBreaker(embedding.CircuitBreakerConfig{
		ErrorThreshold: 0.1, VolumeThreshold: 1, SleepWindow: time.Hour, HalfOpenMaxRequests: 1,
	})
	_ = cb.Execute(func() error { return errors.New("boom") })
	err := cb.Execute(func() error { return nil })
	require.Error(t, err)
	var memErr *epierrors.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, epierrors.KindCircuitBreakerOpen, memErr.Kind)
}

func TestWithRetryStopsOnNonRecoverableError(t *testing.T) {
	attempts := 0
	err := embedding.WithRetry(context.Background(), embedding.RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond}, func() error {
		attempts++
		return epierrors.New("op", epierrors.KindInvalidInput, "", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRetriesRecoverableErrorUntilSuccess(t *testing.T) {
	attempts := 0
	err := embedding.WithRetry(context.Background(), embedding.RetryConfig{MaxRetries: 5, BaseDelay: time.Millisecond}, func() error {
		attempts++
		if attempts < 3 {
			return epierrors.New("op", epierrors.KindEmbedding, "", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestResolveAPIKeyRejectsMissingOrShortKey(t *testing.T) {
	_, err := embedding.ResolveAPIKey("EPIMEM_TEST_MISSING_KEY", embedding.APIKeyShape{MinLength: 8})
	assert.Error(t, err)

	t.Setenv("EPIMEM_TEST_SHORT_KEY", "abc")
	_, err = embedding.ResolveAPIKey("EPIMEM_TEST_SHORT_KEY", embedding.APIKeyShape{MinLength: 8})
	assert.Error(t, err)

	t.Setenv("EPIMEM_TEST_GOOD_KEY", "sk-abcdefghijklmnop")
	key, err := embedding.ResolveAPIKey("EPIMEM_TEST_GOOD_KEY", embedding.APIKeyShape{MinLength: 8, Prefix: "sk-"})
	require.NoError(t, err)
	assert.Equal(t, "sk-abcdefghijklmnop", key)
}

func TestGuardedProviderFailsFastWithoutCallingInnerWhenBudgetExhausted(t *testing.T) {
	inner := &stubProvider{}
	limiter := ratelimit.New(1, 0)
	guarded := embedding.NewGuardedProvider(inner, limiter, nil, embedding.RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond})

	_, err := guarded.EmbedBatch(context.Background(), []string{"hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	_, err = guarded.EmbedBatch(context.Background(), []string{"again"})
	require.Error(t, err)
	var memErr *epierrors.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, epierrors.KindRateLimitExceeded, memErr.Kind)
	assert.Equal(t, 1, inner.calls, "inner provider must not be called once the budget is exhausted")
}
