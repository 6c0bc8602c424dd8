package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/embedding/ratelimit"
)

func TestAllowFailsFastOnceRequestBudgetExhausted(t *testing.T) {
	l := ratelimit.New(1, 0)
	assert.True(t, l.Allow(0))
	assert.False(t, l.Allow(0))
}

func TestAllowFailsFastOnceTokenBudgetExhausted(t *testing.T) {
	l := ratelimit.New(0, 10)
	assert.True(t, l.Allow(10))
	assert.False(t, l.Allow(1))
}

func TestAllowWithNoLimitsConfiguredAlwaysAdmits(t *testing.T) {
	l := ratelimit.New(0, 0)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(1000))
	}
}

func TestWaitAdmitsImmediatelyWithBudgetAvailable(t *testing.T) {
	l := ratelimit.New(60, 1000)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, 10))
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := ratelimit.New(1, 0)
	require.True(t, l.Allow(0)) // exhaust the single-request burst

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, 0)
	require.Error(t, err)
}
