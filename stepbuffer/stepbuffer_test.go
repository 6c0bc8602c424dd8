package stepbuffer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/model"
	"github.com/agentic-memory/epimem/stepbuffer"
)

func TestAppendRejectsEmptyToolOrAction(t *testing.T) {
	b := stepbuffer.New("ep1", 0, func(context.Context, []model.ExecutionStep) error { return nil }, stepbuffer.Config{})
	err := b.Append(context.Background(), "", "do", nil, nil, 0, nil, nil)
	require.Error(t, err)
}

func TestAppendAssignsSequentialStepNumbersFromExistingCount(t *testing.T) {
	var flushed []model.ExecutionStep
	var mu sync.Mutex
	b := stepbuffer.New("ep1", 3, func(_ context.Context, steps []model.ExecutionStep) error {
		mu.Lock()
		flushed = append(flushed, steps...)
		mu.Unlock()
		return nil
	}, stepbuffer.Config{Policy: stepbuffer.PolicyManualOnly})

	require.NoError(t, b.Append(context.Background(), "tool", "act", nil, nil, 0, nil, nil))
	require.NoError(t, b.Append(context.Background(), "tool", "act2", nil, nil, 0, nil, nil))
	require.NoError(t, b.Flush(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, flushed, 2)
	require.Equal(t, 4, flushed[0].StepNumber)
	require.Equal(t, 5, flushed[1].StepNumber)
}

func TestManualOnlyPolicyNeverAutoFlushes(t *testing.T) {
	b := stepbuffer.New("ep1", 0, func(context.Context, []model.ExecutionStep) error { return nil },
		stepbuffer.Config{MaxBatchSize: 1, Policy: stepbuffer.PolicyManualOnly})

	require.NoError(t, b.Append(context.Background(), "tool", "act", nil, nil, 0, nil, nil))
	require.NoError(t, b.Append(context.Background(), "tool", "act", nil, nil, 0, nil, nil))
	require.Equal(t, 2, b.Len())
}

func TestFlushFailureLeavesStepsBuffered(t *testing.T) {
	calls := 0
	b := stepbuffer.New("ep1", 0, func(context.Context, []model.ExecutionStep) error {
		calls++
		if calls == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}, stepbuffer.Config{Policy: stepbuffer.PolicyManualOnly})

	require.NoError(t, b.Append(context.Background(), "tool", "act", nil, nil, 0, nil, nil))
	require.Error(t, b.Flush(context.Background()))
	require.Equal(t, 1, b.Len())

	require.NoError(t, b.Flush(context.Background()))
	require.Equal(t, 0, b.Len())
}

func TestSizeTriggerSchedulesAsyncFlush(t *testing.T) {
	done := make(chan struct{})
	b := stepbuffer.New("ep1", 0, func(context.Context, []model.ExecutionStep) error {
		close(done)
		return nil
	}, stepbuffer.Config{MaxBatchSize: 1})

	require.NoError(t, b.Append(context.Background(), "tool", "act", nil, nil, 0, nil, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected async flush to fire")
	}
}
