package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/telemetry"
)

func TestNewRejectsEmptyServiceName(t *testing.T) {
	_, err := telemetry.New("")
	require.Error(t, err)
}

func TestStartSpanAndRecordMetricsDoNotPanic(t *testing.T) {
	p, err := telemetry.New("epimem-test")
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := p.StartSpan(context.Background(), "storage.store_episode")
	span.End()

	p.RecordCounter(ctx, "storage.store_episode.count", 1)
	p.RecordHistogram(ctx, "storage.store_episode.latency_ms", 12.5)
}
