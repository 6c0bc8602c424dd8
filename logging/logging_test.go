package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/logging"
)

type fakeMetrics struct {
	calls []map[string]string
}

func (f *fakeMetrics) Count(_ context.Context, name string, labels map[string]string) {
	f.calls = append(f.calls, labels)
}

func TestProductionLoggerJSONIncludesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewProductionLogger(logging.Config{Format: "json", Output: &buf, ServiceName: "epimem-test"})
	storageLog := l.WithComponent("epimem/storage")

	storageLog.Info("episode stored", map[string]interface{}{"operation": "store_episode"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "epimem/storage", entry["component"])
	assert.Equal(t, "episode stored", entry["message"])
}

func TestDebugSuppressedUnlessLevelDebug(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewProductionLogger(logging.Config{Format: "json", Output: &buf, Level: "info"})
	l.Debug("hidden", nil)
	assert.Empty(t, buf.String())

	buf.Reset()
	l = logging.NewProductionLogger(logging.Config{Format: "json", Output: &buf, Level: "debug"})
	l.Debug("visible", nil)
	assert.NotEmpty(t, buf.String())
}

func TestMetricEmittedWithAllowlistedLabelsOnly(t *testing.T) {
	metrics := &fakeMetrics{}
	var buf bytes.Buffer
	l := logging.NewProductionLogger(logging.Config{Format: "json", Output: &buf, Metrics: metrics})

	l.Info("op done", map[string]interface{}{
		"operation":  "complete_episode",
		"secret_key": "should-not-become-a-label",
	})

	require.Len(t, metrics.calls, 1)
	assert.Equal(t, "complete_episode", metrics.calls[0]["operation"])
	_, leaked := metrics.calls[0]["secret_key"]
	assert.False(t, leaked)
}

func TestNoOpLoggerNeverPanics(t *testing.T) {
	var l logging.Logger = logging.NoOpLogger{}
	l.Info("x", nil)
	l.ErrorWithContext(context.Background(), "y", nil)
}
