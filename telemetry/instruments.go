package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments caches metric instruments by name so repeated calls for
// the same metric (e.g. "storage.store_episode.latency_ms" on every
// StoreEpisode call) don't re-register with the meter each time.
type instruments struct {
	meter      metric.Meter
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
	mu         sync.RWMutex
}

func newInstruments(meter metric.Meter) *instruments {
	return &instruments{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

func (i *instruments) addCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	i.mu.RLock()
	c, ok := i.counters[name]
	i.mu.RUnlock()
	if !ok {
		i.mu.Lock()
		if c, ok = i.counters[name]; !ok {
			var err error
			c, err = i.meter.Int64Counter(name)
			if err != nil {
				i.mu.Unlock()
				return
			}
			i.counters[name] = c
		}
		i.mu.Unlock()
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}

func (i *instruments) recordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	i.mu.RLock()
	h, ok := i.histograms[name]
	i.mu.RUnlock()
	if !ok {
		i.mu.Lock()
		if h, ok = i.histograms[name]; !ok {
			var err error
			h, err = i.meter.Float64Histogram(name)
			if err != nil {
				i.mu.Unlock()
				return
			}
			i.histograms[name] = h
		}
		i.mu.Unlock()
	}
	h.Record(ctx, value, metric.WithAttributes(attrs...))
}
