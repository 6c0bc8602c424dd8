// Package telemetry is thin wiring around the OpenTelemetry SDK: a
// tracer for storage/embedding/retrieval spans and a small cache of
// metric instruments, both usable with the SDK's default no-op
// exporters when no collector is configured.
package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Provider bundles a tracer and a metric instrument cache under one
// service resource. Without an exporter configured, spans and metrics
// accumulate in the SDK's in-process providers and are never shipped
// anywhere — fine for this engine's own test and local-run use, and a
// Shutdown hook is provided for the case a caller does wire an
// exporter in before constructing the Provider's TracerProvider.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	instruments *instruments
}

// New builds a Provider for serviceName. Its tracer and meter providers
// are built with no span processor, exporter or reader, so span and
// metric data stay in-process and are never exported; Provider offers
// no method to attach one.
func New(serviceName string) (*Provider, error) {
	if serviceName == "" {
		return nil, fmt.Errorf("telemetry: service name cannot be empty")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Provider{
		tracer:      tp.Tracer(serviceName),
		meter:       mp.Meter(serviceName),
		tp:          tp,
		mp:          mp,
		instruments: newInstruments(mp.Meter(serviceName)),
	}, nil
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

func (p *Provider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	p.instruments.addCounter(ctx, name, value, attrs...)
}

func (p *Provider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	p.instruments.recordHistogram(ctx, name, value, attrs...)
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tp.Shutdown(ctx); err != nil {
		return err
	}
	return p.mp.Shutdown(ctx)
}
