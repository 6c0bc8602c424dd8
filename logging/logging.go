// Package logging provides the structured, component-aware logging
// interface used across epimem: a minimal Logger contract, a
// component-scoped extension, and a production JSON/human-readable
// implementation with cardinality-safe metric piggybacking.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the minimal logging contract every epimem component depends
// on. Components accept a Logger, never a concrete implementation.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger extends Logger with a component tag that appears
// on every emitted record, so operators can filter by subsystem:
//
//	"epimem/storage", "epimem/episode", "epimem/embedding",
//	"epimem/retrieval", "epimem/learning", "epimem/sync"
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// MetricEmitter lets the logging layer piggyback a cardinality-safe
// counter on selected log events without a hard dependency on the
// telemetry package (broken by interface, like the teacher's
// globalMetricsRegistry indirection, but passed in explicitly here
// instead of through package-level global state).
type MetricEmitter interface {
	Count(ctx context.Context, name string, labels map[string]string)
}

// Config controls a ProductionLogger's output.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Format      string // "json" or "text"
	Output      io.Writer
	ServiceName string
	Metrics     MetricEmitter // optional
}

// ProductionLogger is the sole production Logger implementation. It is
// always component-aware; the zero-value component is "epimem".
type ProductionLogger struct {
	cfg       Config
	debug     bool
	component string
}

// NewProductionLogger builds a ComponentAwareLogger from cfg.
func NewProductionLogger(cfg Config) ComponentAwareLogger {
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "epimem"
	}
	return &ProductionLogger{
		cfg:       cfg,
		debug:     strings.EqualFold(cfg.Level, "debug"),
		component: "epimem",
	}
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	clone := *p
	clone.component = component
	return &clone
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "INFO", msg, fields)
}
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "ERROR", msg, fields)
}
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent(context.Background(), "WARN", msg, fields)
}
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(context.Background(), "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEvent(ctx context.Context, level, msg string, fields map[string]interface{}) {
	ts := time.Now().Format(time.RFC3339)

	if p.cfg.Format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   p.cfg.ServiceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.cfg.Output, string(data))
		}
	} else {
		var b strings.Builder
		for k, v := range fields {
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		fmt.Fprintf(p.cfg.Output, "%s [%s] [%s/%s] %s%s\n",
			ts, level, p.cfg.ServiceName, p.component, msg, b.String())
	}

	p.emitMetric(ctx, level, fields)
}

// emitMetric forwards only low-cardinality fields as metric labels,
// mirroring the teacher's cardinality-aware label allowlist.
func (p *ProductionLogger) emitMetric(ctx context.Context, level string, fields map[string]interface{}) {
	if p.cfg.Metrics == nil {
		return
	}
	labels := map[string]string{
		"level":     level,
		"component": p.component,
	}
	for _, key := range []string{"operation", "status", "error_kind", "provider"} {
		if v, ok := fields[key]; ok {
			labels[key] = fmt.Sprintf("%v", v)
		}
	}
	p.cfg.Metrics.Count(ctx, "epimem.log_events", labels)
}

// NoOpLogger discards everything. Used as the default when a component
// is constructed without an explicit logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
func (n NoOpLogger) WithComponent(string) Logger                                    { return n }
