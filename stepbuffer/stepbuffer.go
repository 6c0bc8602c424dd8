// Package stepbuffer batches an open episode's execution steps in
// memory before they are flushed to storage (spec.md §4.2, C2).
package stepbuffer

import (
	"context"
	"sync"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
	"github.com/agentic-memory/epimem/logging"
	"github.com/agentic-memory/epimem/model"
)

// FlushFunc persists a batch of steps, in order, to storage.
type FlushFunc func(ctx context.Context, steps []model.ExecutionStep) error

// Policy controls when a buffer auto-flushes.
type Policy string

const (
	PolicyHighFrequency Policy = "high_frequency"
	PolicyLowFrequency  Policy = "low_frequency"
	PolicyManualOnly    Policy = "manual_only"
)

// Config bounds a single Buffer's auto-flush behavior.
type Config struct {
	MaxBatchSize    int
	FlushIntervalMs int
	Policy          Policy
	Logger          logging.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = 5000
	}
	if c.Policy == "" {
		c.Policy = PolicyHighFrequency
	}
	if c.Logger == nil {
		c.Logger = logging.NoOpLogger{}
	}
}

// Buffer accumulates steps for one open episode. Flush triggers: size
// reaches MaxBatchSize, elapsed time since last flush exceeds
// FlushIntervalMs, an explicit Flush call, or episode completion/
// deletion (both call Flush directly). PolicyManualOnly disables the
// size and time triggers.
type Buffer struct {
	mu         sync.Mutex
	episodeID  string
	cfg        Config
	flush      FlushFunc
	pending    []model.ExecutionStep
	lastFlush  time.Time
	nextStepNo int
	logger     logging.Logger

	timer *time.Timer
	done  chan struct{}
}

// New creates a Buffer for episodeID. existingStepCount seeds the
// step-number counter so Append continues from where prior flushes
// left off, matching spec.md §4.2's
// `episode.steps.len() + buffer.len() + 1` assignment rule.
func New(episodeID string, existingStepCount int, flush FlushFunc, cfg Config) *Buffer {
	cfg.applyDefaults()
	b := &Buffer{
		episodeID:  episodeID,
		cfg:        cfg,
		flush:      flush,
		lastFlush:  time.Now(),
		nextStepNo: existingStepCount + 1,
		logger:     cfg.Logger.WithComponent("epimem/stepbuffer"),
		done:       make(chan struct{}),
	}
	return b
}

// Append validates and enqueues a step, assigning its step_number
// under the buffer's lock. If the flush policy fires, an async flush
// is scheduled; a deferred flush is never an error.
func (b *Buffer) Append(ctx context.Context, toolName, action string, params map[string]interface{}, result *model.StepResult, latencyMs int64, tokenCount *int, metadata map[string]string) error {
	if toolName == "" || action == "" {
		return epierrors.New("stepbuffer.Append", epierrors.KindInvalidInput, b.episodeID, nil)
	}

	b.mu.Lock()
	step := model.ExecutionStep{
		StepNumber: b.nextStepNo,
		ToolName:   toolName,
		Action:     action,
		Parameters: params,
		Timestamp:  time.Now(),
		Result:     result,
		LatencyMs:  latencyMs,
		TokenCount: tokenCount,
		Metadata:   metadata,
	}
	b.nextStepNo++
	b.pending = append(b.pending, step)
	shouldFlush := b.cfg.Policy != PolicyManualOnly &&
		(len(b.pending) >= b.cfg.MaxBatchSize || time.Since(b.lastFlush) >= time.Duration(b.cfg.FlushIntervalMs)*time.Millisecond)
	b.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := b.Flush(context.Background()); err != nil {
				b.logger.WarnWithContext(ctx, "deferred auto-flush failed, steps remain buffered for next trigger", map[string]interface{}{
					"episode_id": b.episodeID,
					"error":      err.Error(),
				})
			}
		}()
	}
	return nil
}

// Flush writes the accumulated steps, in step_number order, to
// storage. On failure the buffered steps remain so the next trigger
// (size, time, or a later explicit Flush) retries them.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := make([]model.ExecutionStep, len(b.pending))
	copy(batch, b.pending)
	b.mu.Unlock()

	if err := b.flush(ctx, batch); err != nil {
		return epierrors.New("stepbuffer.Flush", epierrors.KindStorage, b.episodeID, err)
	}

	b.mu.Lock()
	b.pending = b.pending[len(batch):]
	b.lastFlush = time.Now()
	b.mu.Unlock()
	return nil
}

// Len reports the number of steps currently buffered (not yet flushed).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
