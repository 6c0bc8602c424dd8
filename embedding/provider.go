// Package embedding defines the uniform embedding-provider contract
// and the protective machinery (rate limiting, circuit breaking,
// retry, batching) that wraps every concrete provider (spec.md §4.4,
// C4).
package embedding

import "context"

// Metadata describes a provider's static capabilities, surfaced via
// Provider.Metadata() for callers that adapt batching or validation
// to a specific backend.
type Metadata struct {
	MaxBatchSize int
	MaxInputLen  int
	Provider     string
}

// Provider is the uniform contract every embedding backend implements:
// embed(text) -> vector, embed_batch(texts) -> vectors[], model_name(),
// dimension(), metadata() (spec.md §4.4).
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelName() string
	Dimension() int
	Metadata() Metadata
}
