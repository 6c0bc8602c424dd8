// Package local implements the in-process local embedding provider:
// no network calls, a deterministic hashing vectorizer over
// whitespace-separated tokens so the same text always produces the same
// vector, suitable for offline
// development and tests (spec.md §4.4).
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"github.com/agentic-memory/epimem/embedding"
)

var _ embedding.Provider = (*Provider)(nil)

// Provider is the local embedding provider. Its optional vocabulary is
// the word list passed to New; it reads no file, and the vectorizer
// does no I/O per call.
type Provider struct {
	model     string
	dimension int
	vocab     map[string]bool
}

// New builds a local provider. vocabWords seeds an optional allowlist
// used to down-weight out-of-vocabulary tokens; a nil/empty list
// disables the distinction and every token contributes equally.
func New(model string, dimension int, vocabWords []string) *Provider {
	vocab := make(map[string]bool, len(vocabWords))
	for _, w := range vocabWords {
		vocab[strings.ToLower(w)] = true
	}
	return &Provider{model: model, dimension: dimension, vocab: vocab}
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.vectorize(text), nil
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vectorize(t)
	}
	return out, nil
}

func (p *Provider) vectorize(text string) []float32 {
	vec := make([]float32, p.dimension)
	tokens := strings.Fields(strings.ToLower(text))
	for _, tok := range tokens {
		weight := float32(1.0)
		if len(p.vocab) > 0 && !p.vocab[tok] {
			weight = 0.5
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		idx := int(h.Sum32()) % p.dimension
		if idx < 0 {
			idx += p.dimension
		}
		vec[idx] += weight
	}
	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
}

func (p *Provider) ModelName() string { return p.model }
func (p *Provider) Dimension() int    { return p.dimension }
func (p *Provider) Metadata() embedding.Metadata {
	return embedding.Metadata{MaxBatchSize: 256, MaxInputLen: 8192, Provider: "local"}
}
