// Package mistral configures embedding.HTTPProvider for Mistral's
// OpenAI-compatible embeddings endpoint (spec.md §4.4).
package mistral

import (
	"fmt"
	"time"

	"github.com/agentic-memory/epimem/embedding"
)

const defaultBaseURL = "https://api.mistral.ai/v1"

// Config names the Mistral-specific knobs.
type Config struct {
	APIKeyEnv string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// New validates the API key and returns a ready provider.
func New(cfg Config) (embedding.Provider, error) {
	envVar := cfg.APIKeyEnv
	if envVar == "" {
		envVar = "MISTRAL_API_KEY"
	}
	key, err := embedding.ResolveAPIKey(envVar, embedding.APIKeyShape{MinLength: 16})
	if err != nil {
		return nil, err
	}

	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
		Endpoint:    fmt.Sprintf("%s/embeddings", base),
		Headers:     map[string]string{"Authorization": "Bearer " + key},
		Model:       cfg.Model,
		Dimension:   cfg.Dimension,
		ProviderTag: "mistral",
		Timeout:     cfg.Timeout,
		MaxBatch:    512,
	}), nil
}
