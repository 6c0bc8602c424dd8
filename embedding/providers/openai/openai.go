// Package openai configures embedding.HTTPProvider for OpenAI's
// embeddings endpoint (spec.md §4.4).
package openai

import (
	"fmt"
	"time"

	"github.com/agentic-memory/epimem/embedding"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config names the OpenAI-specific knobs beyond the shared HTTP shape.
type Config struct {
	APIKeyEnv string
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// New validates the API key's shape ("sk-" prefix, non-trivial
// length) and returns a ready provider.
func New(cfg Config) (embedding.Provider, error) {
	key, err := embedding.ResolveAPIKey(firstNonEmpty(cfg.APIKeyEnv, "OPENAI_API_KEY"), embedding.APIKeyShape{MinLength: 20, Prefix: "sk-"})
	if err != nil {
		return nil, err
	}

	base := firstNonEmpty(cfg.BaseURL, defaultBaseURL)
	return embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
		Endpoint:    fmt.Sprintf("%s/embeddings", base),
		Headers:     map[string]string{"Authorization": "Bearer " + key},
		Model:       cfg.Model,
		Dimension:   cfg.Dimension,
		ProviderTag: "openai",
		Timeout:     cfg.Timeout,
		MaxBatch:    2048,
	}), nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
