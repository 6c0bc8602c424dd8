// Package custom configures embedding.HTTPProvider against any
// operator-supplied base URL speaking the OpenAI-compatible embeddings
// schema — the escape hatch for self-hosted or unlisted vendors
// (spec.md §4.4).
package custom

import (
	"time"

	"github.com/agentic-memory/epimem/embedding"
)

// Config names the custom-provider knobs. Endpoint is the full
// embeddings URL (not just a base), since self-hosted deployments
// rarely follow the "<base>/embeddings" convention consistently.
type Config struct {
	APIKeyEnv string
	Endpoint  string
	Model     string
	Dimension int
	Timeout   time.Duration
	MaxBatch  int
}

// New builds a provider. APIKeyEnv is optional — some self-hosted
// deployments run without auth; when unset, no Authorization header is
// sent.
func New(cfg Config) (embedding.Provider, error) {
	headers := map[string]string{}
	if cfg.APIKeyEnv != "" {
		key, err := embedding.ResolveAPIKey(cfg.APIKeyEnv, embedding.APIKeyShape{MinLength: 1})
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + key
	}

	return embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
		Endpoint:    cfg.Endpoint,
		Headers:     headers,
		Model:       cfg.Model,
		Dimension:   cfg.Dimension,
		ProviderTag: "custom",
		Timeout:     cfg.Timeout,
		MaxBatch:    cfg.MaxBatch,
	}), nil
}
