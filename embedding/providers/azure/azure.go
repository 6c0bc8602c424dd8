// Package azure configures embedding.HTTPProvider for Azure OpenAI's
// deployment-scoped embeddings endpoint, which differs from plain
// OpenAI in URL shape (resource/deployment path plus an api-version
// query parameter) and auth header ("api-key" rather than a bearer
// token) (spec.md §4.4).
package azure

import (
	"fmt"
	"time"

	"github.com/agentic-memory/epimem/embedding"
)

// Config names the Azure-specific knobs: ResourceName + DeploymentName
// form the URL, APIVersion is pinned per deployment.
type Config struct {
	APIKeyEnv      string
	ResourceName   string
	DeploymentName string
	APIVersion     string
	Dimension      int
	Timeout        time.Duration
}

// New validates the API key and returns a ready provider.
func New(cfg Config) (embedding.Provider, error) {
	envVar := cfg.APIKeyEnv
	if envVar == "" {
		envVar = "AZURE_OPENAI_API_KEY"
	}
	key, err := embedding.ResolveAPIKey(envVar, embedding.APIKeyShape{MinLength: 16})
	if err != nil {
		return nil, err
	}

	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2023-05-15"
	}
	endpoint := fmt.Sprintf("https://%s.openai.azure.com/openai/deployments/%s/embeddings?api-version=%s",
		cfg.ResourceName, cfg.DeploymentName, apiVersion)

	return embedding.NewHTTPProvider(embedding.HTTPProviderConfig{
		Endpoint:    endpoint,
		Headers:     map[string]string{"api-key": key},
		Model:       cfg.DeploymentName,
		Dimension:   cfg.Dimension,
		ProviderTag: "azure",
		Timeout:     cfg.Timeout,
		MaxBatch:    16,
	}), nil
}
