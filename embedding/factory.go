package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/agentic-memory/epimem/config"
	"github.com/agentic-memory/epimem/embedding/providers/azure"
	"github.com/agentic-memory/epimem/embedding/providers/bedrock"
	"github.com/agentic-memory/epimem/embedding/providers/custom"
	"github.com/agentic-memory/epimem/embedding/providers/local"
	"github.com/agentic-memory/epimem/embedding/providers/mistral"
	"github.com/agentic-memory/epimem/embedding/providers/openai"
	"github.com/agentic-memory/epimem/embedding/ratelimit"
)

// New builds the configured provider (spec.md §4.4) wrapped in the
// shared protection stack (rate limiter, circuit breaker, retry),
// sized per ResilienceConfig.
func New(ctx context.Context, ec config.EmbeddingConfig, rc config.ResilienceConfig) (Provider, error) {
	inner, err := newRawProvider(ctx, ec)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(ec.RPMLimit, ec.TPMLimit)
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		ErrorThreshold:      rc.CircuitErrorThreshold,
		VolumeThreshold:     rc.CircuitVolumeThreshold,
		SleepWindow:         rc.CircuitSleepWindow,
		HalfOpenMaxRequests: rc.CircuitHalfOpenRequests,
	})
	retry := RetryConfig{MaxRetries: ec.MaxRetries, BaseDelay: rc.RetryBaseDelay, MaxDelay: rc.RetryMaxDelay}

	return NewGuardedProvider(inner, limiter, breaker, retry), nil
}

func newRawProvider(ctx context.Context, ec config.EmbeddingConfig) (Provider, error) {
	timeout := time.Duration(ec.TimeoutSeconds) * time.Second

	switch ec.Provider {
	case config.ProviderLocal:
		return local.New(ec.Model, ec.Dimension, nil), nil
	case config.ProviderOpenAI:
		return openai.New(openai.Config{APIKeyEnv: ec.APIKeyEnv, BaseURL: ec.BaseURL, Model: ec.Model, Dimension: ec.Dimension, Timeout: timeout})
	case config.ProviderMistral:
		return mistral.New(mistral.Config{APIKeyEnv: ec.APIKeyEnv, BaseURL: ec.BaseURL, Model: ec.Model, Dimension: ec.Dimension, Timeout: timeout})
	case config.ProviderAzure:
		return azure.New(azure.Config{APIKeyEnv: ec.APIKeyEnv, ResourceName: ec.ProviderAlias, DeploymentName: ec.Model, Dimension: ec.Dimension, Timeout: timeout})
	case config.ProviderBedrock:
		return bedrock.New(ctx, bedrock.Config{Region: ec.ProviderAlias, Model: ec.Model, Dimension: ec.Dimension, Timeout: timeout})
	case config.ProviderCustom:
		return custom.New(custom.Config{APIKeyEnv: ec.APIKeyEnv, Endpoint: ec.BaseURL, Model: ec.Model, Dimension: ec.Dimension, Timeout: timeout, MaxBatch: ec.BatchSize})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", ec.Provider)
	}
}
