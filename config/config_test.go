package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-memory/epimem/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 50, cfg.Batching.MaxBatchSize)
	assert.Equal(t, config.ProviderLocal, cfg.Embedding.Provider)
}

func TestOptionsOverrideEnvAndDefaults(t *testing.T) {
	t.Setenv("EPIMEM_LOG_LEVEL", "warn")
	cfg, err := config.New(config.WithLogLevel("debug"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level, "functional option must win over env var")
}

func TestRejectsPlainHTTPDurableURL(t *testing.T) {
	_, err := config.New(config.WithDurableURL("http://example.com/db"))
	require.Error(t, err)
}

func TestRequiresAtLeastOneBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.CachePath = ""
	cfg.Database.DurableURL = ""
	assert.Error(t, cfg.Validate())
}

func TestProviderAliasPopulatesAPIKeyEnvWithoutOverridingExplicit(t *testing.T) {
	cfg, err := config.New(
		config.WithEmbeddingAPIKeyEnv("MY_CUSTOM_KEY"),
		config.WithEmbeddingProviderAlias("openai.groq"),
	)
	require.NoError(t, err)
	assert.Equal(t, "MY_CUSTOM_KEY", cfg.Embedding.APIKeyEnv, "explicit setting must not be overridden by alias")
	assert.Equal(t, config.ProviderOpenAI, cfg.Embedding.Provider)
}

func TestBatchingProfileManualOnlyDisablesAutoFlush(t *testing.T) {
	cfg, err := config.New(config.WithBatchingProfile(config.BatchingManualOnly))
	require.NoError(t, err)
	assert.False(t, cfg.Batching.AutoFlush)
}
