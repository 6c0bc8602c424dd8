// Package config provides epimem's single structured configuration
// surface, loaded in three layers of increasing priority: defaults,
// environment variables, then functional options. See spec.md §6 for
// the recognized option set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	epierrors "github.com/agentic-memory/epimem/errors"
)

// Config is the root configuration object passed to memory.New.
type Config struct {
	Database   DatabaseConfig
	Storage    StorageConfig
	Embedding  EmbeddingConfig
	Batching   BatchingConfig
	Retrieval  RetrievalConfig
	Learning   LearningConfig
	Reward     RewardConfig
	Resilience ResilienceConfig
	Logging    LoggingConfig
	QueryCache QueryCacheConfig
	Spatiotemporal SpatiotemporalConfig
}

// DatabaseConfig names the two storage backends. At least one of
// DurableURL/CachePath must be set (spec.md §6).
type DatabaseConfig struct {
	DurableURL   string `env:"EPIMEM_DURABLE_URL"`
	DurableToken string `env:"EPIMEM_DURABLE_TOKEN"`
	CachePath    string `env:"EPIMEM_CACHE_PATH" default:"./epimem-cache.db"`
}

// StorageConfig controls the durable backend's connection pool and
// cache sizing, per spec.md §4.1 and SPEC_FULL.md §C.
type StorageConfig struct {
	MaxEpisodesCache int           `env:"EPIMEM_MAX_EPISODES_CACHE" default:"10000"`
	CacheTTLSeconds  int           `env:"EPIMEM_CACHE_TTL_SECONDS" default:"3600"`
	PoolMinSize      int           `env:"EPIMEM_POOL_MIN_SIZE" default:"2"`
	PoolMaxSize      int           `env:"EPIMEM_POOL_MAX_SIZE" default:"20"`
	PoolSize         int           `env:"EPIMEM_POOL_SIZE" default:"5"`
	QualityThreshold float64       `env:"EPIMEM_QUALITY_THRESHOLD" default:"0.7"`
	SizingInterval   time.Duration `env:"EPIMEM_POOL_SIZING_INTERVAL" default:"5s"`
	CooldownWindow   int           `env:"EPIMEM_POOL_COOLDOWN_SAMPLES" default:"3"`
	HighWatermark    float64       `env:"EPIMEM_POOL_HIGH_WATERMARK" default:"0.8"`
	LowWatermark     float64       `env:"EPIMEM_POOL_LOW_WATERMARK" default:"0.3"`
	GrowthIncrement  int           `env:"EPIMEM_POOL_GROWTH_INCREMENT" default:"2"`
	KeepaliveInterval time.Duration `env:"EPIMEM_POOL_KEEPALIVE_INTERVAL" default:"30s"`
}

// EmbeddingProviderKind enumerates the six supported provider shapes.
type EmbeddingProviderKind string

const (
	ProviderLocal   EmbeddingProviderKind = "local"
	ProviderOpenAI  EmbeddingProviderKind = "openai"
	ProviderMistral EmbeddingProviderKind = "mistral"
	ProviderAzure   EmbeddingProviderKind = "azure"
	ProviderBedrock EmbeddingProviderKind = "bedrock"
	ProviderCustom  EmbeddingProviderKind = "custom"
)

// EmbeddingConfig configures the embedding subsystem (C4).
type EmbeddingConfig struct {
	Enabled           bool                  `env:"EPIMEM_EMBEDDING_ENABLED" default:"false"`
	Provider          EmbeddingProviderKind `env:"EMBEDDING_PROVIDER" default:"local"`
	ProviderAlias     string                `env:"EPIMEM_EMBEDDING_PROVIDER_ALIAS"`
	Model             string                `env:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	Dimension         int                   `env:"EPIMEM_EMBEDDING_DIMENSION" default:"1536"`
	APIKeyEnv         string                `env:"EPIMEM_EMBEDDING_API_KEY_ENV"`
	BaseURL           string                `env:"EPIMEM_EMBEDDING_BASE_URL"`
	SimilarityThreshold float64             `env:"EMBEDDING_SIMILARITY_THRESHOLD" default:"0.3"`
	BatchSize         int                   `env:"EMBEDDING_BATCH_SIZE" default:"64"`
	CacheEmbeddings   bool                  `env:"EPIMEM_EMBEDDING_CACHE" default:"true"`
	TimeoutSeconds    int                   `env:"EPIMEM_EMBEDDING_TIMEOUT_SECONDS" default:"30"`
	RPMLimit          int                   `env:"EPIMEM_EMBEDDING_RPM_LIMIT" default:"3000"`
	TPMLimit          int                   `env:"EPIMEM_EMBEDDING_TPM_LIMIT" default:"1000000"`
	MaxRetries        int                   `env:"EPIMEM_EMBEDDING_MAX_RETRIES" default:"3"`
}

// BatchingPolicy names the step-buffer flush profiles from spec.md §4.2/§6.
type BatchingPolicy string

const (
	BatchingHighFrequency BatchingPolicy = "high_frequency"
	BatchingLowFrequency  BatchingPolicy = "low_frequency"
	BatchingManualOnly    BatchingPolicy = "manual_only"
)

// BatchingConfig controls the step buffer (C2).
type BatchingConfig struct {
	Profile         BatchingPolicy `env:"EPIMEM_BATCHING_PROFILE" default:"high_frequency"`
	MaxBatchSize    int            `env:"EPIMEM_MAX_BATCH_SIZE" default:"50"`
	FlushIntervalMs int            `env:"EPIMEM_FLUSH_INTERVAL_MS" default:"5000"`
	AutoFlush       bool           `env:"EPIMEM_AUTO_FLUSH" default:"true"`
}

// RetrievalConfig controls the retrieval engine (C7)'s ranking weights
// and MMR diversification.
type RetrievalConfig struct {
	SemanticWeight    float64 `env:"EPIMEM_WEIGHT_SEMANTIC" default:"0.4"`
	ContextWeight     float64 `env:"EPIMEM_WEIGHT_CONTEXT" default:"0.2"`
	EffectivenessWeight float64 `env:"EPIMEM_WEIGHT_EFFECTIVENESS" default:"0.2"`
	RecencyWeight     float64 `env:"EPIMEM_WEIGHT_RECENCY" default:"0.1"`
	SuccessWeight     float64 `env:"EPIMEM_WEIGHT_SUCCESS" default:"0.1"`
	MinRelevance      float64 `env:"EPIMEM_MIN_RELEVANCE" default:"0.3"`
	StrictMinRelevance float64 `env:"EPIMEM_STRICT_MIN_RELEVANCE" default:"0.6"`
	MMRLambda         float64 `env:"EPIMEM_MMR_LAMBDA" default:"0.7"`
	CandidateMultiplier int   `env:"EPIMEM_CANDIDATE_MULTIPLIER" default:"3"`
	RemoteCacheTTL    time.Duration `env:"EPIMEM_REMOTE_CACHE_TTL" default:"60s"`
}

// LearningConfig controls the learning orchestrator (C11) and pattern
// decay (C8).
type LearningConfig struct {
	QueueSize              int           `env:"EPIMEM_LEARNING_QUEUE_SIZE" default:"1000"`
	Workers                int           `env:"EPIMEM_LEARNING_WORKERS" default:"4"`
	EnqueueDeadline        time.Duration `env:"EPIMEM_LEARNING_ENQUEUE_DEADLINE" default:"2s"`
	PatternConfidenceMin   float64       `env:"EPIMEM_PATTERN_CONFIDENCE_MIN" default:"0.70"`
	PatternConfidenceStrict float64      `env:"EPIMEM_PATTERN_CONFIDENCE_STRICT" default:"0.85"`
	PatternMinSampleStrict int           `env:"EPIMEM_PATTERN_MIN_SAMPLE_STRICT" default:"5"`
	DecayLambda            float64       `env:"EPIMEM_PATTERN_DECAY_LAMBDA" default:"0.01"`
	DecayRetainThreshold   float64       `env:"EPIMEM_PATTERN_DECAY_RETAIN" default:"0.05"`
	DecayPinThreshold      float64       `env:"EPIMEM_PATTERN_DECAY_PIN" default:"0.95"`
}

// RewardConfig controls the composite reward weighting (C9).
type RewardConfig struct {
	EfficiencyWeight   float64       `env:"EPIMEM_REWARD_EFFICIENCY_WEIGHT" default:"0.3"`
	QualityWeight      float64       `env:"EPIMEM_REWARD_QUALITY_WEIGHT" default:"0.4"`
	NoveltyWeight      float64       `env:"EPIMEM_REWARD_NOVELTY_WEIGHT" default:"0.3"`
	LatencyBaselineMs  time.Duration `env:"EPIMEM_REWARD_LATENCY_BASELINE_MS" default:"2000ms"`
	MaxInsightLength   int           `env:"EPIMEM_REFLECTION_MAX_INSIGHT_LENGTH" default:"280"`
}

// ResilienceConfig controls retry/circuit-breaker defaults shared by
// storage and embedding clients.
type ResilienceConfig struct {
	RetryBaseDelay     time.Duration `env:"EPIMEM_RETRY_BASE_DELAY" default:"100ms"`
	RetryMaxDelay      time.Duration `env:"EPIMEM_RETRY_MAX_DELAY" default:"5s"`
	RetryMaxAttempts   int           `env:"EPIMEM_RETRY_MAX_ATTEMPTS" default:"5"`
	CircuitErrorThreshold float64    `env:"EPIMEM_CB_ERROR_THRESHOLD" default:"0.5"`
	CircuitVolumeThreshold int       `env:"EPIMEM_CB_VOLUME_THRESHOLD" default:"10"`
	CircuitSleepWindow time.Duration `env:"EPIMEM_CB_SLEEP_WINDOW" default:"5s"`
	CircuitHalfOpenRequests int      `env:"EPIMEM_CB_HALF_OPEN_REQUESTS" default:"3"`
}

// LoggingConfig controls the logging package's ProductionLogger.
type LoggingConfig struct {
	Level  string `env:"EPIMEM_LOG_LEVEL" default:"info"`
	Format string `env:"EPIMEM_LOG_FORMAT" default:"json"`
	Output string `env:"EPIMEM_LOG_OUTPUT" default:"stdout"`
}

// QueryCacheConfig controls the query cache (C6).
type QueryCacheConfig struct {
	Capacity                int           `env:"EPIMEM_QUERYCACHE_CAPACITY" default:"10000"`
	DefaultTTL              time.Duration `env:"EPIMEM_QUERYCACHE_TTL" default:"60s"`
	CacheableSizeThresholdBytes int       `env:"EPIMEM_QUERYCACHE_SIZE_THRESHOLD" default:"102400"`
	SweepInterval           time.Duration `env:"EPIMEM_QUERYCACHE_SWEEP_INTERVAL" default:"30s"`
	RedisURL                string        `env:"EPIMEM_QUERYCACHE_REDIS_URL"`
}

// TimeBucketSize names the spatiotemporal index's fixed bucket widths
// (spec.md §4.5).
type TimeBucketSize string

const (
	BucketHour TimeBucketSize = "hour"
	BucketDay  TimeBucketSize = "day"
	BucketWeek TimeBucketSize = "week"
)

// SpatiotemporalConfig controls the spatiotemporal index (C5).
type SpatiotemporalConfig struct {
	BucketSize TimeBucketSize `env:"EPIMEM_SPATIOTEMPORAL_BUCKET_SIZE" default:"day"`
}

// Option mutates a Config. Applied after defaults and environment
// loading, so options always win.
type Option func(*Config) error

// DefaultConfig returns a Config populated entirely from struct defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// New builds a Config following the three-layer precedence: defaults,
// then environment variables, then opts.
func New(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.Database.CachePath = "./epimem-cache.db"
	cfg.Storage = StorageConfig{
		MaxEpisodesCache: 10000, CacheTTLSeconds: 3600, PoolMinSize: 2, PoolMaxSize: 20,
		PoolSize: 5, QualityThreshold: 0.7, SizingInterval: 5 * time.Second, CooldownWindow: 3,
		HighWatermark: 0.8, LowWatermark: 0.3, GrowthIncrement: 2, KeepaliveInterval: 30 * time.Second,
	}
	cfg.Embedding = EmbeddingConfig{
		Provider: ProviderLocal, Model: "text-embedding-3-small", Dimension: 1536,
		SimilarityThreshold: 0.3, BatchSize: 64, CacheEmbeddings: true, TimeoutSeconds: 30,
		RPMLimit: 3000, TPMLimit: 1000000, MaxRetries: 3,
	}
	cfg.Batching = BatchingConfig{Profile: BatchingHighFrequency, MaxBatchSize: 50, FlushIntervalMs: 5000, AutoFlush: true}
	cfg.Retrieval = RetrievalConfig{
		SemanticWeight: 0.4, ContextWeight: 0.2, EffectivenessWeight: 0.2, RecencyWeight: 0.1,
		SuccessWeight: 0.1, MinRelevance: 0.3, StrictMinRelevance: 0.6, MMRLambda: 0.7, CandidateMultiplier: 3,
		RemoteCacheTTL: 60 * time.Second,
	}
	cfg.Learning = LearningConfig{
		QueueSize: 1000, Workers: 4, EnqueueDeadline: 2 * time.Second,
		PatternConfidenceMin: 0.70, PatternConfidenceStrict: 0.85, PatternMinSampleStrict: 5,
		DecayLambda: 0.01, DecayRetainThreshold: 0.05, DecayPinThreshold: 0.95,
	}
	cfg.Reward = RewardConfig{
		EfficiencyWeight: 0.3, QualityWeight: 0.4, NoveltyWeight: 0.3,
		LatencyBaselineMs: 2000 * time.Millisecond, MaxInsightLength: 280,
	}
	cfg.Resilience = ResilienceConfig{
		RetryBaseDelay: 100 * time.Millisecond, RetryMaxDelay: 5 * time.Second, RetryMaxAttempts: 5,
		CircuitErrorThreshold: 0.5, CircuitVolumeThreshold: 10, CircuitSleepWindow: 5 * time.Second,
		CircuitHalfOpenRequests: 3,
	}
	cfg.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
	cfg.QueryCache = QueryCacheConfig{
		Capacity: 10000, DefaultTTL: 60 * time.Second, CacheableSizeThresholdBytes: 100 * 1024,
		SweepInterval: 30 * time.Second,
	}
	cfg.Spatiotemporal = SpatiotemporalConfig{BucketSize: BucketDay}
}

// loadFromEnv overlays the subset of fields exposed as named
// environment variables in spec.md §6. It is deliberately explicit
// (not reflection-driven) matching the teacher's LoadFromEnv style.
func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("EPIMEM_DURABLE_URL"); v != "" {
		cfg.Database.DurableURL = v
	}
	if v := os.Getenv("TURSO_DB_URL"); v != "" && cfg.Database.DurableURL == "" {
		cfg.Database.DurableURL = v
	}
	if v := os.Getenv("LOCAL_DATABASE_URL"); v != "" && cfg.Database.DurableURL == "" {
		cfg.Database.DurableURL = v
	}
	if v := os.Getenv("EPIMEM_DURABLE_TOKEN"); v != "" {
		cfg.Database.DurableToken = v
	}
	if v := os.Getenv("TURSO_AUTH_TOKEN"); v != "" && cfg.Database.DurableToken == "" {
		cfg.Database.DurableToken = v
	}
	if v := os.Getenv("EPIMEM_CACHE_PATH"); v != "" {
		cfg.Database.CachePath = v
	}
	if v := os.Getenv("EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = EmbeddingProviderKind(v)
	}
	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Embedding.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("EMBEDDING_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.BatchSize = n
		}
	}
	if v := os.Getenv("EPIMEM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EPIMEM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("EPIMEM_SPATIOTEMPORAL_BUCKET_SIZE"); v != "" {
		cfg.Spatiotemporal.BucketSize = TimeBucketSize(v)
	}
	return nil
}

// WithDurableURL sets the durable backend connection string. Rejects
// plain http:// per spec.md §6 with a Security error. No other scheme
// is checked: any other value is accepted as given, and no auth token
// is required alongside a remote URL.
func WithDurableURL(url string) Option {
	return func(c *Config) error {
		if strings.HasPrefix(url, "http://") {
			return epierrors.New("config.WithDurableURL", epierrors.KindSecurity, "", fmt.Errorf("plain http:// durable URL rejected"))
		}
		c.Database.DurableURL = url
		return nil
	}
}

func WithDurableToken(token string) Option {
	return func(c *Config) error { c.Database.DurableToken = token; return nil }
}

func WithCachePath(path string) Option {
	return func(c *Config) error { c.Database.CachePath = path; return nil }
}

func WithEmbeddingEnabled(enabled bool) Option {
	return func(c *Config) error { c.Embedding.Enabled = enabled; return nil }
}

func WithEmbeddingProvider(provider EmbeddingProviderKind) Option {
	return func(c *Config) error { c.Embedding.Provider = provider; return nil }
}

// WithEmbeddingProviderAlias parses a "provider.subprovider" alias
// (mirroring the teacher's ai.WithProviderAlias). The provider part
// always becomes Embedding.Provider; for the sub-provider it
// auto-populates the API key env var name and base URL (well-known
// OpenAI-compatible hosting providers get their own), without
// overriding an env var name or base URL already set explicitly.
func WithEmbeddingProviderAlias(alias string) Option {
	return func(c *Config) error {
		c.Embedding.ProviderAlias = alias
		parts := strings.SplitN(alias, ".", 2)
		base := EmbeddingProviderKind(parts[0])
		c.Embedding.Provider = base
		if len(parts) == 2 {
			sub := parts[1]
			envName, baseURL := aliasDefaults(sub)
			if c.Embedding.APIKeyEnv == "" {
				c.Embedding.APIKeyEnv = envName
			}
			if c.Embedding.BaseURL == "" {
				c.Embedding.BaseURL = baseURL
			}
		}
		return nil
	}
}

func aliasDefaults(sub string) (envName, baseURL string) {
	switch sub {
	case "deepseek":
		return "DEEPSEEK_API_KEY", "https://api.deepseek.com/v1"
	case "groq":
		return "GROQ_API_KEY", "https://api.groq.com/openai/v1"
	case "together":
		return "TOGETHER_API_KEY", "https://api.together.xyz/v1"
	case "azure":
		return "AZURE_OPENAI_API_KEY", ""
	default:
		return strings.ToUpper(sub) + "_API_KEY", ""
	}
}

func WithEmbeddingModel(model string) Option {
	return func(c *Config) error { c.Embedding.Model = model; return nil }
}

func WithEmbeddingDimension(dim int) Option {
	return func(c *Config) error { c.Embedding.Dimension = dim; return nil }
}

func WithEmbeddingAPIKeyEnv(name string) Option {
	return func(c *Config) error { c.Embedding.APIKeyEnv = name; return nil }
}

func WithEmbeddingBaseURL(url string) Option {
	return func(c *Config) error { c.Embedding.BaseURL = url; return nil }
}

func WithBatchingProfile(profile BatchingPolicy) Option {
	return func(c *Config) error {
		c.Batching.Profile = profile
		switch profile {
		case BatchingManualOnly:
			c.Batching.AutoFlush = false
		case BatchingLowFrequency:
			c.Batching.MaxBatchSize = 200
			c.Batching.FlushIntervalMs = 30000
		case BatchingHighFrequency:
			c.Batching.MaxBatchSize = 50
			c.Batching.FlushIntervalMs = 5000
		}
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = level; return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}

func WithLearningWorkers(n int) Option {
	return func(c *Config) error { c.Learning.Workers = n; return nil }
}

func WithQueryCacheRedisURL(url string) Option {
	return func(c *Config) error { c.QueryCache.RedisURL = url; return nil }
}

// Validate enforces the boundary constraints from spec.md §6. Failures
// are ValidationFailed, except a plain http:// durable URL, which is
// Security; both are non-recoverable: the caller must fix
// configuration, not retry.
func (c *Config) Validate() error {
	if c.Database.DurableURL == "" && c.Database.CachePath == "" {
		return epierrors.Newf(epierrors.KindValidationFailed, "at least one of durable_url or cache_path must be set")
	}
	if strings.HasPrefix(c.Database.DurableURL, "http://") {
		return epierrors.Newf(epierrors.KindSecurity, "plain http:// durable URL rejected")
	}
	if c.Storage.MaxEpisodesCache < 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "storage.max_episodes_cache must be >= 1")
	}
	if c.Storage.CacheTTLSeconds < 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "storage.cache_ttl_seconds must be >= 1")
	}
	if c.Storage.PoolSize < 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "storage.pool_size must be >= 1")
	}
	if c.Storage.QualityThreshold < 0 || c.Storage.QualityThreshold > 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "storage.quality_threshold must be in [0,1]")
	}
	if c.Embedding.Enabled {
		switch c.Embedding.Provider {
		case ProviderLocal, ProviderOpenAI, ProviderMistral, ProviderAzure, ProviderBedrock, ProviderCustom:
		default:
			return epierrors.Newf(epierrors.KindValidationFailed, "embedding.provider %q not recognized", c.Embedding.Provider)
		}
		if c.Embedding.SimilarityThreshold < 0 || c.Embedding.SimilarityThreshold > 1 {
			return epierrors.Newf(epierrors.KindValidationFailed, "embedding.similarity_threshold must be in [0,1]")
		}
		if c.Embedding.BatchSize < 1 {
			return epierrors.Newf(epierrors.KindValidationFailed, "embedding.batch_size must be >= 1")
		}
		if c.Embedding.TimeoutSeconds < 1 {
			return epierrors.Newf(epierrors.KindValidationFailed, "embedding.timeout_seconds must be >= 1")
		}
	}
	if c.Batching.MaxBatchSize < 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "batching.max_batch_size must be >= 1")
	}
	if c.Batching.FlushIntervalMs < 1 {
		return epierrors.Newf(epierrors.KindValidationFailed, "batching.flush_interval_ms must be >= 1")
	}
	return nil
}
