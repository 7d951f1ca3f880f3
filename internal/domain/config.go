package domain

import "time"

// Config holds the complete coverage-parser configuration.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`

	// Tier determines which infrastructure backends are used
	Tier Tier `json:"tier" yaml:"tier"`

	// Pipeline settings
	Model  ModelConfig  `json:"model" yaml:"model"`
	Gate   GateConfig   `json:"gate" yaml:"gate"`
	Parser ParserConfig `json:"parser" yaml:"parser"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// ModelConfig configures the extraction model endpoint.
type ModelConfig struct {
	// Provider is "openai" (any chat-completions compatible endpoint) or "anthropic"
	Provider    string  `json:"provider" yaml:"provider"`
	BaseURL     string  `json:"baseURL" yaml:"base_url"`
	APIKey      string  `json:"-" yaml:"-"`
	Model       string  `json:"model" yaml:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"topP" yaml:"top_p"`
	MaxTokens   int     `json:"maxTokens" yaml:"max_tokens"`

	// Timeout bounds a single HTTP call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	MaxRetries       int           `json:"maxRetries" yaml:"max_retries"`
	NetworkBackoff   time.Duration `json:"networkBackoff" yaml:"network_backoff"`
	RateLimitBackoff time.Duration `json:"rateLimitBackoff" yaml:"rate_limit_backoff"`
	MaxBackoff       time.Duration `json:"maxBackoff" yaml:"max_backoff"`

	// MaxTimeouts stops retrying once this many attempts have timed out.
	MaxTimeouts int `json:"maxTimeouts" yaml:"max_timeouts"`

	// GlossaryPath optionally extends the built-in terminology table.
	GlossaryPath string `json:"glossaryPath" yaml:"glossary_path"`
}

// GateConfig configures the single-flight model queue.
type GateConfig struct {
	// HardTimeout force-releases the queue; must exceed Model.Timeout.
	HardTimeout time.Duration `json:"hardTimeout" yaml:"hard_timeout"`
}

// ParserConfig holds orchestration tuning.
type ParserConfig struct {
	CacheTTL time.Duration `json:"cacheTTL" yaml:"cache_ttl"`

	// HardRuleAuthority is the confidence at or above which a hard-rule
	// field is trusted without review.
	HardRuleAuthority float64 `json:"hardRuleAuthority" yaml:"hard_rule_authority"`

	// ModelReviewThreshold flags model-only fields below it for review.
	ModelReviewThreshold float64 `json:"modelReviewThreshold" yaml:"model_review_threshold"`

	// FallbackConfidence is assigned to hard_rule_fallback results.
	FallbackConfidence float64 `json:"fallbackConfidence" yaml:"fallback_confidence"`

	BatchConcurrency int `json:"batchConcurrency" yaml:"batch_concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	ServiceName string `json:"serviceName" yaml:"service_name"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process cache and channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a single-process configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 120, // a queued parse can wait behind the gate
		},
		Tier: TierCommunity,
		Model: ModelConfig{
			Provider:         "openai",
			BaseURL:          "https://api.openai.com/v1",
			Model:            "gpt-4o-mini",
			Temperature:      0.1,
			TopP:             0.9,
			MaxTokens:        2048,
			Timeout:          60 * time.Second,
			MaxRetries:       3,
			NetworkBackoff:   time.Second,
			RateLimitBackoff: 5 * time.Second,
			MaxBackoff:       30 * time.Second,
			MaxTimeouts:      2,
		},
		Gate: GateConfig{
			HardTimeout: 90 * time.Second,
		},
		Parser: ParserConfig{
			CacheTTL:             24 * time.Hour,
			HardRuleAuthority:    0.8,
			ModelReviewThreshold: 0.6,
			FallbackConfidence:   0.5,
			BatchConcurrency:     4,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./coverage.db",
		},
		Cache: CacheConfig{
			Type:          "memory",
			LocalMaxSize:  10000,
			LocalTTL:      5 * time.Minute,
			KeyPrefix:     "coverage:",
			SweepSchedule: "@every 5m",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "coverage-parser",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "coverage",
		},
	}
}

// ProConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "coverage",
	}
	cfg.Cache.Type = "redis"
	cfg.Cache.RedisAddr = "localhost:6379"
	cfg.Cache.EnableTwoPhase = true
	cfg.Cache.LocalMaxSize = 1000
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
