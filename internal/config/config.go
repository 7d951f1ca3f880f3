// Package config assembles the runtime configuration: built-in defaults,
// then an optional YAML file, then COVERAGE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Environment variables read by Load.
const (
	EnvConfigPath = "COVERAGE_CONFIG"
	EnvTier       = "COVERAGE_TIER"
	EnvDebug      = "COVERAGE_DEBUG"
)

// Default returns the single-process configuration.
func Default() *domain.Config {
	return domain.DefaultConfig()
}

// Load builds the configuration. COVERAGE_TIER=pro selects the pro
// defaults before the file and env are applied.
func Load() (*domain.Config, error) {
	cfg := Default()
	if strings.EqualFold(os.Getenv(EnvTier), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	if path := os.Getenv(EnvConfigPath); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML file onto cfg. Keys absent from the file keep
// their current values.
func LoadFile(cfg *domain.Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	slog.Debug("config file loaded", "path", path)
	return nil
}

func applyEnv(cfg *domain.Config) error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	envOverride(&cfg.Server.Host, "COVERAGE_HOST")
	collect(envOverrideInt(&cfg.Server.Port, "COVERAGE_PORT"))

	envOverride(&cfg.Model.Provider, "COVERAGE_MODEL_PROVIDER")
	envOverride(&cfg.Model.BaseURL, "COVERAGE_MODEL_BASE_URL")
	envOverride(&cfg.Model.Model, "COVERAGE_MODEL")
	envOverride(&cfg.Model.GlossaryPath, "COVERAGE_GLOSSARY_PATH")
	collect(envOverrideFloat(&cfg.Model.Temperature, "COVERAGE_MODEL_TEMPERATURE"))
	collect(envOverrideInt(&cfg.Model.MaxTokens, "COVERAGE_MODEL_MAX_TOKENS"))
	collect(envOverrideInt(&cfg.Model.MaxRetries, "COVERAGE_MODEL_MAX_RETRIES"))
	collect(envOverrideDuration(&cfg.Model.Timeout, "COVERAGE_MODEL_TIMEOUT"))
	collect(envOverrideDuration(&cfg.Gate.HardTimeout, "COVERAGE_GATE_HARD_TIMEOUT"))
	cfg.Model.APIKey = apiKey(cfg.Model.Provider)

	collect(envOverrideDuration(&cfg.Parser.CacheTTL, "COVERAGE_CACHE_TTL"))
	collect(envOverrideFloat(&cfg.Parser.HardRuleAuthority, "COVERAGE_HARD_RULE_AUTHORITY"))
	collect(envOverrideFloat(&cfg.Parser.ModelReviewThreshold, "COVERAGE_MODEL_REVIEW_THRESHOLD"))
	collect(envOverrideInt(&cfg.Parser.BatchConcurrency, "COVERAGE_BATCH_CONCURRENCY"))

	envOverride(&cfg.Repository.Driver, "COVERAGE_DB_DRIVER")
	envOverride(&cfg.Repository.SQLitePath, "COVERAGE_SQLITE_PATH")
	envOverride(&cfg.Repository.PostgresHost, "COVERAGE_POSTGRES_HOST")
	collect(envOverrideInt(&cfg.Repository.PostgresPort, "COVERAGE_POSTGRES_PORT"))
	envOverride(&cfg.Repository.PostgresUser, "COVERAGE_POSTGRES_USER")
	envOverride(&cfg.Repository.PostgresPassword, "COVERAGE_POSTGRES_PASSWORD")
	envOverride(&cfg.Repository.PostgresDB, "COVERAGE_POSTGRES_DB")
	envOverride(&cfg.Repository.PostgresSSLMode, "COVERAGE_POSTGRES_SSLMODE")

	envOverride(&cfg.Cache.Type, "COVERAGE_CACHE_TYPE")
	envOverride(&cfg.Cache.RedisAddr, "COVERAGE_REDIS_ADDR")
	envOverride(&cfg.Cache.RedisPassword, "COVERAGE_REDIS_PASSWORD")
	envOverride(&cfg.Cache.SweepSchedule, "COVERAGE_CACHE_SWEEP")

	envOverride(&cfg.EventBus.Type, "COVERAGE_BUS_TYPE")
	envOverride(&cfg.EventBus.NATSUrl, "COVERAGE_NATS_URL")
	envOverride(&cfg.EventBus.NATSToken, "COVERAGE_NATS_TOKEN")

	envOverride(&cfg.Logging.Level, "COVERAGE_LOG_LEVEL")
	envOverride(&cfg.Logging.Format, "COVERAGE_LOG_FORMAT")
	if os.Getenv(EnvDebug) == "true" {
		cfg.Logging.Level = "debug"
	}
	collect(envOverrideBool(&cfg.Tracing.Enabled, "COVERAGE_TRACING"))
	collect(envOverrideBool(&cfg.Metrics.Enabled, "COVERAGE_METRICS"))

	return errors.Join(errs...)
}

// apiKey reads the model key. Secrets are never taken from the file.
func apiKey(provider string) string {
	if v := os.Getenv("COVERAGE_MODEL_API_KEY"); v != "" {
		return v
	}
	if provider == "anthropic" {
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return os.Getenv("OPENAI_API_KEY")
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []error
	switch cfg.Model.Provider {
	case "", "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.provider: unsupported %q", cfg.Model.Provider))
	}
	if cfg.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if cfg.Gate.HardTimeout <= cfg.Model.Timeout {
		errs = append(errs, fmt.Errorf("gate.hard_timeout (%s) must exceed model.timeout (%s)", cfg.Gate.HardTimeout, cfg.Model.Timeout))
	}
	for name, v := range map[string]float64{
		"parser.hard_rule_authority":    cfg.Parser.HardRuleAuthority,
		"parser.model_review_threshold": cfg.Parser.ModelReviewThreshold,
		"parser.fallback_confidence":    cfg.Parser.FallbackConfidence,
	} {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, v))
		}
	}
	if cfg.Parser.ModelReviewThreshold > cfg.Parser.HardRuleAuthority {
		errs = append(errs, fmt.Errorf("parser.model_review_threshold (%v) must not exceed parser.hard_rule_authority (%v)",
			cfg.Parser.ModelReviewThreshold, cfg.Parser.HardRuleAuthority))
	}
	if cfg.Parser.BatchConcurrency < 1 {
		errs = append(errs, errors.New("parser.batch_concurrency must be at least 1"))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver: unsupported %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type: unsupported %q", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("event_bus.type: unsupported %q", cfg.EventBus.Type))
	}
	return errors.Join(errs...)
}

// LogLevel maps the configured level name onto slog.
func LogLevel(cfg domain.LoggingConfig) slog.Level {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func envOverrideFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

func envOverrideBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func envOverrideDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
