package domain

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with expiry.
// Keys are content hashes, so entries are shared by every caller.
type Cache interface {
	// Get returns nil, nil on a miss or an expired entry.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Sweep drops expired entries and returns how many were removed.
	// Stores with native expiry may return 0.
	Sweep(ctx context.Context) (int, error)

	Ping(ctx context.Context) error

	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `json:"type" yaml:"type"`

	// In-process LRU (also L1 when two-phase caching is on)
	LocalMaxSize int           `json:"localMaxSize" yaml:"local_max_size"`
	LocalTTL     time.Duration `json:"localTTL" yaml:"local_ttl"`

	// Redis settings
	RedisAddr     string `json:"redisAddr" yaml:"redis_addr"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redisDB" yaml:"redis_db"`
	KeyPrefix     string `json:"keyPrefix" yaml:"key_prefix"`

	// If true, check local first, then Redis
	EnableTwoPhase bool `json:"enableTwoPhase" yaml:"enable_two_phase"`

	// SweepSchedule is a cron spec for dropping expired local entries.
	SweepSchedule string `json:"sweepSchedule" yaml:"sweep_schedule"`
}

// CacheEntry is the stored form of a merged parse result.
// Per-policy fields are cleared before an entry is written.
type CacheEntry struct {
	Key       string        `json:"key"`
	Result    *ParsedResult `json:"result"`
	CreatedAt time.Time     `json:"createdAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
}
