package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// DefaultResultTTL is how long a parsed clause stays cached.
const DefaultResultTTL = 24 * time.Hour

// Key returns the content address of a clause.
// The coverage type is part of the key because the same text parses
// differently for death and disease cover.
func Key(coverageType domain.CoverageType, text string) string {
	sum := sha256.Sum256([]byte(string(coverageType) + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

// ResultCache stores merged parse results behind a byte cache.
// Entries are shared by every caller; they never carry per-policy amounts.
type ResultCache struct {
	store domain.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewResultCache wraps store. A non-positive ttl uses DefaultResultTTL.
func NewResultCache(store domain.Cache, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{store: store, ttl: ttl, now: time.Now}
}

// Get returns the cached result for key, or nil on a miss.
// The returned result is a private copy.
func (c *ResultCache) Get(ctx context.Context, key string) (*domain.ParsedResult, error) {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if raw == nil {
		return nil, nil
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is a miss; the next Put overwrites it.
		return nil, nil
	}
	if entry.Result == nil || c.now().After(entry.ExpiresAt) {
		return nil, nil
	}
	return entry.Result, nil
}

// Put stores result under key. Per-policy evaluation is stripped first.
func (c *ResultCache) Put(ctx context.Context, key string, result *domain.ParsedResult) error {
	if result == nil {
		return nil
	}

	stored := *result
	stored.PayoutAmount.Tiers = append([]domain.PayoutTier(nil), result.PayoutAmount.Tiers...)
	stored.ResetEvaluation()

	now := c.now()
	raw, err := json.Marshal(domain.CacheEntry{
		Key:       key,
		Result:    &stored,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes a cached clause.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// Sweep drops expired entries from the underlying store.
func (c *ResultCache) Sweep(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx)
}
