package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// RetryPolicy controls how transient model failures are retried.
type RetryPolicy struct {
	MaxRetries       int
	NetworkBackoff   time.Duration
	RateLimitBackoff time.Duration
	MaxBackoff       time.Duration
	Multiplier       float64
	// MaxTimeouts stops retrying once this many attempts have timed out.
	MaxTimeouts int
}

// DefaultRetryPolicy returns the production retry settings.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       3,
		NetworkBackoff:   time.Second,
		RateLimitBackoff: 5 * time.Second,
		MaxBackoff:       30 * time.Second,
		Multiplier:       2,
		MaxTimeouts:      2,
	}
}

// PolicyFromConfig derives a retry policy from model settings.
func PolicyFromConfig(cfg domain.ModelConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.NetworkBackoff > 0 {
		p.NetworkBackoff = cfg.NetworkBackoff
	}
	if cfg.RateLimitBackoff > 0 {
		p.RateLimitBackoff = cfg.RateLimitBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxBackoff = cfg.MaxBackoff
	}
	if cfg.MaxTimeouts > 0 {
		p.MaxTimeouts = cfg.MaxTimeouts
	}
	return p
}

// Backoff returns the wait before retry number attempt (0-based).
func (p RetryPolicy) Backoff(kind domain.FailureKind, attempt int) time.Duration {
	base := p.NetworkBackoff
	if kind == domain.KindRateLimited {
		base = p.RateLimitBackoff
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if ceiling := float64(p.MaxBackoff); p.MaxBackoff > 0 && d > ceiling {
		d = ceiling
	}
	return time.Duration(d)
}

func retryable(kind domain.FailureKind) bool {
	switch kind {
	case domain.KindTimeout, domain.KindNetwork, domain.KindRateLimited, domain.KindUpstream:
		return true
	}
	return false
}

// sleep waits for d or until ctx ends.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs call until it succeeds, fails permanently, exhausts the retries or
// times out MaxTimeouts times. The last error and its kind are returned.
func (p RetryPolicy) Do(ctx context.Context, call func(ctx context.Context) error) (domain.FailureKind, error) {
	timeouts := 0
	for attempt := 0; ; attempt++ {
		err := call(ctx)
		if err == nil {
			return "", nil
		}
		kind := domain.ClassifyError(err)
		if ctx.Err() != nil {
			// The caller's deadline, not the model, ended the attempt.
			return domain.KindTimeout, err
		}
		if kind == domain.KindTimeout {
			timeouts++
		}
		if !retryable(kind) || attempt >= p.MaxRetries || (p.MaxTimeouts > 0 && timeouts >= p.MaxTimeouts) {
			return kind, err
		}

		wait := p.Backoff(kind, attempt)
		slog.Warn("model call failed, retrying",
			"kind", kind,
			"attempt", attempt+1,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := sleep(ctx, wait); err != nil {
			return domain.KindTimeout, err
		}
	}
}
