package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweepable is anything that can drop its expired entries.
type Sweepable interface {
	Sweep(ctx context.Context) (int, error)
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	cron    *cron.Cron
	target  Sweepable
	logger  *slog.Logger
	onSwept func(removed int)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweptObserver is called after every successful sweep.
func WithSweptObserver(fn func(removed int)) SweeperOption {
	return func(s *Sweeper) { s.onSwept = fn }
}

// NewSweeper parses schedule (standard 5-field cron or a descriptor such
// as "@every 5m") and prepares a sweeper. Call Start to begin.
func NewSweeper(target Sweepable, schedule string, logger *slog.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		cron:   cron.New(),
		target: target,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.cron.AddFunc(schedule, s.sweepOnce); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	removed, err := s.target.Sweep(ctx)
	if err != nil {
		s.logger.Warn("cache sweep failed", "error", err)
		return
	}
	if s.onSwept != nil {
		s.onSwept(removed)
	}
	if removed > 0 {
		s.logger.Debug("cache sweep",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
