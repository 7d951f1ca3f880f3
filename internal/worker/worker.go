// Package worker consumes asynchronous parse jobs from the event bus.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/insurelab/coverage-parser/internal/bus"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/domain"
)

// GlobalTenantID subscribes to jobs that carry no tenant scope.
const GlobalTenantID = "_global"

// Parser runs one clause through the pipeline. *parser.Orchestrator
// implements it.
type Parser interface {
	Parse(ctx context.Context, in domain.ClauseInput) *domain.Outcome
}

// Worker parses jobs published on TopicParseRequested, stores the
// outcome and announces completion.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	parser Parser

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe for; empty subscribes GlobalTenantID only.
	TenantIDs []string

	// WorkerCount bounds concurrently processed jobs.
	WorkerCount int
}

// NewWorker creates a worker. repo may be nil, in which case outcomes
// are only published.
func NewWorker(eventBus domain.EventBus, repo domain.Repository, p Parser) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    eventBus,
		repo:   repo,
		parser: p,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{GlobalTenantID}
	}
	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicParseRequested, w.handleMessage)
		if err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()
		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", domain.TopicParseRequested,
		)
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage hands the job to the pool and returns once a slot is taken.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	job, err := bus.DecodeJob(msg.Payload)
	if err != nil {
		slog.Error("failed to parse job message",
			"message_id", msg.ID,
			"trace_id", msg.Metadata[bus.MetaTraceID],
			"error", err,
		)
		return err
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
	owner := job.TenantID
	if owner == "" {
		owner = msg.TenantID
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.Process(w.ctx, owner, job)
	}()
	return nil
}

// Process parses one job, saves the record and publishes the event.
func (w *Worker) Process(ctx context.Context, tenantID string, job domain.ParseJob) *domain.Outcome {
	start := time.Now()
	slog.Debug("processing parse job",
		"record_id", job.RecordID,
		"tenant_id", tenantID,
	)

	outcome := w.parser.Parse(ctx, job.Input)

	if w.repo != nil {
		rec := &domain.ParseRecord{
			ID:           job.RecordID,
			ClauseHash:   cache.Key(job.Input.CoverageType, job.Input.Text),
			CoverageType: job.Input.CoverageType,
			CoverageName: job.CoverageName,
			PolicyDocID:  job.PolicyDocID,
			ClauseText:   job.Input.Text,
			Outcome:      outcome,
		}
		if err := w.repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save parse record",
				"record_id", job.RecordID,
				"error", err,
			)
		}
	}

	ev := domain.ParseEvent{RecordID: job.RecordID, Status: outcome.Status, Failure: outcome.Failure}
	topic := domain.TopicParseCompleted
	switch {
	case outcome.Result != nil:
		ev.Method = outcome.Result.ParseMethod
	case outcome.NotApplicable != nil:
		ev.Method = outcome.NotApplicable.ParseMethod
	default:
		topic = domain.TopicParseFailed
	}
	if payload, err := bus.EncodeEvent(ev); err == nil {
		if err := w.bus.Publish(ctx, tenantID, topic, payload); err != nil {
			slog.Warn("failed to publish parse event",
				"record_id", job.RecordID,
				"topic", topic,
				"error", err,
			)
		}
	}

	slog.Info("parse job processed",
		"record_id", job.RecordID,
		"tenant_id", tenantID,
		"status", outcome.Status,
		"parse_method", ev.Method,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome
}

// Stop unsubscribes and waits for in-flight jobs.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	InFlight          int      `json:"inFlight"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		InFlight:          len(w.sem),
	}
}
