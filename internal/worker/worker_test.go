package worker

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/bus"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/repository"
)

// stubParser fails clauses whose text is "fail" and parses everything else.
type stubParser struct {
	calls atomic.Int32
}

func (p *stubParser) Parse(ctx context.Context, in domain.ClauseInput) *domain.Outcome {
	p.calls.Add(1)
	if in.Text == "fail" {
		return domain.Failed(domain.NewFailure(domain.KindTimeout, "model call timed out", nil))
	}
	return domain.Parsed(&domain.ParsedResult{
		OverallConfidence: 0.9,
		ParseMethod:       domain.MethodLLM,
		CoverageType:      in.CoverageType,
	})
}

func newRepo(t *testing.T) *repository.SQLRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func publishJob(t *testing.T, b domain.EventBus, tenantID string, job domain.ParseJob) {
	t.Helper()
	payload, err := bus.EncodeJob(job)
	if err != nil {
		t.Fatalf("EncodeJob failed: %v", err)
	}
	if err := b.Publish(context.Background(), tenantID, domain.TopicParseRequested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func awaitEvent(t *testing.T, ch <-chan domain.ParseEvent) domain.ParseEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for parse event")
	}
	return domain.ParseEvent{}
}

func subscribeEvents(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan domain.ParseEvent {
	t.Helper()
	ch := make(chan domain.ParseEvent, 4)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		var ev domain.ParseEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		ch <- ev
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &stubParser{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 1}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessJob", func(t *testing.T) {
		repo := newRepo(t)
		p := &stubParser{}
		w := NewWorker(eventBus, repo, p)
		w.Start(Config{TenantIDs: []string{"tenant-test"}, WorkerCount: 2})
		defer w.Stop()

		events := subscribeEvents(t, eventBus, "tenant-test", domain.TopicParseCompleted)
		publishJob(t, eventBus, "tenant-test", domain.ParseJob{
			RecordID:     "rec-001",
			Input:        domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDeath},
			CoverageName: "身故保险金",
		})

		ev := awaitEvent(t, events)
		if ev.RecordID != "rec-001" || ev.Status != domain.StatusParsed || ev.Method != domain.MethodLLM {
			t.Errorf("unexpected event %+v", ev)
		}

		rec, err := repo.GetParseRecord(context.Background(), "tenant-test", "rec-001")
		if err != nil {
			t.Fatalf("GetParseRecord failed: %v", err)
		}
		if rec.CoverageName != "身故保险金" || rec.Status != domain.StatusParsed {
			t.Errorf("unexpected record %+v", rec)
		}
		if rec.ClauseHash == "" {
			t.Error("expected clause hash on record")
		}
	})

	t.Run("FailedJob", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &stubParser{})
		w.Start(Config{TenantIDs: []string{"tenant-fail"}})
		defer w.Stop()

		events := subscribeEvents(t, eventBus, "tenant-fail", domain.TopicParseFailed)
		publishJob(t, eventBus, "tenant-fail", domain.ParseJob{
			RecordID: "rec-fail",
			Input:    domain.ClauseInput{Text: "fail", CoverageType: domain.CoverageDeath},
		})

		ev := awaitEvent(t, events)
		if ev.Status != domain.StatusFailed || ev.Failure == nil || ev.Failure.Kind != domain.KindTimeout {
			t.Errorf("unexpected event %+v", ev)
		}
	})

	t.Run("JobOwnedByTenant", func(t *testing.T) {
		repo := newRepo(t)
		w := NewWorker(eventBus, repo, &stubParser{})
		w.Start(Config{})
		defer w.Stop()

		events := subscribeEvents(t, eventBus, "tenant-owner", domain.TopicParseCompleted)
		publishJob(t, eventBus, GlobalTenantID, domain.ParseJob{
			RecordID: "rec-owned",
			TenantID: "tenant-owner",
			Input:    domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDeath},
		})

		if ev := awaitEvent(t, events); ev.RecordID != "rec-owned" {
			t.Errorf("unexpected event %+v", ev)
		}
		if _, err := repo.GetParseRecord(context.Background(), "tenant-owner", "rec-owned"); err != nil {
			t.Errorf("record not stored under owning tenant: %v", err)
		}
		if _, err := repo.GetParseRecord(context.Background(), GlobalTenantID, "rec-owned"); err == nil {
			t.Error("record must not be stored under the shared tenant")
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		p := &stubParser{}
		w := NewWorker(eventBus, nil, p)
		w.Start(Config{})
		defer w.Stop()

		err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{")})
		if err == nil {
			t.Error("expected decode error")
		}
		if p.calls.Load() != 0 {
			t.Error("parser must not run for a malformed job")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &stubParser{})
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		if stats := w.GetStats(); stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("GlobalByDefault", func(t *testing.T) {
		w := NewWorker(eventBus, nil, &stubParser{})
		w.Start(Config{})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicParseRequested {
			t.Errorf("unexpected stats %+v", stats)
		}
	})
}
