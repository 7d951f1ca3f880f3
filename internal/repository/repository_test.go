package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/insurelab/coverage-parser/internal/domain"
)

func parsedOutcome(method domain.ParseMethod, confidence float64) *domain.Outcome {
	return domain.Parsed(&domain.ParsedResult{
		PayoutAmount: domain.PayoutAmount{Tiers: []domain.PayoutTier{{
			WaitingPeriodStatus: domain.WaitingAfter,
			Formula:             "基本保额×100%",
			FormulaType:         domain.FormulaPercentage,
			Percentage:          100,
		}}},
		OverallConfidence: confidence,
		ParseMethod:       method,
		CoverageType:      domain.CoverageDisease,
		ClauseHash:        "hash-001",
	})
}

func TestSQLiteRepository(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "coverage-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetParseRecord", func(t *testing.T) {
		rec := &domain.ParseRecord{
			ID:           "rec-001",
			CoverageType: domain.CoverageDisease,
			CoverageName: "重大疾病保险金",
			PolicyDocID:  "doc-9",
			ClauseText:   "按基本保额给付",
			Outcome:      parsedOutcome(domain.MethodHybrid, 0.85),
		}
		if err := repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveParseRecord failed: %v", err)
		}

		got, err := repo.GetParseRecord(ctx, tenantID, rec.ID)
		if err != nil {
			t.Fatalf("GetParseRecord failed: %v", err)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, got.TenantID)
		}
		if got.Status != domain.StatusParsed || got.ParseMethod != domain.MethodHybrid {
			t.Errorf("expected parsed/hybrid, got %s/%s", got.Status, got.ParseMethod)
		}
		if got.Confidence != 0.85 {
			t.Errorf("expected confidence 0.85, got %.2f", got.Confidence)
		}
		if got.ClauseHash != "hash-001" {
			t.Errorf("expected clause hash from outcome, got %q", got.ClauseHash)
		}
		if got.Outcome == nil || got.Outcome.Result == nil {
			t.Fatal("expected outcome round-trip")
		}
		if tiers := got.Outcome.Result.PayoutAmount.Tiers; len(tiers) != 1 || tiers[0].Percentage != 100 {
			t.Errorf("unexpected tiers %+v", tiers)
		}
	})

	t.Run("SaveReplacesOutcome", func(t *testing.T) {
		rec := &domain.ParseRecord{
			ID:           "rec-002",
			CoverageType: domain.CoverageDeath,
			ClauseText:   "按已交保费给付",
			Outcome:      domain.Failed(domain.NewFailure(domain.KindTimeout, "model call timed out", nil)),
		}
		if err := repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveParseRecord failed: %v", err)
		}

		rec.Outcome = parsedOutcome(domain.MethodLLM, 0.9)
		if err := repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("second SaveParseRecord failed: %v", err)
		}

		got, err := repo.GetParseRecord(ctx, tenantID, rec.ID)
		if err != nil {
			t.Fatalf("GetParseRecord failed: %v", err)
		}
		if got.Status != domain.StatusParsed {
			t.Errorf("expected replaced status parsed, got %s", got.Status)
		}
	})

	t.Run("ListParseRecords", func(t *testing.T) {
		all, err := repo.ListParseRecords(ctx, tenantID, domain.RecordFilter{})
		if err != nil {
			t.Fatalf("ListParseRecords failed: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 records, got %d", len(all))
		}

		death, err := repo.ListParseRecords(ctx, tenantID, domain.RecordFilter{CoverageType: domain.CoverageDeath})
		if err != nil {
			t.Fatalf("ListParseRecords failed: %v", err)
		}
		if len(death) != 1 || death[0].ID != "rec-002" {
			t.Errorf("expected only rec-002, got %d records", len(death))
		}

		limited, err := repo.ListParseRecords(ctx, tenantID, domain.RecordFilter{Limit: 1})
		if err != nil {
			t.Fatalf("ListParseRecords failed: %v", err)
		}
		if len(limited) != 1 {
			t.Errorf("expected limit 1, got %d", len(limited))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetParseRecord(ctx, "tenant-002", "rec-001")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		others, err := repo.ListParseRecords(ctx, "tenant-002", domain.RecordFilter{})
		if err != nil {
			t.Fatalf("ListParseRecords failed: %v", err)
		}
		if len(others) != 0 {
			t.Errorf("expected no records for other tenant, got %d", len(others))
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		err := repo.SaveParseRecord(ctx, "", &domain.ParseRecord{ID: "x"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetParseRecord(ctx, "", "rec-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetParseRecord(ctx, tenantID, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Timestamps", func(t *testing.T) {
		got, err := repo.GetParseRecord(ctx, tenantID, "rec-001")
		if err != nil {
			t.Fatalf("GetParseRecord failed: %v", err)
		}
		if time.Since(got.CreatedAt) > time.Minute {
			t.Errorf("unexpected created_at %s", got.CreatedAt)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "u", PostgresPassword: "p"})
	want := "host=localhost port=5432 user=u password=p dbname=coverage sslmode=disable"
	if got != want {
		t.Errorf("postgresDSN = %q, want %q", got, want)
	}
}
