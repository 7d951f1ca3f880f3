package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/bus"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/formula"
	"github.com/insurelab/coverage-parser/internal/repository"
	"github.com/insurelab/coverage-parser/internal/worker"
)

// stubParser validates its input and answers with a single sum-insured tier.
type stubParser struct{}

func (stubParser) Parse(ctx context.Context, in domain.ClauseInput) *domain.Outcome {
	if err := in.Validate(); err != nil {
		return domain.Failed(domain.NewFailure(domain.KindInvalidInput, err.Error(), err))
	}
	return domain.Parsed(&domain.ParsedResult{
		PayoutAmount: domain.PayoutAmount{Tiers: []domain.PayoutTier{{
			WaitingPeriodStatus: domain.WaitingAfter,
			Formula:             "基本保额×100%",
			FormulaType:         domain.FormulaPercentage,
			Percentage:          100,
		}}},
		OverallConfidence: 0.9,
		ParseMethod:       domain.MethodLLM,
		CoverageType:      in.CoverageType,
	})
}

func (p stubParser) ParseBatch(ctx context.Context, inputs []domain.ClauseInput) []*domain.Outcome {
	out := make([]*domain.Outcome, len(inputs))
	for i, in := range inputs {
		out[i] = p.Parse(ctx, in)
	}
	return out
}

type testEnv struct {
	server *Server
	repo   *repository.SQLRepository
	bus    *bus.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	eval, err := formula.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	eventBus := bus.NewChannelBus(10)
	t.Cleanup(func() { eventBus.Close() })

	cfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	server := NewServer(cfg, Deps{
		Parser:     stubParser{},
		Calculator: calculator.New(eval),
		Repository: repo,
		Bus:        eventBus,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("coverage_parses_total 0\n"))
		}),
		Version: "test-v1",
		Now:     func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) },
	})
	return &testEnv{server: server, repo: repo, bus: eventBus}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, tenantID string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantIDHeader, tenantID)
	}
	rr := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestParseEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("SuccessfulParse", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", ParseRequest{
			Text:         "被保险人身故，按基本保额给付身故保险金。",
			CoverageType: domain.CoverageDeath,
			CoverageName: "身故保险金",
		}, "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[ParseResponse](t, rr)
		if resp.Outcome == nil || resp.Status != domain.StatusParsed || resp.Result == nil {
			t.Fatalf("unexpected outcome %s", rr.Body.String())
		}
		if resp.RecordID == "" {
			t.Fatal("expected recordId in response")
		}
		if resp.Metadata.Version != "test-v1" || resp.Metadata.TraceID == "" {
			t.Errorf("unexpected metadata %+v", resp.Metadata)
		}

		rec, err := env.repo.GetParseRecord(context.Background(), "tenant-001", resp.RecordID)
		if err != nil {
			t.Fatalf("record not persisted: %v", err)
		}
		if rec.CoverageName != "身故保险金" || rec.ParseMethod != domain.MethodLLM {
			t.Errorf("unexpected record %+v", rec)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", ParseRequest{Text: "  ", CoverageType: domain.CoverageDeath}, "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		resp := decode[ParseResponse](t, rr)
		if resp.Outcome == nil || resp.Failure == nil || resp.Failure.Kind != domain.KindInvalidInput {
			t.Errorf("expected invalid_input failure, got %s", rr.Body.String())
		}
		if resp.RecordID != "" {
			t.Error("invalid requests must not be persisted")
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", "{}", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TenantIDWithSubjectSeparator", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", "{}", "tenant.a")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", "not-json", "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse", ParseRequest{Text: "按基本保额给付", CoverageType: domain.CoverageDeath}, "tenant-001")
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get(TraceIDHeader) == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestParseBatchEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("KeepsOrder", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse/batch", BatchRequest{Items: []ParseRequest{
			{Text: "按基本保额给付", CoverageType: domain.CoverageDeath},
			{Text: "", CoverageType: domain.CoverageDeath},
			{Text: "按基本保额给付", CoverageType: domain.CoverageAccident},
		}}, "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[BatchResponse](t, rr)
		if len(resp.Outcomes) != 3 || len(resp.RecordIDs) != 3 {
			t.Fatalf("expected 3 outcomes and ids, got %d/%d", len(resp.Outcomes), len(resp.RecordIDs))
		}
		if resp.Outcomes[1].Status != domain.StatusFailed || resp.RecordIDs[1] != "" {
			t.Errorf("second item should fail without a record: %+v", resp.Outcomes[1])
		}
		if resp.Outcomes[2].Result.CoverageType != domain.CoverageAccident {
			t.Errorf("third outcome out of order: %+v", resp.Outcomes[2].Result)
		}
		if resp.Summary.Total != 3 || resp.Summary.Parsed != 2 || resp.Summary.Failed != 1 {
			t.Errorf("unexpected summary %+v", resp.Summary)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse/batch", BatchRequest{}, "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		items := make([]ParseRequest, MaxBatchItems+1)
		for i := range items {
			items[i] = ParseRequest{Text: "按基本保额给付", CoverageType: domain.CoverageDeath}
		}
		rr := env.do(t, http.MethodPost, "/parse/batch", BatchRequest{Items: items}, "tenant-001")
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})
}

func TestParseAsyncEndpoint(t *testing.T) {
	env := newTestEnv(t)

	jobs := make(chan domain.ParseJob, 1)
	env.bus.Subscribe(context.Background(), worker.GlobalTenantID, domain.TopicParseRequested, func(ctx context.Context, msg *domain.Message) error {
		job, err := bus.DecodeJob(msg.Payload)
		if err != nil {
			return err
		}
		jobs <- job
		return nil
	})

	t.Run("Accepted", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse/async", ParseRequest{
			Text:             "按基本保额给付",
			CoverageType:     domain.CoverageDeath,
			PolicyDocumentID: "doc-7",
		}, "tenant-async")
		if rr.Code != http.StatusAccepted {
			t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[AsyncResponse](t, rr)
		if resp.RecordID == "" || resp.Status != domain.StatusPending {
			t.Fatalf("unexpected response %+v", resp)
		}

		select {
		case job := <-jobs:
			if job.RecordID != resp.RecordID || job.TenantID != "tenant-async" || job.PolicyDocID != "doc-7" {
				t.Errorf("unexpected job %+v", job)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for published job")
		}

		rec, err := env.repo.GetParseRecord(context.Background(), "tenant-async", resp.RecordID)
		if err != nil {
			t.Fatalf("pending record not stored: %v", err)
		}
		if rec.Status != domain.StatusPending || rec.Outcome != nil {
			t.Errorf("unexpected pending record %+v", rec)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/parse/async", ParseRequest{Text: "x", CoverageType: "pet"}, "tenant-async")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NoBus", func(t *testing.T) {
		server := NewServer(domain.ServerConfig{}, Deps{Parser: stubParser{}})
		req := httptest.NewRequest(http.MethodPost, "/parse/async", bytes.NewBufferString(`{"text":"x","coverageType":"death"}`))
		req.Header.Set(TenantIDHeader, "tenant-async")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestCalculateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	tier := domain.PayoutTier{
		WaitingPeriodStatus: domain.WaitingAfter,
		Formula:             "基本保额×100%",
		Percentage:          100,
	}

	t.Run("Amounts", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculate", CalculateRequest{
			Tier: tier,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2020,
				CoverageEnd:     domain.EndingIn(2030),
				BasicSumInsured: 500000,
			},
		}, "tenant-001")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[CalculateResponse](t, rr)
		if !resp.Applicable || resp.FormulaType != domain.FormulaPercentage {
			t.Fatalf("unexpected response %+v", resp)
		}
		if len(resp.Amounts) != 5 {
			t.Fatalf("expected 2026..2030, got %d amounts", len(resp.Amounts))
		}
		if first := resp.Amounts[0]; first.Year != 2026 || first.Age != 36 || first.Amount != 50 {
			t.Errorf("unexpected first amount %+v", first)
		}
	})

	t.Run("CoverageEnded", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculate", CalculateRequest{
			Tier: tier,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2015,
				CoverageEnd:     domain.EndingIn(2025),
				BasicSumInsured: 500000,
			},
		}, "tenant-001")
		resp := decode[CalculateResponse](t, rr)
		if resp.Applicable || resp.Gate != "coverage_end" || len(resp.Amounts) != 0 {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("MissingPolicyInfo", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/calculate", CalculateRequest{Tier: tier}, "tenant-001")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRecordEndpoints(t *testing.T) {
	env := newTestEnv(t)
	for _, ct := range []domain.CoverageType{domain.CoverageDeath, domain.CoverageDisease, domain.CoverageDisease} {
		rr := env.do(t, http.MethodPost, "/parse", ParseRequest{Text: "按基本保额给付", CoverageType: ct}, "tenant-rec")
		if rr.Code != http.StatusOK {
			t.Fatalf("seed parse failed: %d", rr.Code)
		}
	}

	t.Run("ListFiltered", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/records?coverageType=disease", nil, "tenant-rec")
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		resp := decode[struct {
			Records []*domain.ParseRecord `json:"records"`
			Count   int                   `json:"count"`
		}](t, rr)
		if resp.Count != 2 {
			t.Fatalf("expected 2 disease records, got %d", resp.Count)
		}

		rr = env.do(t, http.MethodGet, "/records/"+resp.Records[0].ID, nil, "tenant-rec")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("OtherTenant", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/records", nil, "tenant-other")
		resp := decode[map[string]any](t, rr)
		if resp["count"].(float64) != 0 {
			t.Errorf("expected no records for another tenant, got %v", resp["count"])
		}
	})

	t.Run("BadFilters", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/records?coverageType=pet", nil, "tenant-rec"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for coverage type, got %d", rr.Code)
		}
		if rr := env.do(t, http.MethodGet, "/records?limit=-1", nil, "tenant-rec"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for limit, got %d", rr.Code)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/records/missing", nil, "tenant-rec")
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	t.Run("HealthCheck", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/health", nil, "")
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		resp := decode[map[string]string](t, rr)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("DegradedAfterBusClose", func(t *testing.T) {
		env := newTestEnv(t)
		env.bus.Close()
		resp := decode[map[string]string](t, env.do(t, http.MethodGet, "/health", nil, ""))
		if resp["status"] != "degraded" {
			t.Errorf("expected status 'degraded', got '%s'", resp["status"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		if rr := env.do(t, http.MethodGet, "/ready", nil, ""); rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/metrics", nil, "")
		if rr.Code != http.StatusOK || !bytes.Contains(rr.Body.Bytes(), []byte("coverage_parses_total")) {
			t.Errorf("unexpected metrics response %d: %s", rr.Code, rr.Body.String())
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = TenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = RequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})

	t.Run("TenantMiddlewareRejectsSubjectTokens", func(t *testing.T) {
		called := false
		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))

		for _, tenant := range []string{"", "a.b", "team*", "x>", "two words"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(TenantIDHeader, tenant)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Errorf("tenant %q: expected status 400, got %d", tenant, rr.Code)
			}
		}
		if called {
			t.Error("handler must not run for a rejected tenant")
		}
	})

	t.Run("TracingMiddlewareKeepsCallerRequestID", func(t *testing.T) {
		handler := TracingMiddleware(LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusTeapot {
			t.Errorf("expected status 418, got %d", rr.Code)
		}
		if got := rr.Header().Get(RequestIDHeader); got != "req-42" {
			t.Errorf("expected request id req-42, got %q", got)
		}
		// No tracer provider is installed, so the trace id mirrors the request id.
		if got := rr.Header().Get(TraceIDHeader); got != "req-42" {
			t.Errorf("expected trace id req-42, got %q", got)
		}
	})
}
