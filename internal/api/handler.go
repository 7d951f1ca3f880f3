package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/insurelab/coverage-parser/internal/applicability"
	"github.com/insurelab/coverage-parser/internal/bus"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/parser"
	"github.com/insurelab/coverage-parser/internal/worker"
)

const (
	// MaxBatchItems caps POST /parse/batch.
	MaxBatchItems = 200

	maxBodyBytes = 4 << 20
)

// Parser runs clauses through the pipeline. *parser.Orchestrator implements it.
type Parser interface {
	Parse(ctx context.Context, in domain.ClauseInput) *domain.Outcome
	ParseBatch(ctx context.Context, inputs []domain.ClauseInput) []*domain.Outcome
}

// Handler holds dependencies for API handlers.
type Handler struct {
	parser  Parser
	calc    *calculator.Calculator
	checker *applicability.Checker
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
	now     func() time.Time
}

// NewHandler creates a new API handler. repo, cache and bus may be nil.
func NewHandler(deps Deps) *Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	checker := deps.Checker
	if checker == nil {
		checker = applicability.New()
	}
	return &Handler{
		parser:  deps.Parser,
		calc:    deps.Calculator,
		checker: checker,
		repo:    deps.Repository,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: deps.Version,
		now:     now,
	}
}

// ParseRequest is the request body for POST /parse and one item of a batch.
type ParseRequest struct {
	Text             string              `json:"text"`
	CoverageType     domain.CoverageType `json:"coverageType"`
	PolicyInfo       *domain.PolicyFacts `json:"policyInfo,omitempty"`
	CoverageName     string              `json:"coverageName,omitempty"`
	PolicyDocumentID string              `json:"policyDocumentId,omitempty"`
}

func (r ParseRequest) input() domain.ClauseInput {
	return domain.ClauseInput{Text: r.Text, CoverageType: r.CoverageType, PolicyInfo: r.PolicyInfo}
}

// Metadata is attached to every parse response.
type Metadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// ParseResponse is the response for POST /parse.
type ParseResponse struct {
	RecordID string `json:"recordId,omitempty"`
	*domain.Outcome
	Metadata Metadata `json:"metadata"`
}

// Parse handles POST /parse.
func (h *Handler) Parse(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := TenantID(ctx)

	var req ParseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	outcome := h.parser.Parse(ctx, req.input())
	if isInvalid(outcome) {
		writeJSON(w, http.StatusBadRequest, ParseResponse{Outcome: outcome, Metadata: h.metadata(ctx, start)})
		return
	}

	resp := ParseResponse{Outcome: outcome}
	resp.RecordID = h.save(ctx, tenantID, req, outcome)
	resp.Metadata = h.metadata(ctx, start)
	writeJSON(w, http.StatusOK, resp)
}

// BatchRequest is the request body for POST /parse/batch.
type BatchRequest struct {
	Items []ParseRequest `json:"items"`
}

// BatchResponse keeps outcomes in request order.
type BatchResponse struct {
	Outcomes  []*domain.Outcome   `json:"outcomes"`
	RecordIDs []string            `json:"recordIds"`
	Summary   parser.BatchSummary `json:"summary"`
	Metadata  Metadata            `json:"metadata"`
}

// ParseBatch handles POST /parse/batch.
func (h *Handler) ParseBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := TenantID(ctx)

	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(req.Items) > MaxBatchItems {
		writeError(w, http.StatusRequestEntityTooLarge, "too many items in batch")
		return
	}

	inputs := make([]domain.ClauseInput, len(req.Items))
	for i, item := range req.Items {
		inputs[i] = item.input()
	}
	outcomes := h.parser.ParseBatch(ctx, inputs)

	ids := make([]string, len(outcomes))
	for i, o := range outcomes {
		if !isInvalid(o) {
			ids[i] = h.save(ctx, tenantID, req.Items[i], o)
		}
	}

	summary := parser.Summarize(outcomes)
	slog.Info("batch parsed",
		"tenant_id", tenantID,
		"total", summary.Total,
		"parsed", summary.Parsed,
		"not_applicable", summary.NotApplicable,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	writeJSON(w, http.StatusOK, BatchResponse{
		Outcomes:  outcomes,
		RecordIDs: ids,
		Summary:   summary,
		Metadata:  h.metadata(ctx, start),
	})
}

// AsyncResponse is the response for POST /parse/async.
type AsyncResponse struct {
	RecordID string               `json:"recordId"`
	Status   domain.OutcomeStatus `json:"status"`
}

// ParseAsync handles POST /parse/async. The job is published on the shared
// worker subject and the record is stored as pending until a worker
// finishes it.
func (h *Handler) ParseAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	var req ParseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	in := req.input()
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := domain.ParseJob{
		RecordID:     uuid.New().String(),
		TenantID:     tenantID,
		Input:        in,
		CoverageName: req.CoverageName,
		PolicyDocID:  req.PolicyDocumentID,
	}

	if h.repo != nil {
		rec := &domain.ParseRecord{
			ID:           job.RecordID,
			ClauseHash:   cache.Key(in.CoverageType, in.Text),
			CoverageType: in.CoverageType,
			CoverageName: req.CoverageName,
			PolicyDocID:  req.PolicyDocumentID,
			ClauseText:   in.Text,
			Status:       domain.StatusPending,
		}
		if err := h.repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
			slog.Error("failed to save pending record", "record_id", job.RecordID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save record")
			return
		}
	}

	payload, err := bus.EncodeJob(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode job")
		return
	}
	if err := h.bus.Publish(ctx, worker.GlobalTenantID, domain.TopicParseRequested, payload); err != nil {
		slog.Error("failed to publish parse job", "record_id", job.RecordID, "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, bus.ErrBacklogged) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "failed to queue parse job")
		return
	}

	writeJSON(w, http.StatusAccepted, AsyncResponse{RecordID: job.RecordID, Status: domain.StatusPending})
}

// CalculateRequest is the request body for POST /calculate.
type CalculateRequest struct {
	Tier       domain.PayoutTier   `json:"tier"`
	PolicyInfo *domain.PolicyFacts `json:"policyInfo"`

	// Year defaults to the current calendar year.
	Year int `json:"year,omitempty"`
}

// CalculateResponse is the response for POST /calculate.
type CalculateResponse struct {
	Applicable  bool                      `json:"applicable"`
	Reason      string                    `json:"reason,omitempty"`
	Gate        string                    `json:"gate,omitempty"`
	FormulaType domain.FormulaType        `json:"formulaType"`
	Amounts     []domain.CalculatedAmount `json:"amounts"`
	Warnings    []string                  `json:"warnings,omitempty"`
}

// Calculate handles POST /calculate: one tier against one policyholder.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.PolicyInfo == nil {
		writeError(w, http.StatusBadRequest, "policyInfo is required")
		return
	}
	if err := req.PolicyInfo.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	year := req.Year
	if year == 0 {
		year = h.now().Year()
	}

	tier := req.Tier
	resp := CalculateResponse{FormulaType: calculator.InferFormulaType(&tier), Amounts: []domain.CalculatedAmount{}}

	v := h.checker.Check(&tier, req.PolicyInfo, year)
	if !v.Applicable {
		resp.Reason = v.Reason
		resp.Gate = string(v.Gate)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Applicable = true
	amounts, warnings := h.calc.Calculate(&tier, req.PolicyInfo, year)
	if amounts != nil {
		resp.Amounts = amounts
	}
	resp.Warnings = warnings
	writeJSON(w, http.StatusOK, resp)
}

// GetRecord retrieves a parse record by ID.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)
	id := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	rec, err := h.repo.GetParseRecord(ctx, tenantID, id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		slog.Error("failed to get record", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get record")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListRecords returns stored records, newest first.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := TenantID(ctx)

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	q := r.URL.Query()
	filter := domain.RecordFilter{
		CoverageType: domain.CoverageType(q.Get("coverageType")),
		Status:       domain.OutcomeStatus(q.Get("status")),
	}
	if filter.CoverageType != "" && !filter.CoverageType.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported coverageType")
		return
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	records, err := h.repo.ListParseRecords(ctx, tenantID, filter)
	if err != nil {
		slog.Error("failed to list records", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}
	if records == nil {
		records = []*domain.ParseRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   len(records),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// save persists a finished outcome and returns the record id, or "" when
// no repository is configured or the write failed.
func (h *Handler) save(ctx context.Context, tenantID string, req ParseRequest, outcome *domain.Outcome) string {
	if h.repo == nil {
		return ""
	}
	rec := &domain.ParseRecord{
		ID:           uuid.New().String(),
		ClauseHash:   cache.Key(req.CoverageType, req.Text),
		CoverageType: req.CoverageType,
		CoverageName: req.CoverageName,
		PolicyDocID:  req.PolicyDocumentID,
		ClauseText:   req.Text,
		Outcome:      outcome,
	}
	if err := h.repo.SaveParseRecord(ctx, tenantID, rec); err != nil {
		slog.Error("failed to save parse record", "error", err)
		return ""
	}
	return rec.ID
}

func (h *Handler) metadata(ctx context.Context, start time.Time) Metadata {
	return Metadata{
		TraceID: TraceID(ctx),
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}
}

func isInvalid(o *domain.Outcome) bool {
	return o.Failure != nil && o.Failure.Kind == domain.KindInvalidInput
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
