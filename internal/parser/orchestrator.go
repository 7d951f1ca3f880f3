// Package parser coordinates the model, the hard rules, the result cache,
// the applicability check and the payout calculator for one clause.
package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/insurelab/coverage-parser/internal/applicability"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/hardrule"
	"github.com/insurelab/coverage-parser/internal/metrics"
)

// ModelParser is the model-backed parser. *llm.Client implements it.
// Errors are expected to be *domain.ParseFailure.
type ModelParser interface {
	Parse(ctx context.Context, in domain.ClauseInput) (*domain.ParsedResult, error)
}

// ResultStore caches merged results. *cache.ResultCache implements it.
type ResultStore interface {
	Get(ctx context.Context, key string) (*domain.ParsedResult, error)
	Put(ctx context.Context, key string, result *domain.ParsedResult) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables result caching.
func WithCache(store ResultStore) Option {
	return func(o *Orchestrator) { o.cache = store }
}

// WithMetrics records parse metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock overrides the clock used for the current year and timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs the parse pipeline.
type Orchestrator struct {
	model   ModelParser
	rules   *hardrule.Extractor
	checker *applicability.Checker
	calc    *calculator.Calculator
	cache   ResultStore
	metrics *metrics.Metrics
	cfg     domain.ParserConfig
	now     func() time.Time
	tracer  trace.Tracer
	flight  singleflight.Group
}

// New creates an orchestrator.
func New(model ModelParser, rules *hardrule.Extractor, checker *applicability.Checker, calc *calculator.Calculator, cfg domain.ParserConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model:   model,
		rules:   rules,
		checker: checker,
		calc:    calc,
		cfg:     cfg,
		now:     time.Now,
		tracer:  otel.Tracer("coverage-parser/parser"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg.FallbackConfidence <= 0 {
		o.cfg.FallbackConfidence = 0.5
	}
	if o.cfg.BatchConcurrency <= 0 {
		o.cfg.BatchConcurrency = 4
	}
	return o
}

// Parse runs the pipeline for one clause. It never returns an error; every
// failure is carried in the outcome.
func (o *Orchestrator) Parse(ctx context.Context, in domain.ClauseInput) (out *domain.Outcome) {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.parse",
		trace.WithAttributes(attribute.String("coverage.type", string(in.CoverageType))),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("parse panicked", "panic", r)
			out = domain.Failed(domain.NewFailure(domain.KindInternal, fmt.Sprint(r), nil))
		}
		o.finish(span, in, out, o.now().Sub(start))
	}()

	if err := in.Validate(); err != nil {
		return domain.Failed(domain.NewFailure(domain.KindInvalidInput, err.Error(), err))
	}

	key := cache.Key(in.CoverageType, in.Text)
	span.SetAttributes(attribute.String("clause.hash", key))

	result, failure := o.resolve(ctx, in, key)
	if failure != nil {
		return domain.Failed(failure)
	}
	result.ClauseHash = key
	result.CoverageType = in.CoverageType

	if na := o.evaluate(result, in.PolicyInfo); na != nil {
		return domain.Inapplicable(na)
	}
	return domain.Parsed(result)
}

func (o *Orchestrator) finish(span trace.Span, in domain.ClauseInput, out *domain.Outcome, d time.Duration) {
	if out == nil {
		return
	}
	method := ""
	switch {
	case out.Result != nil:
		method = string(out.Result.ParseMethod)
	case out.NotApplicable != nil:
		method = string(out.NotApplicable.ParseMethod)
	}
	span.SetAttributes(
		attribute.String("parse.status", string(out.Status)),
		attribute.String("parse.method", method),
	)

	attrs := []any{
		"coverage_type", in.CoverageType,
		"status", out.Status,
		"parse_method", method,
		"duration_ms", d.Milliseconds(),
	}
	if out.Failure != nil {
		span.SetStatus(codes.Error, out.Failure.Message)
		slog.Warn("parse failed", append(attrs, "kind", out.Failure.Kind, "error", out.Failure.Message)...)
	} else {
		slog.Info("clause parsed", attrs...)
	}
	o.metrics.ObserveParse(string(in.CoverageType), string(out.Status), method, d)
}

// resolve returns a merged, policy-independent result from the cache or a
// fresh parse. The returned result is private to the caller.
func (o *Orchestrator) resolve(ctx context.Context, in domain.ClauseInput, key string) (*domain.ParsedResult, *domain.ParseFailure) {
	if o.cache != nil {
		cached, err := o.cache.Get(ctx, key)
		if err != nil {
			slog.Warn("cache lookup failed", "clause_hash", key, "error", err)
		}
		o.metrics.CacheLookup(cached != nil)
		if cached != nil {
			aux := o.rules.ExtractAuxiliaryFields(in.Text)
			hints := o.rules.ExtractTierHints(in.Text)
			o.merge(cached, aux, hints, in.Text)
			cached.ParseMethod = domain.MethodCache
			return cached, nil
		}
	}

	v, err, shared := o.flight.Do(key, func() (any, error) {
		return o.parseFresh(ctx, in, key)
	})
	if err != nil {
		var pf *domain.ParseFailure
		if errors.As(err, &pf) {
			return nil, pf
		}
		return nil, domain.NewFailure(domain.ClassifyError(err), err.Error(), err)
	}
	if shared {
		slog.Debug("parse shared with concurrent caller", "clause_hash", key)
	}
	return clone(v.(*domain.ParsedResult)), nil
}

// parseFresh runs the model and the hard rules side by side, merges them
// and applies the fallback ladder.
func (o *Orchestrator) parseFresh(ctx context.Context, in domain.ClauseInput, key string) (*domain.ParsedResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.parse_fresh")
	defer span.End()

	var (
		wg       sync.WaitGroup
		modelRes *domain.ParsedResult
		modelErr error
		aux      domain.AuxiliaryFields
		hints    hardrule.TierHints
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				modelErr = domain.NewFailure(domain.KindInternal, fmt.Sprintf("model parser panicked: %v", r), nil)
			}
		}()
		modelRes, modelErr = o.model.Parse(ctx, in)
	}()
	go func() {
		defer wg.Done()
		aux = o.rules.ExtractAuxiliaryFields(in.Text)
		hints = o.rules.ExtractTierHints(in.Text)
	}()
	wg.Wait()

	if modelErr != nil {
		kind := domain.ClassifyError(modelErr)
		span.SetAttributes(attribute.String("model.failure", string(kind)))
		if !kind.Transient() {
			return nil, asFailure(modelErr)
		}
		r, ok := o.fallback(in, aux, hints, domain.MethodHardRuleFallback)
		o.metrics.Fallback(string(kind), ok)
		if !ok {
			return nil, asFailure(modelErr)
		}
		r.Caveats = append(r.Caveats, fmt.Sprintf("model unavailable (%s); result produced by deterministic rules, review before use", kind))
		slog.Warn("model failed, hard-rule fallback used", "clause_hash", key, "kind", kind)
		// Degraded results are not cached so the next request retries the model.
		return r, nil
	}

	result := modelRes
	if result.Unrecovered() {
		r, ok := o.fallback(in, aux, hints, domain.MethodHardRule)
		o.metrics.Fallback(string(domain.KindMalformed), ok)
		if !ok {
			o.merge(result, aux, hints, in.Text)
			result.Caveats = append(result.Caveats, "model output could not be interpreted; description holds the raw answer")
			return result, nil
		}
		r.Warnings = append(r.Warnings, result.Warnings...)
		r.Caveats = append(r.Caveats, "model output could not be interpreted; tiers produced by deterministic rules")
		o.store(ctx, key, r)
		return r, nil
	}

	o.merge(result, aux, hints, in.Text)
	o.store(ctx, key, result)
	return result, nil
}

func (o *Orchestrator) store(ctx context.Context, key string, r *domain.ParsedResult) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, key, r); err != nil {
		slog.Warn("cache store failed", "clause_hash", key, "error", err)
	}
}

// fallback builds a result from the narrow deterministic parser.
func (o *Orchestrator) fallback(in domain.ClauseInput, aux domain.AuxiliaryFields, hints hardrule.TierHints, method domain.ParseMethod) (*domain.ParsedResult, bool) {
	tiers, ok := o.rules.FallbackParse(in.Text)
	if !ok {
		return nil, false
	}
	r := &domain.ParsedResult{
		OverallConfidence: o.cfg.FallbackConfidence,
		ParseMethod:       method,
		CoverageType:      in.CoverageType,
	}
	r.PayoutAmount.Tiers = tiers
	o.merge(r, aux, hints, in.Text)
	r.ParseMethod = method
	return r, true
}

// merge folds the hard-rule fields into r. A hard-rule value always wins;
// model values below the review threshold are flagged.
func (o *Orchestrator) merge(r *domain.ParsedResult, aux domain.AuxiliaryFields, hints hardrule.TierHints, text string) {
	r.PayoutCount = pick(r.PayoutCount, aux.PayoutCount, o.cfg.ModelReviewThreshold)
	r.IntervalPeriod = pick(r.IntervalPeriod, aux.IntervalPeriod, o.cfg.ModelReviewThreshold)
	r.Grouping = pick(r.Grouping, aux.Grouping, o.cfg.ModelReviewThreshold)
	r.RepeatablePayout = pick(r.RepeatablePayout, aux.RepeatablePayout, o.cfg.ModelReviewThreshold)
	r.PremiumWaiver = pick(r.PremiumWaiver, aux.PremiumWaiver, o.cfg.ModelReviewThreshold)

	hints.ApplyTo(r.PayoutAmount.Tiers)
	if hints.TerminatesContract {
		r.TerminatesContract = true
	}
	for i := range r.PayoutAmount.Tiers {
		t := &r.PayoutAmount.Tiers[i]
		if t.Period == "" {
			t.Period = PeriodLabel(*t)
		}
		if t.FormulaType == "" || t.FormulaType == domain.FormulaUnknown {
			t.FormulaType = calculator.InferFormulaType(t)
		}
	}

	r.ParseMethodDetails = r.Sources()
	if r.ParseMethod == domain.MethodLLM || r.ParseMethod == "" {
		r.ParseMethod = domain.MethodLLM
		for _, s := range r.ParseMethodDetails {
			if s == domain.SourceHardRule {
				r.ParseMethod = domain.MethodHybrid
				break
			}
		}
	}

	if r.NaturalLanguageDescription == "" {
		r.NaturalLanguageDescription = Describe(text, r.PayoutAmount.Tiers)
	}
	if r.ParsedAt.IsZero() {
		r.ParsedAt = o.now().UTC()
	}
	for field, review := range map[string]bool{
		domain.FieldPayoutCount:      r.PayoutCount.NeedsReview,
		domain.FieldIntervalPeriod:   r.IntervalPeriod.NeedsReview,
		domain.FieldGrouping:         r.Grouping.NeedsReview,
		domain.FieldRepeatablePayout: r.RepeatablePayout.NeedsReview,
		domain.FieldPremiumWaiver:    r.PremiumWaiver.NeedsReview,
	} {
		if review {
			o.metrics.NeedsReview(field)
		}
	}
}

func pick[T any](model, rule domain.Field[T], reviewThreshold float64) domain.Field[T] {
	if rule.Present() {
		return rule
	}
	if model.Present() {
		if model.Confidence < reviewThreshold {
			model.NeedsReview = true
		}
		return model
	}
	model.Source = domain.SourceNone
	return model
}

// evaluate checks applicability and calculates amounts. It returns a
// not-applicable answer when no tier applies or the cover has ended.
func (o *Orchestrator) evaluate(r *domain.ParsedResult, facts *domain.PolicyFacts) *domain.NotApplicable {
	if facts == nil {
		return nil
	}
	year := o.now().Year()

	verdicts := o.checker.CheckAll(r.PayoutAmount.Tiers, facts, year)
	if none, idx, v := applicability.Summary(verdicts); none {
		return &domain.NotApplicable{
			Reason:       v.Reason,
			Gate:         string(v.Gate),
			TierIndex:    idx,
			ParseMethod:  r.ParseMethod,
			CoverageType: r.CoverageType,
			ClauseHash:   r.ClauseHash,
		}
	}

	for i := range r.PayoutAmount.Tiers {
		t := &r.PayoutAmount.Tiers[i]
		if !verdicts[i].Applicable || t.InWaitingPeriod() {
			continue
		}
		amounts, warnings := o.calc.Calculate(t, facts, year)
		t.Amounts = amounts
		t.Warnings = warnings
		for _, w := range warnings {
			slog.Debug("calculation warning", "clause_hash", r.ClauseHash, "tier", i, "warning", w)
		}
	}
	return nil
}

func asFailure(err error) *domain.ParseFailure {
	var pf *domain.ParseFailure
	if errors.As(err, &pf) {
		return pf
	}
	return domain.NewFailure(domain.ClassifyError(err), err.Error(), err)
}

// clone copies a result so that per-request evaluation never touches a
// result shared between concurrent callers.
func clone(r *domain.ParsedResult) *domain.ParsedResult {
	c := *r
	c.PayoutAmount.Tiers = slices.Clone(r.PayoutAmount.Tiers)
	for i := range c.PayoutAmount.Tiers {
		t := &c.PayoutAmount.Tiers[i]
		t.Ratio = slices.Clone(t.Ratio)
		t.Amounts = slices.Clone(t.Amounts)
		t.Warnings = slices.Clone(t.Warnings)
	}
	c.Caveats = slices.Clone(r.Caveats)
	c.Warnings = slices.Clone(r.Warnings)
	if r.ParseMethodDetails != nil {
		c.ParseMethodDetails = make(map[string]domain.FieldSource, len(r.ParseMethodDetails))
		for k, v := range r.ParseMethodDetails {
			c.ParseMethodDetails[k] = v
		}
	}
	return &c
}
