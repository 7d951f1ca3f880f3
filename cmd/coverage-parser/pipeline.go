package main

import (
	"fmt"
	"log/slog"

	"github.com/insurelab/coverage-parser/internal/applicability"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/formula"
	"github.com/insurelab/coverage-parser/internal/gate"
	"github.com/insurelab/coverage-parser/internal/hardrule"
	"github.com/insurelab/coverage-parser/internal/llm"
	"github.com/insurelab/coverage-parser/internal/metrics"
	"github.com/insurelab/coverage-parser/internal/parser"
	"github.com/insurelab/coverage-parser/internal/patterns"
)

// pipeline is the parse stack shared by every subcommand. One gate and
// one cache per process.
type pipeline struct {
	orchestrator *parser.Orchestrator
	calc         *calculator.Calculator
	checker      *applicability.Checker
	store        domain.Cache
	results      *cache.ResultCache
	gate         *gate.Gate
	metrics      *metrics.Metrics
}

func newPipeline(cfg *domain.Config) (*pipeline, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
	}

	g := gate.New(cfg.Gate.HardTimeout, gate.WithDepthObserver(m.SetGateDepth))

	completer, err := llm.NewCompleter(cfg.Model)
	if err != nil {
		g.Close()
		return nil, err
	}
	client, err := llm.New(completer, g, cfg.Model, llm.WithObserver(func(s llm.CallStats) {
		kind := string(s.Kind)
		if kind == "" {
			kind = "ok"
		}
		m.ObserveModelCall(s.Provider, kind, s.Duration, s.Usage.InputTokens, s.Usage.OutputTokens, s.Repairs)
	}))
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("model client: %w", err)
	}

	eval, err := formula.NewEvaluator()
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("formula evaluator: %w", err)
	}

	store, err := cache.New(cfg.Cache)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}
	results := cache.NewResultCache(store, cfg.Parser.CacheTTL)

	calc := calculator.New(eval)
	checker := applicability.New()
	rules := hardrule.New(patterns.Default(), cfg.Parser.HardRuleAuthority)

	orch := parser.New(client, rules, checker, calc, cfg.Parser,
		parser.WithCache(results),
		parser.WithMetrics(m),
	)

	slog.Info("pipeline initialized",
		"model_provider", client.Provider(),
		"cache", cfg.Cache.Type,
		"metrics", m != nil,
	)
	return &pipeline{
		orchestrator: orch,
		calc:         calc,
		checker:      checker,
		store:        store,
		results:      results,
		gate:         g,
		metrics:      m,
	}, nil
}

func (p *pipeline) Close() {
	if err := p.gate.Close(); err != nil {
		slog.Warn("failed to close gate", "error", err)
	}
	if err := p.store.Close(); err != nil {
		slog.Warn("failed to close cache", "error", err)
	}
}
