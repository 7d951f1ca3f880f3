package parser

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// ParseBatch parses every input and returns the outcomes in input order.
// Model calls still pass through the gate one at a time; the concurrency
// limit bounds the rule, cache and calculation work around them.
func (o *Orchestrator) ParseBatch(ctx context.Context, inputs []domain.ClauseInput) []*domain.Outcome {
	out := make([]*domain.Outcome, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.BatchConcurrency)
	for i, in := range inputs {
		g.Go(func() error {
			out[i] = o.Parse(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// BatchSummary counts outcomes by status.
type BatchSummary struct {
	Total         int `json:"total"`
	Parsed        int `json:"parsed"`
	NotApplicable int `json:"notApplicable"`
	Failed        int `json:"failed"`
}

// Summarize counts the outcomes of a batch.
func Summarize(outcomes []*domain.Outcome) BatchSummary {
	s := BatchSummary{Total: len(outcomes)}
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		switch o.Status {
		case domain.StatusParsed:
			s.Parsed++
		case domain.StatusNotApplicable:
			s.NotApplicable++
		case domain.StatusFailed:
			s.Failed++
		}
	}
	return s
}
