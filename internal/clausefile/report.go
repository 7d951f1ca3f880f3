package clausefile

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Stats aggregates a parsed batch.
type Stats struct {
	Total          int
	ByStatus       map[domain.OutcomeStatus]int
	ByMethod       map[domain.ParseMethod]int
	NeedsReview    int
	MeanConfidence float64
}

// Tally computes batch statistics. Confidence is averaged over parsed
// results only.
func Tally(outcomes []*domain.Outcome) Stats {
	s := Stats{
		Total:    len(outcomes),
		ByStatus: make(map[domain.OutcomeStatus]int),
		ByMethod: make(map[domain.ParseMethod]int),
	}
	var sum float64
	parsed := 0
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		s.ByStatus[o.Status]++
		switch {
		case o.Result != nil:
			s.ByMethod[o.Result.ParseMethod]++
			sum += o.Result.OverallConfidence
			parsed++
			if needsReview(o.Result) {
				s.NeedsReview++
			}
		case o.NotApplicable != nil:
			s.ByMethod[o.NotApplicable.ParseMethod]++
		}
	}
	if parsed > 0 {
		s.MeanConfidence = sum / float64(parsed)
	}
	return s
}

func needsReview(r *domain.ParsedResult) bool {
	if len(r.Caveats) > 0 {
		return true
	}
	a := r.AuxiliaryFields
	return a.PayoutCount.NeedsReview || a.IntervalPeriod.NeedsReview || a.Grouping.NeedsReview ||
		a.RepeatablePayout.NeedsReview || a.PremiumWaiver.NeedsReview
}

// WriteReport prints one line per record followed by the batch totals.
// records and outcomes are matched by index.
func WriteReport(w io.Writer, records []Record, outcomes []*domain.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tTYPE\tSTATUS\tMETHOD\tCONFIDENCE\tNAME\tNOTE")
	for i, rec := range records {
		var o *domain.Outcome
		if i < len(outcomes) {
			o = outcomes[i]
		}
		status, method, confidence, note := describe(o)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Serial, rec.CoverageType, status, method, confidence, rec.CoverageName, note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := Tally(outcomes)
	fmt.Fprintf(w, "\ntotal %d, parsed %d, not applicable %d, failed %d, needs review %d, mean confidence %.2f\n",
		s.Total, s.ByStatus[domain.StatusParsed], s.ByStatus[domain.StatusNotApplicable],
		s.ByStatus[domain.StatusFailed], s.NeedsReview, s.MeanConfidence)

	methods := make([]string, 0, len(s.ByMethod))
	for m := range s.ByMethod {
		methods = append(methods, string(m))
	}
	slices.Sort(methods)
	for _, m := range methods {
		fmt.Fprintf(w, "  %-20s %d\n", m, s.ByMethod[domain.ParseMethod(m)])
	}
	return nil
}

func describe(o *domain.Outcome) (status, method, confidence, note string) {
	switch {
	case o == nil:
		return "missing", "-", "-", ""
	case o.Result != nil:
		if len(o.Result.Caveats) > 0 {
			note = o.Result.Caveats[0]
		}
		return string(o.Status), string(o.Result.ParseMethod), fmt.Sprintf("%.2f", o.Result.OverallConfidence), note
	case o.NotApplicable != nil:
		return string(o.Status), string(o.NotApplicable.ParseMethod), "-", o.NotApplicable.Reason
	case o.Failure != nil:
		return string(o.Status), "-", "-", string(o.Failure.Kind) + ": " + o.Failure.Message
	}
	return string(o.Status), "-", "-", ""
}
