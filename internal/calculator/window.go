package calculator

import (
	"fmt"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Window is an inclusive range of calendar years.
type Window struct {
	From int
	To   int
}

// Empty reports whether the window holds no year.
func (w Window) Empty() bool {
	return w.From > w.To
}

func (w Window) intersect(o Window) Window {
	return Window{From: max(w.From, o.From), To: min(w.To, o.To)}
}

var (
	duringPaymentCues = []string{"交费期内", "交费期间内", "缴费期内", "交费期间届满前", "交费期满前"}
	afterPaymentCues  = []string{"交费期满后", "交费期满", "交费期间届满", "缴费期满"}
)

// paymentCue reads the payment-period status from the tier, falling back to
// cues in the period prose.
func paymentCue(tier *domain.PayoutTier) domain.PaymentStatus {
	if tier.PaymentPeriodStatus != "" {
		return tier.PaymentPeriodStatus
	}
	for _, c := range duringPaymentCues {
		if strings.Contains(tier.Period, c) {
			return domain.PaymentDuring
		}
	}
	for _, c := range afterPaymentCues {
		if strings.Contains(tier.Period, c) {
			return domain.PaymentAfter
		}
	}
	return ""
}

// YearWindow returns the calendar years a tier pays in, starting no earlier
// than year. The first applicable rule wins: policy-year range, then age
// condition, then payment period, then the rest of the cover.
func YearWindow(tier *domain.PayoutTier, facts *domain.PolicyFacts, year int) (Window, []string) {
	cover := Window{From: max(year, facts.PolicyStartYear), To: facts.EndYear()}

	if r := tier.PolicyYearRange; r != nil {
		w := Window{From: facts.PolicyStartYear + r.StartYear - 1, To: cover.To}
		if r.EndYear != nil {
			w.To = facts.PolicyStartYear + *r.EndYear - 1
		}
		return w.intersect(cover), nil
	}

	if c := tier.AgeCondition; c != nil {
		if c.ReferenceTime == domain.AtInception {
			if c.Allows(facts.AgeIn(facts.PolicyStartYear)) {
				return cover, nil
			}
			return Window{From: cover.From, To: cover.From - 1}, nil
		}
		lo, hi := c.Bounds()
		w := cover
		if lo >= 0 {
			w.From = max(w.From, facts.BirthYear+lo)
		}
		if hi >= 0 {
			w.To = min(w.To, facts.BirthYear+hi)
		}
		return w, nil
	}

	if status := paymentCue(tier); status != "" {
		t := facts.TotalPaymentPeriodYears
		if t <= 0 {
			return cover, []string{fmt.Sprintf("payment period status %q ignored: total payment period unknown", status)}
		}
		lastPaid := facts.PolicyStartYear + t - 1
		if status == domain.PaymentDuring {
			return Window{From: cover.From, To: min(cover.To, lastPaid)}, nil
		}
		return Window{From: max(cover.From, lastPaid+1), To: cover.To}, nil
	}

	return cover, nil
}
