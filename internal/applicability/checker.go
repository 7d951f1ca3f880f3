// Package applicability decides whether a payout tier applies to a
// policyholder in a given calendar year.
package applicability

import (
	"fmt"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Gate names the check that rejected a tier.
type Gate string

const (
	GateNone        Gate = ""
	GateCoverageEnd Gate = "coverage_end"
	GateAge         Gate = "age"
	GatePolicyYear  Gate = "policy_year"
)

// Verdict is the outcome of a check.
type Verdict struct {
	Applicable bool   `json:"applicable"`
	Reason     string `json:"reason,omitempty"`
	Gate       Gate   `json:"gate,omitempty"`
}

var applicable = Verdict{Applicable: true}

// Checker evaluates tiers against policy facts.
type Checker struct{}

// New creates a checker.
func New() *Checker {
	return &Checker{}
}

// Check runs the coverage-end, age and policy-year gates in that order.
// Without facts every tier is applicable.
func (c *Checker) Check(tier *domain.PayoutTier, facts *domain.PolicyFacts, year int) Verdict {
	if facts == nil || tier == nil {
		return applicable
	}

	if end := facts.EndYear(); year > end {
		return Verdict{
			Reason: fmt.Sprintf("coverage ended in %d", end),
			Gate:   GateCoverageEnd,
		}
	}

	if cond := tier.AgeCondition; cond != nil {
		age := facts.AgeIn(year)
		when := "in " + fmt.Sprint(year)
		if cond.ReferenceTime == domain.AtInception {
			age = facts.AgeIn(facts.PolicyStartYear)
			when = "at inception"
		}
		if !cond.Allows(age) {
			return Verdict{
				Reason: fmt.Sprintf("age %d %s does not satisfy %s %d", age, when, cond.Operator, cond.Limit),
				Gate:   GateAge,
			}
		}
	}

	if r := tier.PolicyYearRange; r != nil {
		py := facts.PolicyYear(year)
		if !r.Contains(py) {
			return Verdict{
				Reason: fmt.Sprintf("policy year %d is outside %s", py, rangeText(*r)),
				Gate:   GatePolicyYear,
			}
		}
	}

	return applicable
}

// CheckAll checks every tier and records the verdict on it.
func (c *Checker) CheckAll(tiers []domain.PayoutTier, facts *domain.PolicyFacts, year int) []Verdict {
	verdicts := make([]Verdict, len(tiers))
	for i := range tiers {
		v := c.Check(&tiers[i], facts, year)
		verdicts[i] = v
		if facts == nil {
			continue
		}
		ok := v.Applicable
		tiers[i].Applicable = &ok
		tiers[i].InapplicableReason = v.Reason
	}
	return verdicts
}

// Summary reports whether no tier applies, and the first rejecting verdict.
// A coverage-end rejection always counts as none applicable.
func Summary(verdicts []Verdict) (noneApplicable bool, first int, v Verdict) {
	first = -1
	for i, vd := range verdicts {
		if vd.Applicable {
			continue
		}
		if first < 0 {
			first, v = i, vd
		}
		if vd.Gate == GateCoverageEnd {
			return true, i, vd
		}
	}
	if len(verdicts) == 0 || first < 0 {
		return false, -1, Verdict{}
	}
	for _, vd := range verdicts {
		if vd.Applicable {
			return false, first, v
		}
	}
	return true, first, v
}

func rangeText(r domain.PolicyYearRange) string {
	if r.EndYear == nil {
		return fmt.Sprintf("[%d, ∞)", r.StartYear)
	}
	return fmt.Sprintf("[%d, %d]", r.StartYear, *r.EndYear)
}
