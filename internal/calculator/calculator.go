// Package calculator projects payout tiers onto per-year amounts for one
// policyholder.
package calculator

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/formula"
)

// yuanPerWan converts yuan into the 万元 unit used for amounts.
const yuanPerWan = 10000.0

// Calculator turns a tier and policy facts into a payout series.
type Calculator struct {
	eval *formula.Evaluator
}

// New creates a calculator backed by the given formula evaluator.
func New(eval *formula.Evaluator) *Calculator {
	return &Calculator{eval: eval}
}

var (
	percentValue = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[%％]`)
	exponentN    = regexp.MustCompile(`\^\s*[(（]?\s*n`)
	linearN      = regexp.MustCompile(`[×*xX]\s*n\b|[×*xX]\s*n[)）]|n\s*[×*]`)
)

// InferFormulaType fills in the formula family from the formula text when
// the tier does not name one.
func InferFormulaType(tier *domain.PayoutTier) domain.FormulaType {
	if tier.FormulaType != "" && tier.FormulaType != domain.FormulaUnknown {
		return tier.FormulaType
	}
	f := strings.TrimSpace(tier.Formula)
	switch {
	case f == "":
		return domain.FormulaUnknown
	case isMax(f):
		return domain.FormulaMax
	case exponentN.MatchString(f):
		return domain.FormulaCompound
	case linearN.MatchString(f):
		return domain.FormulaSimple
	case strings.Contains(f, "已交保费") || strings.Contains(f, "所交保费") || strings.Contains(f, "已交保险费"):
		return domain.FormulaPaidPremium
	case strings.Contains(f, "基本保额") || strings.Contains(f, "基本保险金额"):
		return domain.FormulaPercentage
	}
	return domain.FormulaUnknown
}

func isMax(f string) bool {
	_, ok := formula.MaxOptions(f)
	return ok
}

// percentageOf returns the tier percentage, reading it from the formula when
// the tier carries none. The default is 100.
func percentageOf(tier *domain.PayoutTier) float64 {
	if tier.Percentage > 0 {
		return tier.Percentage
	}
	if m := percentValue.FindStringSubmatch(tier.Formula); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			return v
		}
	}
	return 100
}

// rateOf normalizes an interest rate to a fraction.
func rateOf(tier *domain.PayoutTier) float64 {
	r := tier.InterestRate
	if r > 1 {
		r /= 100
	}
	return r
}

// Calculate projects one tier. Waiting-period tiers and tiers without facts
// produce no amounts. Problems are reported as warnings, never errors.
func (c *Calculator) Calculate(tier *domain.PayoutTier, facts *domain.PolicyFacts, year int) ([]domain.CalculatedAmount, []string) {
	if tier == nil || facts == nil {
		return nil, nil
	}
	if tier.InWaitingPeriod() {
		return nil, []string{"waiting-period tier is not calculated"}
	}

	kind := InferFormulaType(tier)
	window, warnings := YearWindow(tier, facts, year)
	if window.Empty() {
		return nil, append(warnings, "no calendar year falls inside the payout window")
	}

	var (
		amounts []domain.CalculatedAmount
		more    []string
	)
	switch kind {
	case domain.FormulaFixed, domain.FormulaPercentage:
		amounts, more = c.percentage(tier, facts, window)
	case domain.FormulaCompound, domain.FormulaSimple:
		amounts, more = c.growth(tier, kind, facts, window)
	case domain.FormulaMax:
		amounts, more = c.maxOf(tier, facts, window, year)
	case domain.FormulaPaidPremium:
		amounts, more = c.paidPremium(tier, facts, window, year)
	default:
		more = []string{fmt.Sprintf("unrecognized formula %q", tier.Formula)}
	}
	return amounts, append(warnings, more...)
}

func (c *Calculator) percentage(tier *domain.PayoutTier, facts *domain.PolicyFacts, w Window) ([]domain.CalculatedAmount, []string) {
	amount := toWan(facts.BasicSumInsured * percentageOf(tier) / 100)
	out := make([]domain.CalculatedAmount, 0, w.To-w.From+1)
	for y := w.From; y <= w.To; y++ {
		out = append(out, domain.CalculatedAmount{Year: y, Age: facts.AgeIn(y), Amount: amount, IsFixed: true})
	}
	return out, nil
}

func (c *Calculator) growth(tier *domain.PayoutTier, kind domain.FormulaType, facts *domain.PolicyFacts, w Window) ([]domain.CalculatedAmount, []string) {
	rate := rateOf(tier)
	var prog *formula.Program
	if rate <= 0 {
		p, err := c.eval.Compile(tier.Formula)
		if err != nil {
			return nil, []string{fmt.Sprintf("cannot evaluate %s formula %q: %v", kind, tier.Formula, err)}
		}
		prog = p
	}

	base := facts.BasicSumInsured
	if tier.Percentage > 0 {
		base *= tier.Percentage / 100
	}
	out := make([]domain.CalculatedAmount, 0, w.To-w.From+1)
	for y := w.From; y <= w.To; y++ {
		n := facts.PolicyYear(y) - 1
		var v float64
		switch {
		case prog != nil:
			r, err := prog.Eval(varsFor(facts, y))
			if err != nil {
				return out, []string{fmt.Sprintf("evaluation failed in %d: %v", y, err)}
			}
			v = r
		case kind == domain.FormulaCompound:
			v = base * math.Pow(1+rate, float64(n))
		default:
			v = base * (1 + rate*float64(n))
		}
		out = append(out, domain.CalculatedAmount{Year: y, Age: facts.AgeIn(y), Amount: toWan(v)})
	}
	return out, nil
}

type maxOption struct {
	text string
	gate *domain.AgeCondition
	prog *formula.Program
}

func (c *Calculator) maxOf(tier *domain.PayoutTier, facts *domain.PolicyFacts, w Window, year int) ([]domain.CalculatedAmount, []string) {
	texts, ok := formula.MaxOptions(tier.Formula)
	if !ok {
		return nil, []string{fmt.Sprintf("formula %q is not a max-of-options expression", tier.Formula)}
	}

	var (
		opts     []maxOption
		warnings []string
	)
	currentAge := facts.AgeIn(year)
	for _, t := range texts {
		expr, gate := formula.SplitAgeGate(t)
		if gate != nil && gate.Operator == domain.AgeLess && !gate.Allows(currentAge) {
			slog.Debug("max option dropped", "option", t, "reason", "age passed")
			continue
		}
		p, err := c.eval.Compile(expr)
		if err != nil {
			if !errors.Is(err, formula.ErrUnsupportedTerm) {
				warnings = append(warnings, fmt.Sprintf("option %q dropped: %v", t, err))
			}
			slog.Debug("max option dropped", "option", t, "error", err)
			continue
		}
		opts = append(opts, maxOption{text: t, gate: gate, prog: p})
	}
	if len(opts) == 0 {
		return nil, append(warnings, "no computable option in max formula")
	}

	out := make([]domain.CalculatedAmount, 0, w.To-w.From+1)
	for y := w.From; y <= w.To; y++ {
		vars := varsFor(facts, y)
		best, chosen := math.Inf(-1), ""
		for _, o := range opts {
			if o.gate != nil && !o.gate.Allows(vars.Age) {
				continue
			}
			v, err := o.prog.Eval(vars)
			if err != nil {
				continue
			}
			if v > best {
				best, chosen = v, o.text
			}
		}
		if chosen == "" {
			continue
		}
		out = append(out, domain.CalculatedAmount{Year: y, Age: vars.Age, Amount: toWan(best), SelectedOption: chosen})
	}
	return out, warnings
}

func (c *Calculator) paidPremium(tier *domain.PayoutTier, facts *domain.PolicyFacts, w Window, year int) ([]domain.CalculatedAmount, []string) {
	if facts.AnnualPremium <= 0 {
		return nil, []string{"annual premium unknown: paid premium cannot be calculated"}
	}
	at := max(year, w.From)
	if at > w.To {
		return nil, []string{"no calendar year falls inside the payout window"}
	}
	age := facts.AgeIn(at)
	paid := paidPremium(facts, at) * RatioByAge(tier.Ratio, age) * percentageOf(tier) / 100
	return []domain.CalculatedAmount{{Year: at, Age: age, Amount: toWan(paid), IsFixed: true}}, nil
}

// paidPremium is the annual premium times the years elapsed since the
// policy start, capped at the payment period.
func paidPremium(facts *domain.PolicyFacts, year int) float64 {
	elapsed := max(year-facts.PolicyStartYear, 0)
	if t := facts.TotalPaymentPeriodYears; t > 0 {
		elapsed = min(elapsed, t)
	}
	return facts.AnnualPremium * float64(elapsed)
}

func varsFor(facts *domain.PolicyFacts, year int) formula.Vars {
	return formula.Vars{
		BasicSum:      facts.BasicSumInsured,
		PaidPremium:   paidPremium(facts, year),
		AnnualPremium: facts.AnnualPremium,
		N:             facts.PolicyYear(year) - 1,
		Age:           facts.AgeIn(year),
		Year:          year,
	}
}

func toWan(yuan float64) float64 {
	return math.Round(yuan) / yuanPerWan
}
