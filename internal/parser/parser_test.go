package parser

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/insurelab/coverage-parser/internal/applicability"
	"github.com/insurelab/coverage-parser/internal/cache"
	"github.com/insurelab/coverage-parser/internal/calculator"
	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/formula"
	"github.com/insurelab/coverage-parser/internal/hardrule"
)

// fakeModel answers with a fresh result (or error) per call.
type fakeModel struct {
	mu    sync.Mutex
	calls int
	reply func(in domain.ClauseInput) (*domain.ParsedResult, error)
}

func (m *fakeModel) Parse(ctx context.Context, in domain.ClauseInput) (*domain.ParsedResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.reply(in)
}

func (m *fakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func sumInsuredResult() *domain.ParsedResult {
	return &domain.ParsedResult{
		PayoutAmount: domain.PayoutAmount{Tiers: []domain.PayoutTier{{
			WaitingPeriodStatus: domain.WaitingAfter,
			Formula:             "基本保额×100%",
			FormulaType:         domain.FormulaPercentage,
			Percentage:          100,
		}}},
		OverallConfidence: 0.9,
		ParseMethod:       domain.MethodLLM,
	}
}

func fixedClock() time.Time {
	return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
}

func newOrchestrator(t *testing.T, model ModelParser, opts ...Option) *Orchestrator {
	t.Helper()
	eval, err := formula.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator failed: %v", err)
	}
	cfg := domain.DefaultConfig().Parser
	opts = append([]Option{WithClock(fixedClock)}, opts...)
	return New(model, hardrule.New(nil, cfg.HardRuleAuthority), applicability.New(), calculator.New(eval), cfg, opts...)
}

func TestParseMerge(t *testing.T) {
	t.Run("HardRuleFieldWins", func(t *testing.T) {
		model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			r := sumInsuredResult()
			single := domain.PayoutCount{Type: domain.CountSingle}
			r.PayoutCount = domain.Field[domain.PayoutCount]{Value: &single, Confidence: 0.9, Source: domain.SourceLLM}
			return r, nil
		}}
		o := newOrchestrator(t, model)

		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "被保险人确诊重大疾病，按基本保额给付。累计给付以3次为限。",
			CoverageType: domain.CoverageDisease,
		})
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s (%+v)", out.Status, out.Failure)
		}
		r := out.Result
		if r.ParseMethod != domain.MethodHybrid {
			t.Errorf("expected hybrid, got %s", r.ParseMethod)
		}
		if r.PayoutCount.Source != domain.SourceHardRule {
			t.Errorf("expected hard_rule payoutCount, got %s", r.PayoutCount.Source)
		}
		if r.PayoutCount.Value.MaxCount != 3 {
			t.Errorf("expected maxCount 3, got %+v", r.PayoutCount.Value)
		}
		if r.ParseMethodDetails[domain.FieldPayoutCount] != domain.SourceHardRule {
			t.Errorf("unexpected provenance %v", r.ParseMethodDetails)
		}
		if r.ClauseHash != cache.Key(domain.CoverageDisease, "被保险人确诊重大疾病，按基本保额给付。累计给付以3次为限。") {
			t.Error("expected clause hash")
		}
		if r.NaturalLanguageDescription == "" {
			t.Error("expected a generated description")
		}
		if r.PayoutAmount.Tiers[0].Amounts != nil {
			t.Error("expected no amounts without policy facts")
		}
	})

	t.Run("LowConfidenceModelFieldNeedsReview", func(t *testing.T) {
		model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			r := sumInsuredResult()
			g := domain.Grouping{IsGrouped: true, GroupCount: 2}
			r.Grouping = domain.Field[domain.Grouping]{Value: &g, Confidence: 0.4, Source: domain.SourceLLM}
			return r, nil
		}}
		o := newOrchestrator(t, model)

		out := o.Parse(context.Background(), domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDisease})
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s", out.Status)
		}
		r := out.Result
		if r.ParseMethod != domain.MethodLLM {
			t.Errorf("expected llm, got %s", r.ParseMethod)
		}
		if !r.Grouping.NeedsReview || r.Grouping.Source != domain.SourceLLM {
			t.Errorf("expected llm grouping flagged for review, got %+v", r.Grouping)
		}
		if r.PremiumWaiver.Source != domain.SourceNone {
			t.Errorf("expected absent field marked none, got %s", r.PremiumWaiver.Source)
		}
	})
}

func TestParseInvalidInput(t *testing.T) {
	model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
		return sumInsuredResult(), nil
	}}
	o := newOrchestrator(t, model)

	out := o.Parse(context.Background(), domain.ClauseInput{Text: "  ", CoverageType: domain.CoverageDisease})
	if out.Status != domain.StatusFailed || out.Failure.Kind != domain.KindInvalidInput {
		t.Fatalf("expected invalid_input failure, got %+v", out)
	}
	if model.Calls() != 0 {
		t.Error("model must not be called for invalid input")
	}
}

func TestParseCache(t *testing.T) {
	model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
		return sumInsuredResult(), nil
	}}
	store := cache.NewResultCache(cache.NewLRUCache(100), time.Hour)
	o := newOrchestrator(t, model, WithCache(store))
	in := domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDeath}

	first := o.Parse(context.Background(), in)
	if first.Result == nil || first.Result.ParseMethod != domain.MethodLLM {
		t.Fatalf("expected llm result, got %+v", first)
	}

	in.PolicyInfo = &domain.PolicyFacts{
		BirthYear:       1990,
		PolicyStartYear: 2020,
		CoverageEnd:     domain.EndingIn(2030),
		BasicSumInsured: 500000,
	}
	second := o.Parse(context.Background(), in)
	if second.Result == nil || second.Result.ParseMethod != domain.MethodCache {
		t.Fatalf("expected cache result, got %+v", second)
	}
	if model.Calls() != 1 {
		t.Errorf("expected one model call, got %d", model.Calls())
	}
	if len(second.Result.PayoutAmount.Tiers[0].Amounts) == 0 {
		t.Error("expected amounts calculated for the cached result")
	}

	third := o.Parse(context.Background(), domain.ClauseInput{Text: in.Text, CoverageType: domain.CoverageDeath})
	if got := third.Result.PayoutAmount.Tiers[0].Amounts; got != nil {
		t.Errorf("per-policy amounts leaked into the cache: %+v", got)
	}
}

func TestParseFallback(t *testing.T) {
	timeout := func(domain.ClauseInput) (*domain.ParsedResult, error) {
		return nil, domain.NewFailure(domain.KindTimeout, "model call timed out", nil)
	}

	t.Run("TransientFailureUsesRules", func(t *testing.T) {
		model := &fakeModel{reply: timeout}
		store := cache.NewResultCache(cache.NewLRUCache(100), time.Hour)
		o := newOrchestrator(t, model, WithCache(store))
		in := domain.ClauseInput{Text: "等待期后确诊，按基本保额给付", CoverageType: domain.CoverageDisease}

		out := o.Parse(context.Background(), in)
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s (%+v)", out.Status, out.Failure)
		}
		r := out.Result
		if r.ParseMethod != domain.MethodHardRuleFallback {
			t.Errorf("expected hard_rule_fallback, got %s", r.ParseMethod)
		}
		if r.OverallConfidence != 0.5 {
			t.Errorf("expected fallback confidence 0.5, got %v", r.OverallConfidence)
		}
		if len(r.Caveats) == 0 || !strings.Contains(r.Caveats[0], "timeout") {
			t.Errorf("expected a caveat naming the failure, got %v", r.Caveats)
		}

		o.Parse(context.Background(), in)
		if model.Calls() != 2 {
			t.Errorf("fallback results must not be cached; model calls = %d", model.Calls())
		}
	})

	t.Run("TransientFailureWithoutRuleMatch", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: timeout})
		out := o.Parse(context.Background(), domain.ClauseInput{Text: "退还本合同的现金价值", CoverageType: domain.CoverageDeath})
		if out.Status != domain.StatusFailed || out.Failure.Kind != domain.KindTimeout {
			t.Fatalf("expected timeout failure, got %+v", out)
		}
	})

	t.Run("PermanentFailureNotMasked", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			return nil, domain.NewFailure(domain.KindInternal, "bad request", nil)
		}})
		out := o.Parse(context.Background(), domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDeath})
		if out.Status != domain.StatusFailed || out.Failure.Kind != domain.KindInternal {
			t.Fatalf("expected internal failure, got %+v", out)
		}
	})

	t.Run("UnrecoveredModelOutput", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			return &domain.ParsedResult{
				PayoutAmount: domain.PayoutAmount{Tiers: []domain.PayoutTier{{FormulaType: domain.FormulaUnknown}}},
				ParseMethod:  domain.MethodLLM,
			}, nil
		}})
		out := o.Parse(context.Background(), domain.ClauseInput{Text: "按基本保额的 30% 给付轻症保险金", CoverageType: domain.CoverageDisease})
		if out.Result == nil || out.Result.ParseMethod != domain.MethodHardRule {
			t.Fatalf("expected hard_rule result, got %+v", out)
		}
		if p := out.Result.PayoutAmount.Tiers[0].Percentage; p != 30 {
			t.Errorf("expected 30%%, got %v", p)
		}
	})

	t.Run("WaitingRefundKeepsMainBenefit", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: timeout})
		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "等待期内确诊，按已交保费给付，本合同终止；等待期后确诊，按基本保额的100%给付",
			CoverageType: domain.CoverageDisease,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2020,
				CoverageEnd:     domain.Lifetime,
				BasicSumInsured: 500000,
			},
		})
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s (%+v)", out.Status, out.Failure)
		}
		tiers := out.Result.PayoutAmount.Tiers
		if len(tiers) != 2 {
			t.Fatalf("expected refund and main tiers, got %+v", tiers)
		}
		if !tiers[0].InWaitingPeriod() || len(tiers[0].Amounts) != 0 {
			t.Errorf("expected an uncalculated waiting-period tier, got %+v", tiers[0])
		}
		main := tiers[1]
		if main.InWaitingPeriod() || len(main.Amounts) == 0 {
			t.Fatalf("expected the main benefit calculated, got %+v", main)
		}
		if first := main.Amounts[0]; first.Year != 2026 || first.Amount != 50 {
			t.Errorf("unexpected first amount %+v", first)
		}
	})

	t.Run("PanicBecomesFailure", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			panic("boom")
		}})
		out := o.Parse(context.Background(), domain.ClauseInput{Text: "按基本保额给付", CoverageType: domain.CoverageDeath})
		if out.Status != domain.StatusFailed || out.Failure.Kind != domain.KindInternal {
			t.Fatalf("expected internal failure, got %+v", out)
		}
	})
}

func TestParseWithPolicy(t *testing.T) {
	model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
		return sumInsuredResult(), nil
	}}
	o := newOrchestrator(t, model)

	t.Run("Amounts", func(t *testing.T) {
		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "按基本保额给付",
			CoverageType: domain.CoverageDeath,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2020,
				CoverageEnd:     domain.EndingIn(2030),
				BasicSumInsured: 500000,
			},
		})
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s", out.Status)
		}
		tier := out.Result.PayoutAmount.Tiers[0]
		if tier.Applicable == nil || !*tier.Applicable {
			t.Error("expected tier marked applicable")
		}
		if len(tier.Amounts) != 5 {
			t.Fatalf("expected 2026..2030, got %d amounts", len(tier.Amounts))
		}
		first := tier.Amounts[0]
		if first.Year != 2026 || first.Age != 36 || first.Amount != 50 {
			t.Errorf("unexpected first amount %+v", first)
		}
	})

	t.Run("CumulativePremium", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			return &domain.ParsedResult{
				PayoutAmount: domain.PayoutAmount{Tiers: []domain.PayoutTier{{
					WaitingPeriodStatus: domain.WaitingAfter,
					Formula:             "累计已交保险费",
					FormulaType:         domain.FormulaPaidPremium,
				}}},
				OverallConfidence: 0.9,
				ParseMethod:       domain.MethodLLM,
			}, nil
		}})
		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "按累计已交保险费给付",
			CoverageType: domain.CoverageDeath,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:               1980,
				PolicyStartYear:         2016,
				CoverageEnd:             domain.Lifetime,
				AnnualPremium:           5000,
				TotalPaymentPeriodYears: 20,
			},
		})
		if out.Status != domain.StatusParsed {
			t.Fatalf("expected parsed, got %s (%+v)", out.Status, out.Failure)
		}
		amounts := out.Result.PayoutAmount.Tiers[0].Amounts
		// Ten years elapsed at 0.5万 a year.
		if len(amounts) != 1 || amounts[0].Year != 2026 || amounts[0].Amount != 5 || !amounts[0].IsFixed {
			t.Errorf("expected a single fixed 5万 entry, got %+v", amounts)
		}
	})

	t.Run("CoverageEnded", func(t *testing.T) {
		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "按基本保额给付",
			CoverageType: domain.CoverageDeath,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2015,
				CoverageEnd:     domain.EndingIn(2025),
				BasicSumInsured: 500000,
			},
		})
		if out.Status != domain.StatusNotApplicable {
			t.Fatalf("expected not_applicable, got %s", out.Status)
		}
		na := out.NotApplicable
		if na.Gate != string(applicability.GateCoverageEnd) || na.TierIndex != 0 {
			t.Errorf("unexpected answer %+v", na)
		}
		if na.ParseMethod != domain.MethodLLM || na.CoverageType != domain.CoverageDeath {
			t.Errorf("expected method and coverage type carried, got %+v", na)
		}
	})

	t.Run("AgeGateRejectsEveryTier", func(t *testing.T) {
		o := newOrchestrator(t, &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
			r := sumInsuredResult()
			r.PayoutAmount.Tiers[0].AgeCondition = &domain.AgeCondition{Limit: 18, Operator: domain.AgeLess}
			return r, nil
		}})
		out := o.Parse(context.Background(), domain.ClauseInput{
			Text:         "按基本保额给付",
			CoverageType: domain.CoverageDeath,
			PolicyInfo: &domain.PolicyFacts{
				BirthYear:       1990,
				PolicyStartYear: 2020,
				CoverageEnd:     domain.Lifetime,
				BasicSumInsured: 500000,
			},
		})
		if out.Status != domain.StatusNotApplicable || out.NotApplicable.Gate != string(applicability.GateAge) {
			t.Fatalf("expected age rejection, got %+v", out)
		}
	})
}

func TestParseBatch(t *testing.T) {
	model := &fakeModel{reply: func(domain.ClauseInput) (*domain.ParsedResult, error) {
		return sumInsuredResult(), nil
	}}
	o := newOrchestrator(t, model)

	inputs := []domain.ClauseInput{
		{Text: "按基本保额给付", CoverageType: domain.CoverageDeath},
		{Text: "", CoverageType: domain.CoverageDeath},
		{Text: "按基本保额给付", CoverageType: domain.CoverageDisease},
	}
	outs := o.ParseBatch(context.Background(), inputs)
	if len(outs) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outs))
	}
	if outs[1].Status != domain.StatusFailed {
		t.Errorf("expected second input to fail, got %s", outs[1].Status)
	}
	if outs[2].Result == nil || outs[2].Result.CoverageType != domain.CoverageDisease {
		t.Errorf("expected outcomes in input order, got %+v", outs[2])
	}

	s := Summarize(outs)
	if s.Total != 3 || s.Parsed != 2 || s.Failed != 1 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestDescribe(t *testing.T) {
	tiers := []domain.PayoutTier{
		{WaitingPeriodStatus: domain.WaitingDuring, Formula: "已交保费"},
		{WaitingPeriodStatus: domain.WaitingAfter, Formula: "基本保额×100%"},
	}
	got := Describe("被保险人确诊重大疾病", tiers)
	if want := "等待期后确诊重大疾病，按基本保额×100%给付，共2档"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}

	long := Describe(strings.Repeat("重大疾病", 10), []domain.PayoutTier{{
		WaitingPeriodStatus: domain.WaitingAfter,
		AgeCondition:        &domain.AgeCondition{Limit: 18, Operator: domain.AgeLess, ReferenceTime: domain.AtInception},
		Formula:             "Max(基本保额×(1+3.5%)^(n), 已交保费×160%, 现金价值)",
	}})
	if n := len([]rune(long)); n > MaxDescriptionRunes {
		t.Errorf("description has %d runes", n)
	}
}

func TestClone(t *testing.T) {
	orig := sumInsuredResult()
	orig.Caveats = []string{"a"}
	c := clone(orig)
	c.PayoutAmount.Tiers[0].Formula = "changed"
	c.Caveats[0] = "b"
	if orig.PayoutAmount.Tiers[0].Formula == "changed" || orig.Caveats[0] == "b" {
		t.Error("clone shares memory with the original")
	}
}
