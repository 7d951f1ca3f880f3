package applicability

import (
	"testing"

	"github.com/insurelab/coverage-parser/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestCheck(t *testing.T) {
	c := New()
	facts := &domain.PolicyFacts{
		BirthYear:       2000,
		PolicyStartYear: 2020,
		CoverageEnd:     domain.EndingIn(2060),
		BasicSumInsured: 500000,
	}

	t.Run("NoFacts", func(t *testing.T) {
		tier := &domain.PayoutTier{AgeCondition: &domain.AgeCondition{Limit: 1, Operator: domain.AgeLess}}
		if v := c.Check(tier, nil, 2030); !v.Applicable {
			t.Errorf("expected applicable without facts, got %+v", v)
		}
	})

	t.Run("CoverageEnded", func(t *testing.T) {
		v := c.Check(&domain.PayoutTier{}, facts, 2061)
		if v.Applicable || v.Gate != GateCoverageEnd {
			t.Errorf("expected coverage_end rejection, got %+v", v)
		}
	})

	t.Run("CoverageEndYearInclusive", func(t *testing.T) {
		if v := c.Check(&domain.PayoutTier{}, facts, 2060); !v.Applicable {
			t.Errorf("expected applicable in the final year, got %+v", v)
		}
	})

	t.Run("AgeBoundary", func(t *testing.T) {
		tier := &domain.PayoutTier{AgeCondition: &domain.AgeCondition{
			Limit: 18, Operator: domain.AgeLess, ReferenceTime: domain.AtClaim,
		}}
		young := &domain.PolicyFacts{BirthYear: 2008, PolicyStartYear: 2020, CoverageEnd: domain.Lifetime}

		if v := c.Check(tier, young, 2025); !v.Applicable {
			t.Errorf("age 17 should satisfy < 18, got %+v", v)
		}
		v := c.Check(tier, young, 2026)
		if v.Applicable || v.Gate != GateAge {
			t.Errorf("age 18 should not satisfy < 18, got %+v", v)
		}
	})

	t.Run("AgeAtInception", func(t *testing.T) {
		tier := &domain.PayoutTier{AgeCondition: &domain.AgeCondition{
			Limit: 18, Operator: domain.AgeLess, ReferenceTime: domain.AtInception,
		}}
		child := &domain.PolicyFacts{BirthYear: 2010, PolicyStartYear: 2020, CoverageEnd: domain.Lifetime}
		if v := c.Check(tier, child, 2040); !v.Applicable {
			t.Errorf("inception age 10 should satisfy < 18 regardless of current age, got %+v", v)
		}
	})

	t.Run("PolicyYearRanges", func(t *testing.T) {
		first := &domain.PayoutTier{PolicyYearRange: &domain.PolicyYearRange{StartYear: 1, EndYear: intPtr(10)}}
		second := &domain.PayoutTier{PolicyYearRange: &domain.PolicyYearRange{StartYear: 11}}

		// 2032 is policy year 13.
		if v := c.Check(first, facts, 2032); v.Applicable || v.Gate != GatePolicyYear {
			t.Errorf("expected tier 1 rejected, got %+v", v)
		}
		if v := c.Check(second, facts, 2032); !v.Applicable {
			t.Errorf("expected tier 2 applicable, got %+v", v)
		}
	})

	t.Run("GateOrder", func(t *testing.T) {
		tier := &domain.PayoutTier{
			AgeCondition:    &domain.AgeCondition{Limit: 10, Operator: domain.AgeLess},
			PolicyYearRange: &domain.PolicyYearRange{StartYear: 1, EndYear: intPtr(1)},
		}
		if v := c.Check(tier, facts, 2061); v.Gate != GateCoverageEnd {
			t.Errorf("expected coverage_end first, got %s", v.Gate)
		}
		if v := c.Check(tier, facts, 2030); v.Gate != GateAge {
			t.Errorf("expected age before policy year, got %s", v.Gate)
		}
	})
}

func TestCheckAllAndSummary(t *testing.T) {
	c := New()
	facts := &domain.PolicyFacts{BirthYear: 1990, PolicyStartYear: 2020, CoverageEnd: domain.Lifetime}

	tiers := []domain.PayoutTier{
		{PolicyYearRange: &domain.PolicyYearRange{StartYear: 1, EndYear: intPtr(10)}},
		{PolicyYearRange: &domain.PolicyYearRange{StartYear: 11}},
	}
	verdicts := c.CheckAll(tiers, facts, 2032)

	if tiers[0].Applicable == nil || *tiers[0].Applicable {
		t.Error("expected tier 1 marked inapplicable")
	}
	if tiers[0].InapplicableReason == "" {
		t.Error("expected a reason on tier 1")
	}
	if tiers[1].Applicable == nil || !*tiers[1].Applicable {
		t.Error("expected tier 2 marked applicable")
	}

	if none, _, _ := Summary(verdicts); none {
		t.Error("expected some tier applicable")
	}

	all := c.CheckAll(tiers[:1], facts, 2032)
	none, idx, v := Summary(all)
	if !none || idx != 0 || v.Gate != GatePolicyYear {
		t.Errorf("expected none applicable at tier 0, got %v %d %+v", none, idx, v)
	}

	if none, _, _ := Summary(nil); none {
		t.Error("empty verdicts must not short-circuit")
	}

	t.Run("NoFactsLeavesTiersUnmarked", func(t *testing.T) {
		fresh := []domain.PayoutTier{{}}
		c.CheckAll(fresh, nil, 2032)
		if fresh[0].Applicable != nil {
			t.Error("expected no evaluation recorded without facts")
		}
	})
}
