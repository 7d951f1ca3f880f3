package patterns

import (
	"regexp"
	"strconv"

	"github.com/insurelab/coverage-parser/internal/domain"
)

// Rule confidences. Explicit numeric phrases are trusted most; keyword cues
// that correlate with a value without stating it are trusted least.
const (
	ConfidenceExplicit = 0.95
	ConfidenceStrong   = 0.9
	ConfidenceKeyword  = 0.85
	ConfidenceWeak     = 0.7
)

// FormulaMatch is what the narrow fallback formula table recognizes.
type FormulaMatch struct {
	Type         domain.FormulaType
	Formula      string
	Percentage   float64
	InterestRate float64
}

// Library is the complete set of pattern tables.
type Library struct {
	PayoutCount      Table[domain.PayoutCount]
	IntervalPeriod   Table[domain.IntervalPeriod]
	Grouping         Table[domain.Grouping]
	RepeatablePayout Table[domain.RepeatablePayout]
	PremiumWaiver    Table[domain.PremiumWaiver]

	AgeCondition    Table[domain.AgeCondition]
	PolicyYearRange Table[domain.PolicyYearRange]
	WaitingPeriod   Table[domain.WaitingStatus]
	PaymentPeriod   Table[domain.PaymentStatus]
	Termination     Table[bool]
	Formula         Table[FormulaMatch]

	// AtInception marks an age condition as measured when the policy was bought.
	AtInception *regexp.Regexp
	// AtClaim overrides AtInception when both appear.
	AtClaim *regexp.Regexp
}

const (
	num     = `(` + NumeralClass + `)`
	sumWord = `(?:基本保额|基本保险金额|保险金额|投保金额)`
	times   = `\s*[×xX*＊]\s*`
	pct     = `\s*[%％]`
	decimal = `(\d+(?:\.\d+)?)`
	noStop  = `[^。；;]`
)

var terminationRe = regexp.MustCompile(`(?:本|该)?(?:附加)?合同(?:效力)?(?:随之|即行|即)?终止`)

// Default returns the built-in library.
func Default() *Library {
	return &Library{
		PayoutCount:      payoutCountTable(),
		IntervalPeriod:   intervalTable(),
		Grouping:         groupingTable(),
		RepeatablePayout: repeatableTable(),
		PremiumWaiver:    waiverTable(),
		AgeCondition:     ageTable(),
		PolicyYearRange:  policyYearTable(),
		WaitingPeriod:    waitingTable(),
		PaymentPeriod:    paymentTable(),
		Termination:      terminationTable(),
		Formula:          formulaTable(),
		AtInception:      regexp.MustCompile(`投保时|投保年龄|投保当时`),
		AtClaim:          regexp.MustCompile(`确诊时|出险时|身故时|发生时`),
	}
}

func countValue(n int, perItem bool) domain.PayoutCount {
	if n <= 1 {
		return domain.PayoutCount{Type: domain.CountSingle, MaxCount: 1, PerItem: perItem}
	}
	return domain.PayoutCount{Type: domain.CountLimited, MaxCount: n, PerItem: perItem}
}

// Explicit counts come before the single-payout cues so that a capped
// clause mentioning contract termination is still read as capped.
func payoutCountTable() Table[domain.PayoutCount] {
	return Table[domain.PayoutCount]{
		Field: domain.FieldPayoutCount,
		Rules: []Rule[domain.PayoutCount]{
			{
				Name:       "per_item_limit",
				Pattern:    regexp.MustCompile(`每(?:种|项|类|一种|一项)` + noStop + `{0,20}?(?:限|仅)(?:给付|赔付|赔)?` + num + `次`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.PayoutCount, bool) {
					n, ok := numeral(g, 1)
					return countValue(n, true), ok
				},
			},
			{
				Name:       "cumulative_limit",
				Pattern:    regexp.MustCompile(`累计(?:给付|赔付)` + noStop + `{0,20}?以` + num + `次为限`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.PayoutCount, bool) {
					n, ok := numeral(g, 1)
					return countValue(n, false), ok
				},
			},
			{
				Name:       "limit_n_times",
				Pattern:    regexp.MustCompile(`(?:限|仅)(?:给付|赔付|赔)` + num + `次`),
				Confidence: ConfidenceStrong,
				Build: func(g []string) (domain.PayoutCount, bool) {
					n, ok := numeral(g, 1)
					return countValue(n, false), ok
				},
			},
			{
				Name:       "n_times_cap",
				Pattern:    regexp.MustCompile(`(?:给付|赔付)?(?:次数)?以` + num + `次为限`),
				Confidence: ConfidenceStrong,
				Build: func(g []string) (domain.PayoutCount, bool) {
					n, ok := numeral(g, 1)
					return countValue(n, false), ok
				},
			},
			{
				Name:       "unlimited",
				Pattern:    regexp.MustCompile(`不限(?:给付|赔付)?次数|无次数限制|给付次数不限`),
				Confidence: ConfidenceStrong,
				Build:      always(domain.PayoutCount{Type: domain.CountUnlimited}),
			},
			{
				Name:       "contract_terminates",
				Pattern:    terminationRe,
				Confidence: ConfidenceKeyword,
				Build:      always(countValue(1, false)),
			},
			{
				Name:       "liability_ends",
				Pattern:    regexp.MustCompile(`给付` + noStop + `{0,12}?后` + noStop + `{0,8}?(?:该项)?(?:保险)?责任(?:即行)?终止`),
				Confidence: ConfidenceWeak,
				Build:      always(countValue(1, false)),
			},
		},
	}
}

func repeatableTable() Table[domain.RepeatablePayout] {
	yes := domain.RepeatablePayout{IsRepeatable: true}
	no := domain.RepeatablePayout{IsRepeatable: false}
	fromCount := func(g []string) (domain.RepeatablePayout, bool) {
		n, ok := numeral(g, 1)
		return domain.RepeatablePayout{IsRepeatable: n > 1}, ok && n > 0
	}
	return Table[domain.RepeatablePayout]{
		Field: domain.FieldRepeatablePayout,
		Rules: []Rule[domain.RepeatablePayout]{
			{
				Name:       "per_kind_once",
				Pattern:    regexp.MustCompile(`每(?:种|项|类|一种|一项)` + noStop + `{0,20}?(?:限|仅)(?:给付|赔付|赔)?(?:1|１|一)次`),
				Confidence: ConfidenceExplicit,
				Build:      always(no),
			},
			{
				Name:       "explicit_count",
				Pattern:    regexp.MustCompile(`(?:累计|限|仅)(?:给付|赔付|赔)?` + noStop + `{0,16}?` + num + `次`),
				Confidence: ConfidenceStrong,
				Build:      fromCount,
			},
			{
				Name:       "count_cap",
				Pattern:    regexp.MustCompile(`以` + num + `次为限`),
				Confidence: ConfidenceStrong,
				Build:      fromCount,
			},
			{
				Name:       "multiple_payouts",
				Pattern:    regexp.MustCompile(`多次给付|多次赔付|可(?:重复|多次)(?:给付|赔付)|不限(?:给付|赔付)?次数`),
				Confidence: ConfidenceKeyword,
				Build:      always(yes),
			},
			{
				Name:       "contract_terminates",
				Pattern:    terminationRe,
				Confidence: ConfidenceWeak,
				Build:      always(no),
			},
		},
	}
}

func intervalTable() Table[domain.IntervalPeriod] {
	unitBuilder := func(unit string, scale int) func([]string) (domain.IntervalPeriod, bool) {
		return func(g []string) (domain.IntervalPeriod, bool) {
			n, ok := numeral(g, 1)
			if !ok || n == 0 {
				return domain.IntervalPeriod{}, false
			}
			return domain.IntervalPeriod{Days: n * scale, Value: n, Unit: unit}, true
		}
	}
	return Table[domain.IntervalPeriod]{
		Field: domain.FieldIntervalPeriod,
		// These periods share vocabulary with claim intervals but are unrelated.
		Exclude: []*regexp.Regexp{
			regexp.MustCompile(`犹豫期|冷静期`),
			regexp.MustCompile(`核保`),
			regexp.MustCompile(`宽限期`),
		},
		Rules: []Rule[domain.IntervalPeriod]{
			{
				Name:       "interval_days",
				Pattern:    regexp.MustCompile(`间隔(?:期|时间)?` + noStop + `{0,12}?` + num + `\s*(?:日|天)`),
				Confidence: ConfidenceExplicit,
				Build:      unitBuilder("day", 1),
			},
			{
				Name:       "interval_years",
				Pattern:    regexp.MustCompile(`间隔(?:期|时间)?` + noStop + `{0,12}?` + num + `\s*(?:个)?(?:周)?年`),
				Confidence: ConfidenceExplicit,
				Build:      unitBuilder("year", 365),
			},
			{
				Name:       "since_last_claim_days",
				Pattern:    regexp.MustCompile(`(?:自|距|距离)(?:上一?次|前一?次|前次)` + noStop + `{0,24}?` + num + `\s*(?:日|天)`),
				Confidence: ConfidenceStrong,
				Build:      unitBuilder("day", 1),
			},
			{
				Name:       "since_last_claim_years",
				Pattern:    regexp.MustCompile(`(?:自|距|距离)(?:上一?次|前一?次|前次)` + noStop + `{0,24}?` + num + `\s*(?:个)?(?:周)?年`),
				Confidence: ConfidenceStrong,
				Build:      unitBuilder("year", 365),
			},
		},
	}
}

func groupingTable() Table[domain.Grouping] {
	return Table[domain.Grouping]{
		Field: domain.FieldGrouping,
		Rules: []Rule[domain.Grouping]{
			{
				Name:       "ungrouped",
				Pattern:    regexp.MustCompile(`不分组`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.Grouping{IsGrouped: false}),
			},
			{
				Name:       "n_groups",
				Pattern:    regexp.MustCompile(`分(?:为|成)?` + num + `(?:个)?组`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.Grouping, bool) {
					n, ok := numeral(g, 1)
					return domain.Grouping{IsGrouped: n > 1, GroupCount: n}, ok && n > 0
				},
			},
			{
				Name:       "group_reference",
				Pattern:    regexp.MustCompile(`同一组|不同组|各组|每组`),
				Confidence: ConfidenceKeyword,
				Build:      always(domain.Grouping{IsGrouped: true}),
			},
		},
	}
}

// Negations are listed first so that 不豁免 is not read as a waiver.
func waiverTable() Table[domain.PremiumWaiver] {
	return Table[domain.PremiumWaiver]{
		Field: domain.FieldPremiumWaiver,
		Rules: []Rule[domain.PremiumWaiver]{
			{
				Name:       "waiver_negated",
				Pattern:    regexp.MustCompile(`不(?:予|能|得)?(?:豁免|免交|免缴)`),
				Confidence: ConfidenceStrong,
				Build:      always(domain.PremiumWaiver{IsWaived: false}),
			},
			{
				Name:       "waive_premium",
				Pattern:    regexp.MustCompile(`(?:豁免|免交|免缴|免于交纳|不再交纳|无需(?:再)?交纳?)` + noStop + `{0,12}?(?:保险费|保费)`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.PremiumWaiver{IsWaived: true}),
			},
			{
				Name:       "premium_waived",
				Pattern:    regexp.MustCompile(`(?:保险费|保费)` + noStop + `{0,6}?豁免`),
				Confidence: ConfidenceStrong,
				Build:      always(domain.PremiumWaiver{IsWaived: true}),
			},
		},
	}
}

// 不超过 precedes 超过 and 未满 precedes 满 so the longer phrase wins.
func ageTable() Table[domain.AgeCondition] {
	op := func(o domain.AgeOperator) func([]string) (domain.AgeCondition, bool) {
		return func(g []string) (domain.AgeCondition, bool) {
			n, ok := numeral(g, 1)
			return domain.AgeCondition{Limit: n, Operator: o, ReferenceTime: domain.AtClaim}, ok
		}
	}
	age := `\s*(?:周岁|岁)`
	rule := func(name, expr string, o domain.AgeOperator) Rule[domain.AgeCondition] {
		return Rule[domain.AgeCondition]{
			Name:       name,
			Pattern:    regexp.MustCompile(expr),
			Confidence: ConfidenceStrong,
			Build:      op(o),
		}
	}
	return Table[domain.AgeCondition]{
		Field: "ageCondition",
		Rules: []Rule[domain.AgeCondition]{
			rule("age_not_over", `不超过`+num+age, domain.AgeLessEqual),
			rule("age_under", `未满`+num+age, domain.AgeLess),
			rule("age_over", `超过`+num+age, domain.AgeGreater),
			rule("age_before", num+age+`(?:之)?前`, domain.AgeLess),
			rule("age_below", num+age+`以下`, domain.AgeLess),
			rule("age_and_above", num+age+`(?:及|或)以上`, domain.AgeGreaterEqual),
			rule("age_after", num+age+`(?:之|以)?后`, domain.AgeGreaterEqual),
			rule("age_reached", `年?满`+num+age, domain.AgeGreaterEqual),
		},
	}
}

func policyYearTable() Table[domain.PolicyYearRange] {
	return Table[domain.PolicyYearRange]{
		Field: "policyYearRange",
		Rules: []Rule[domain.PolicyYearRange]{
			{
				Name:       "before_anniversary",
				Pattern:    regexp.MustCompile(`第` + num + `个保单周年日(?:之)?前`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.PolicyYearRange, bool) {
					n, ok := numeral(g, 1)
					if !ok || n < 2 {
						return domain.PolicyYearRange{}, false
					}
					end := n - 1
					return domain.PolicyYearRange{StartYear: 1, EndYear: &end}, true
				},
			},
			{
				Name:       "from_anniversary",
				Pattern:    regexp.MustCompile(`第` + num + `个保单周年日(?:之|以)?(?:后|起)`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.PolicyYearRange, bool) {
					n, ok := numeral(g, 1)
					return domain.PolicyYearRange{StartYear: n}, ok && n > 0
				},
			},
			{
				Name:       "policy_year_span",
				Pattern:    regexp.MustCompile(`第` + num + `\s*[-－~～至到]\s*(?:第)?` + num + `个?保单年度`),
				Confidence: ConfidenceExplicit,
				Build: func(g []string) (domain.PolicyYearRange, bool) {
					start, ok1 := numeral(g, 1)
					end, ok2 := numeral(g, 2)
					if !ok1 || !ok2 || start < 1 || end < start {
						return domain.PolicyYearRange{}, false
					}
					return domain.PolicyYearRange{StartYear: start, EndYear: &end}, true
				},
			},
			{
				Name:       "first_n_years",
				Pattern:    regexp.MustCompile(`前` + num + `个?(?:保单)?年(?:度)?`),
				Confidence: ConfidenceKeyword,
				Build: func(g []string) (domain.PolicyYearRange, bool) {
					n, ok := numeral(g, 1)
					if !ok || n < 1 {
						return domain.PolicyYearRange{}, false
					}
					return domain.PolicyYearRange{StartYear: 1, EndYear: &n}, true
				},
			},
		},
	}
}

func waitingTable() Table[domain.WaitingStatus] {
	return Table[domain.WaitingStatus]{
		Field: "waitingPeriodStatus",
		Rules: []Rule[domain.WaitingStatus]{
			{
				Name:       "within_waiting_period",
				Pattern:    regexp.MustCompile(`(?:等待期|观察期)(?:内|间)`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.WaitingDuring),
			},
			{
				Name:       "after_waiting_period",
				Pattern:    regexp.MustCompile(`(?:等待期|观察期)(?:满|届满)?(?:之)?后`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.WaitingAfter),
			},
			{
				Name:       "accident_no_waiting",
				Pattern:    regexp.MustCompile(`意外伤害|意外`),
				Confidence: ConfidenceKeyword,
				Build:      always(domain.WaitingAfter),
			},
		},
	}
}

func paymentTable() Table[domain.PaymentStatus] {
	return Table[domain.PaymentStatus]{
		Field: "paymentPeriodStatus",
		Rules: []Rule[domain.PaymentStatus]{
			{
				Name:       "before_payment_period_ends",
				Pattern:    regexp.MustCompile(`(?:交费|缴费)期间?届满(?:之|以)?前`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.PaymentDuring),
			},
			{
				Name:       "payment_period_ended",
				Pattern:    regexp.MustCompile(`(?:交费|缴费)期(?:间)?(?:满|届满|结束)`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.PaymentAfter),
			},
			{
				Name:       "within_payment_period",
				Pattern:    regexp.MustCompile(`(?:交费|缴费)期(?:内|间)`),
				Confidence: ConfidenceExplicit,
				Build:      always(domain.PaymentDuring),
			},
		},
	}
}

func terminationTable() Table[bool] {
	return Table[bool]{
		Field: "terminatesContract",
		Rules: []Rule[bool]{
			{
				Name:       "contract_terminates",
				Pattern:    terminationRe,
				Confidence: ConfidenceStrong,
				Build:      always(true),
			},
		},
	}
}

// The fallback formula table only recognizes single-option formulas.
// Max-of-options clauses are left to the model.
func formulaTable() Table[FormulaMatch] {
	percentage := func(g []string) (FormulaMatch, bool) {
		p, err := strconv.ParseFloat(g[1], 64)
		if err != nil || p <= 0 {
			return FormulaMatch{}, false
		}
		return FormulaMatch{
			Type:       domain.FormulaPercentage,
			Formula:    "基本保额×" + g[1] + "%",
			Percentage: p,
		}, true
	}
	return Table[FormulaMatch]{
		Field: "formula",
		Exclude: []*regexp.Regexp{
			regexp.MustCompile(`(?:较大|较高|最大|最高)(?:者|值|的一项)|取大`),
		},
		Rules: []Rule[FormulaMatch]{
			{
				Name:       "paid_premium",
				Pattern:    regexp.MustCompile(`(?:全部|累计)?(?:已交|已缴|所交|所缴)(?:的)?(?:保险费|保费)`),
				Confidence: ConfidenceStrong,
				Build: always(FormulaMatch{
					Type:       domain.FormulaPaidPremium,
					Formula:    "已交保费",
					Percentage: 100,
				}),
			},
			{
				Name:       "compound_growth",
				Pattern:    regexp.MustCompile(sumWord + times + `[（(]\s*1\s*[+＋]\s*` + decimal + `\s*([%％]?)\s*[）)]\s*\^`),
				Confidence: ConfidenceStrong,
				Build: func(g []string) (FormulaMatch, bool) {
					r, err := strconv.ParseFloat(g[1], 64)
					if err != nil {
						return FormulaMatch{}, false
					}
					if g[2] != "" {
						r /= 100
					}
					return FormulaMatch{
						Type:         domain.FormulaCompound,
						Formula:      "基本保额×(1+" + strconv.FormatFloat(r, 'f', -1, 64) + ")^(n)",
						Percentage:   100,
						InterestRate: r,
					}, r > 0 && r < 1
				},
			},
			{
				Name:       "percentage_of_sum",
				Pattern:    regexp.MustCompile(sumWord + `的?\s*` + decimal + pct),
				Confidence: ConfidenceStrong,
				Build:      percentage,
			},
			{
				Name:       "sum_times_percentage",
				Pattern:    regexp.MustCompile(sumWord + times + decimal + pct),
				Confidence: ConfidenceStrong,
				Build:      percentage,
			},
			{
				Name:       "sum_insured",
				Pattern:    regexp.MustCompile(sumWord),
				Confidence: ConfidenceKeyword,
				Build: always(FormulaMatch{
					Type:       domain.FormulaPercentage,
					Formula:    "基本保额×100%",
					Percentage: 100,
				}),
			},
		},
	}
}
