package domain

// WaitingStatus tells whether a tier pays during or after the waiting period.
type WaitingStatus string

const (
	WaitingDuring WaitingStatus = "during"
	WaitingAfter  WaitingStatus = "after"
)

// PaymentStatus ties a tier to the premium payment period.
type PaymentStatus string

const (
	PaymentDuring PaymentStatus = "during"
	PaymentAfter  PaymentStatus = "after"
)

// AgeOperator compares the policyholder's age against a limit.
type AgeOperator string

const (
	AgeLess         AgeOperator = "<"
	AgeLessEqual    AgeOperator = "<="
	AgeGreater      AgeOperator = ">"
	AgeGreaterEqual AgeOperator = ">="
)

// ReferenceTime is the moment at which an age condition is measured.
type ReferenceTime string

const (
	AtInception ReferenceTime = "atInception"
	AtClaim     ReferenceTime = "atClaim"
)

// AgeCondition restricts a tier to an age band.
type AgeCondition struct {
	Limit         int           `json:"limit"`
	Operator      AgeOperator   `json:"operator"`
	ReferenceTime ReferenceTime `json:"referenceTime,omitempty"`
}

// Allows reports whether age satisfies the condition.
// Unknown operators never match.
func (c AgeCondition) Allows(age int) bool {
	switch c.Operator {
	case AgeLess:
		return age < c.Limit
	case AgeLessEqual:
		return age <= c.Limit
	case AgeGreater:
		return age > c.Limit
	case AgeGreaterEqual:
		return age >= c.Limit
	}
	return false
}

// Bounds returns the inclusive age interval the condition admits.
// Open sides are reported as -1.
func (c AgeCondition) Bounds() (lo, hi int) {
	switch c.Operator {
	case AgeLess:
		return -1, c.Limit - 1
	case AgeLessEqual:
		return -1, c.Limit
	case AgeGreater:
		return c.Limit + 1, -1
	case AgeGreaterEqual:
		return c.Limit, -1
	}
	return -1, -1
}

// PolicyYearRange is an inclusive 1-based policy-year window.
// A nil EndYear is open-ended.
type PolicyYearRange struct {
	StartYear int  `json:"startYear"`
	EndYear   *int `json:"endYear"`
}

// Contains reports whether the policy year falls in the range.
func (r PolicyYearRange) Contains(policyYear int) bool {
	if policyYear < r.StartYear {
		return false
	}
	return r.EndYear == nil || policyYear <= *r.EndYear
}

// FormulaType selects the calculation family for a tier.
type FormulaType string

const (
	FormulaFixed       FormulaType = "fixed"
	FormulaPercentage  FormulaType = "percentage"
	FormulaCompound    FormulaType = "compound"
	FormulaSimple      FormulaType = "simple"
	FormulaMax         FormulaType = "max"
	FormulaPaidPremium FormulaType = "paid_premium"
	FormulaUnknown     FormulaType = "unknown"
)

// RatioBand is one row of an age-banded multiplier table, e.g. {"18-40", 1.6}.
type RatioBand struct {
	AgeRange string  `json:"ageRange"`
	Ratio    float64 `json:"ratio"`
}

// PayoutTier is one stage of a payout rule.
type PayoutTier struct {
	Period              string           `json:"period,omitempty"`
	WaitingPeriodStatus WaitingStatus    `json:"waitingPeriodStatus"`
	PaymentPeriodStatus PaymentStatus    `json:"paymentPeriodStatus,omitempty"`
	AgeCondition        *AgeCondition    `json:"ageCondition,omitempty"`
	PolicyYearRange     *PolicyYearRange `json:"policyYearRange,omitempty"`
	Formula             string           `json:"formula"`
	FormulaType         FormulaType      `json:"formulaType"`
	Percentage          float64          `json:"percentage,omitempty"`
	InterestRate        float64          `json:"interestRate,omitempty"`
	Ratio               []RatioBand      `json:"ratio,omitempty"`

	// Filled per request when policyholder facts are known.
	Applicable         *bool              `json:"applicable,omitempty"`
	InapplicableReason string             `json:"inapplicableReason,omitempty"`
	Amounts            []CalculatedAmount `json:"amounts,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
}

// InWaitingPeriod reports whether the tier only covers the waiting period.
func (t *PayoutTier) InWaitingPeriod() bool {
	return t.WaitingPeriodStatus == WaitingDuring
}

// ResetEvaluation clears per-policy fields so the tier can be cached or re-evaluated.
func (t *PayoutTier) ResetEvaluation() {
	t.Applicable = nil
	t.InapplicableReason = ""
	t.Amounts = nil
	t.Warnings = nil
}

// CalculatedAmount is one point of a payout projection. Amount is in 万元.
type CalculatedAmount struct {
	Year           int     `json:"year"`
	Age            int     `json:"age"`
	Amount         float64 `json:"amount"`
	SelectedOption string  `json:"selectedOption,omitempty"`
	IsFixed        bool    `json:"isFixed,omitempty"`
}
