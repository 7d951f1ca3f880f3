package domain

import (
	"time"
)

// ParseMethod records which subsystem produced a result as a whole.
type ParseMethod string

const (
	MethodLLM              ParseMethod = "llm"
	MethodHardRule         ParseMethod = "hard_rule"
	MethodHybrid           ParseMethod = "hybrid"
	MethodCache            ParseMethod = "cache"
	MethodHardRuleFallback ParseMethod = "hard_rule_fallback"
)

// FieldSource records which subsystem produced a single field.
type FieldSource string

const (
	SourceHardRule FieldSource = "hard_rule"
	SourceLLM      FieldSource = "llm"
	SourceNone     FieldSource = "none"
)

// Field carries an auxiliary value with its provenance.
// A nil Value means no subsystem found evidence for the field.
type Field[T any] struct {
	Value       *T          `json:"value"`
	Confidence  float64     `json:"confidence"`
	Span        string      `json:"span,omitempty"`
	Rule        string      `json:"rule,omitempty"`
	Source      FieldSource `json:"source"`
	NeedsReview bool        `json:"needsReview,omitempty"`
}

// Present reports whether the field holds a value.
func (f Field[T]) Present() bool {
	return f.Value != nil
}

// CountType classifies how many times a benefit can be paid.
type CountType string

const (
	CountSingle    CountType = "single"
	CountLimited   CountType = "limited"
	CountUnlimited CountType = "unlimited"
)

// PayoutCount is the payout-count auxiliary field.
type PayoutCount struct {
	Type     CountType `json:"type"`
	MaxCount int       `json:"maxCount,omitempty"`
	PerItem  bool      `json:"perItem,omitempty"`
}

// IntervalPeriod is the minimum gap between two claims.
type IntervalPeriod struct {
	Days  int    `json:"days"`
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// Grouping describes whether covered conditions are split into groups.
type Grouping struct {
	IsGrouped  bool `json:"isGrouped"`
	GroupCount int  `json:"groupCount,omitempty"`
}

// RepeatablePayout tells whether the same benefit can be paid more than once.
type RepeatablePayout struct {
	IsRepeatable bool `json:"isRepeatable"`
}

// PremiumWaiver tells whether remaining premiums are waived after a claim.
type PremiumWaiver struct {
	IsWaived bool `json:"isWaived"`
}

// AuxiliaryFields groups the narrow fields extracted by both subsystems.
type AuxiliaryFields struct {
	PayoutCount      Field[PayoutCount]      `json:"payoutCount"`
	IntervalPeriod   Field[IntervalPeriod]   `json:"intervalPeriod"`
	Grouping         Field[Grouping]         `json:"grouping"`
	RepeatablePayout Field[RepeatablePayout] `json:"repeatablePayout"`
	PremiumWaiver    Field[PremiumWaiver]    `json:"premiumWaiver"`
}

// Auxiliary field names used in provenance maps.
const (
	FieldPayoutCount      = "payoutCount"
	FieldIntervalPeriod   = "intervalPeriod"
	FieldGrouping         = "grouping"
	FieldRepeatablePayout = "repeatablePayout"
	FieldPremiumWaiver    = "premiumWaiver"
)

// Sources returns the per-field provenance map.
func (a *AuxiliaryFields) Sources() map[string]FieldSource {
	return map[string]FieldSource{
		FieldPayoutCount:      a.PayoutCount.Source,
		FieldIntervalPeriod:   a.IntervalPeriod.Source,
		FieldGrouping:         a.Grouping.Source,
		FieldRepeatablePayout: a.RepeatablePayout.Source,
		FieldPremiumWaiver:    a.PremiumWaiver.Source,
	}
}

// PresentCount returns how many auxiliary fields hold a value.
func (a *AuxiliaryFields) PresentCount() int {
	n := 0
	for _, ok := range []bool{
		a.PayoutCount.Present(),
		a.IntervalPeriod.Present(),
		a.Grouping.Present(),
		a.RepeatablePayout.Present(),
		a.PremiumWaiver.Present(),
	} {
		if ok {
			n++
		}
	}
	return n
}

// PayoutAmount holds the tiers of a payout rule.
type PayoutAmount struct {
	Tiers []PayoutTier `json:"tiers"`
}

// MaxDescriptionRunes bounds ParsedResult.NaturalLanguageDescription.
const MaxDescriptionRunes = 50

// TruncateDescription cuts s to MaxDescriptionRunes, ending in "..." when cut.
func TruncateDescription(s string) string {
	r := []rune(s)
	if len(r) <= MaxDescriptionRunes {
		return s
	}
	return string(r[:MaxDescriptionRunes-3]) + "..."
}

// ParsedResult is the structured form of one clause.
type ParsedResult struct {
	PayoutAmount PayoutAmount `json:"payoutAmount"`
	AuxiliaryFields

	NaturalLanguageDescription string                 `json:"naturalLanguageDescription"`
	OverallConfidence          float64                `json:"overallConfidence"`
	ParseMethod                ParseMethod            `json:"parseMethod"`
	ParseMethodDetails         map[string]FieldSource `json:"parseMethodDetails"`
	TerminatesContract         bool                   `json:"terminatesContract,omitempty"`
	CoverageType               CoverageType           `json:"coverageType"`
	ClauseHash                 string                 `json:"clauseHash,omitempty"`
	Caveats                    []string               `json:"caveats,omitempty"`
	Warnings                   []string               `json:"warnings,omitempty"`
	ParsedAt                   time.Time              `json:"parsedAt"`
}

// ResetEvaluation clears all per-policy tier fields.
func (r *ParsedResult) ResetEvaluation() {
	for i := range r.PayoutAmount.Tiers {
		r.PayoutAmount.Tiers[i].ResetEvaluation()
	}
}

// Unrecovered reports whether the model output could not be interpreted at all.
func (r *ParsedResult) Unrecovered() bool {
	if r.OverallConfidence > 0 {
		return false
	}
	for _, t := range r.PayoutAmount.Tiers {
		if t.FormulaType != FormulaUnknown && t.FormulaType != "" {
			return false
		}
	}
	return true
}

// OutcomeStatus is the terminal state of a parse request.
type OutcomeStatus string

const (
	StatusParsed        OutcomeStatus = "parsed"
	StatusNotApplicable OutcomeStatus = "not_applicable"
	StatusFailed        OutcomeStatus = "failed"

	// StatusPending marks a stored record whose async parse has not finished.
	StatusPending OutcomeStatus = "pending"
)

// NotApplicable is the minimal answer for a clause that does not apply to a policyholder.
type NotApplicable struct {
	Reason       string       `json:"reason"`
	Gate         string       `json:"gate"`
	TierIndex    int          `json:"tierIndex"`
	ParseMethod  ParseMethod  `json:"parseMethod"`
	CoverageType CoverageType `json:"coverageType"`
	ClauseHash   string       `json:"clauseHash,omitempty"`
}

// Outcome is returned for every parse request. Exactly one payload is set.
type Outcome struct {
	Status        OutcomeStatus  `json:"status"`
	Result        *ParsedResult  `json:"result,omitempty"`
	NotApplicable *NotApplicable `json:"notApplicable,omitempty"`
	Failure       *ParseFailure  `json:"failure,omitempty"`
}

// Parsed wraps a successful result.
func Parsed(r *ParsedResult) *Outcome {
	return &Outcome{Status: StatusParsed, Result: r}
}

// Inapplicable wraps a not-applicable answer.
func Inapplicable(na *NotApplicable) *Outcome {
	return &Outcome{Status: StatusNotApplicable, NotApplicable: na}
}

// Failed wraps a failure.
func Failed(f *ParseFailure) *Outcome {
	return &Outcome{Status: StatusFailed, Failure: f}
}
