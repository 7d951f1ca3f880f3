// Package hardrule applies the pattern library to clause text.
package hardrule

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/patterns"
)

// DefaultAuthority is the confidence at which a hard-rule field is trusted
// without review.
const DefaultAuthority = 0.8

// Extractor runs deterministic extraction. It is safe for concurrent use.
type Extractor struct {
	lib       *patterns.Library
	authority float64
}

// New creates an extractor. A nil library uses patterns.Default().
func New(lib *patterns.Library, authority float64) *Extractor {
	if lib == nil {
		lib = patterns.Default()
	}
	if authority <= 0 || authority > 1 {
		authority = DefaultAuthority
	}
	return &Extractor{lib: lib, authority: authority}
}

// ExtractAuxiliaryFields extracts the five auxiliary fields.
// Fields without evidence are returned with a nil value and SourceNone.
func (e *Extractor) ExtractAuxiliaryFields(text string) domain.AuxiliaryFields {
	text = Normalize(text)
	return domain.AuxiliaryFields{
		PayoutCount:      field(&e.lib.PayoutCount, text, e.authority),
		IntervalPeriod:   field(&e.lib.IntervalPeriod, text, e.authority),
		Grouping:         field(&e.lib.Grouping, text, e.authority),
		RepeatablePayout: field(&e.lib.RepeatablePayout, text, e.authority),
		PremiumWaiver:    field(&e.lib.PremiumWaiver, text, e.authority),
	}
}

func field[T any](table *patterns.Table[T], text string, authority float64) domain.Field[T] {
	m, ok := table.First(text)
	if !ok {
		return domain.Field[T]{Source: domain.SourceNone}
	}
	v := m.Value
	return domain.Field[T]{
		Value:       &v,
		Confidence:  m.Confidence,
		Span:        m.Span,
		Rule:        m.Rule,
		Source:      domain.SourceHardRule,
		NeedsReview: m.Confidence < authority,
	}
}

// Normalize removes whitespace and maps full-width ASCII to half-width so
// that patterns see one canonical spelling.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			continue
		case r >= '！' && r <= '～' && !isCJKPunct(r):
			b.WriteRune(r - '！' + '!')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Full-width clause punctuation is kept as written.
func isCJKPunct(r rune) bool {
	switch r {
	case '，', '；', '：', '（', '）':
		return true
	}
	return false
}

// TierHints are clause-level facts that apply to a single-tier rule.
type TierHints struct {
	WaitingPeriodStatus domain.WaitingStatus    `json:"waitingPeriodStatus"`
	PaymentPeriodStatus domain.PaymentStatus    `json:"paymentPeriodStatus,omitempty"`
	AgeCondition        *domain.AgeCondition    `json:"ageCondition,omitempty"`
	PolicyYearRange     *domain.PolicyYearRange `json:"policyYearRange,omitempty"`
	TerminatesContract  bool                    `json:"terminatesContract"`
	CumulativeLimit     int                     `json:"cumulativeLimit,omitempty"`

	// Rules lists the names of the rules that fired.
	Rules []string `json:"rules,omitempty"`
}

// ExtractTierHints reads waiting-period, payment-period, age and
// policy-year cues. Waiting status defaults to after.
func (e *Extractor) ExtractTierHints(text string) TierHints {
	text = Normalize(text)
	h := TierHints{WaitingPeriodStatus: domain.WaitingAfter}

	if m, ok := e.lib.WaitingPeriod.First(text); ok {
		h.WaitingPeriodStatus = m.Value
		h.Rules = append(h.Rules, m.Rule)
	}
	if m, ok := e.lib.PaymentPeriod.First(text); ok {
		h.PaymentPeriodStatus = m.Value
		h.Rules = append(h.Rules, m.Rule)
	}
	if m, ok := e.lib.AgeCondition.First(text); ok {
		cond := m.Value
		if e.lib.AtInception.MatchString(text) && !e.lib.AtClaim.MatchString(text) {
			cond.ReferenceTime = domain.AtInception
		}
		h.AgeCondition = &cond
		h.Rules = append(h.Rules, m.Rule)
	}
	if m, ok := e.lib.PolicyYearRange.First(text); ok {
		r := m.Value
		h.PolicyYearRange = &r
		h.Rules = append(h.Rules, m.Rule)
	}
	if m, ok := e.lib.Termination.First(text); ok {
		h.TerminatesContract = m.Value
		h.Rules = append(h.Rules, m.Rule)
	}
	if m, ok := e.lib.PayoutCount.First(text); ok && m.Rule == "cumulative_limit" {
		h.CumulativeLimit = m.Value.MaxCount
	}
	return h
}

// ApplyTo fills empty tier fields from the hints. The hints describe the
// whole clause, so they are only applied to a single-tier rule; tiers of
// a multi-tier rule without a waiting status default to after.
func (h TierHints) ApplyTo(tiers []domain.PayoutTier) {
	if len(tiers) != 1 {
		for i := range tiers {
			if tiers[i].WaitingPeriodStatus == "" {
				tiers[i].WaitingPeriodStatus = domain.WaitingAfter
			}
		}
		return
	}
	t := &tiers[0]
	if t.WaitingPeriodStatus == "" {
		t.WaitingPeriodStatus = h.WaitingPeriodStatus
	}
	if t.WaitingPeriodStatus == "" {
		t.WaitingPeriodStatus = domain.WaitingAfter
	}
	if t.PaymentPeriodStatus == "" {
		t.PaymentPeriodStatus = h.PaymentPeriodStatus
	}
	if t.AgeCondition == nil && h.AgeCondition != nil {
		cond := *h.AgeCondition
		t.AgeCondition = &cond
	}
	if t.PolicyYearRange == nil && h.PolicyYearRange != nil {
		r := *h.PolicyYearRange
		t.PolicyYearRange = &r
	}
}

// FallbackParse recognizes the narrow set of single-option formulas:
// paid premium, the sum insured, a percentage of it and compound growth.
// The clause is split into sentences and each sentence naming a formula
// becomes one tier with its own waiting, payment, age and policy-year
// hints. Sentences without a formula lend their conditions to the next
// one. It returns false when the clause needs the model.
func (e *Extractor) FallbackParse(text string) ([]domain.PayoutTier, bool) {
	norm := Normalize(text)
	if e.lib.Formula.Excluded(norm) {
		return nil, false
	}

	var (
		tiers   []domain.PayoutTier
		pending string
	)
	for _, seg := range segments(norm) {
		seg = pending + seg
		m, ok := e.lib.Formula.First(seg)
		if !ok {
			pending = seg + "，"
			continue
		}
		pending = ""

		h := e.ExtractTierHints(seg)
		tier := domain.PayoutTier{
			Period:              PeriodText(h),
			WaitingPeriodStatus: h.WaitingPeriodStatus,
			PaymentPeriodStatus: h.PaymentPeriodStatus,
			AgeCondition:        h.AgeCondition,
			PolicyYearRange:     h.PolicyYearRange,
			Formula:             m.Value.Formula,
			FormulaType:         m.Value.Type,
			Percentage:          m.Value.Percentage,
			InterestRate:        m.Value.InterestRate,
		}
		if !containsTier(tiers, tier) {
			tiers = append(tiers, tier)
		}
	}
	return tiers, len(tiers) > 0
}

// segments splits normalized clause text on sentence and clause
// terminators, dropping empty pieces.
func segments(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '。' || r == '；' || r == ';'
	})
	out := parts[:0]
	for _, p := range parts {
		if p = strings.Trim(p, "，,：:"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsTier(tiers []domain.PayoutTier, t domain.PayoutTier) bool {
	for _, o := range tiers {
		if o.Period == t.Period && o.Formula == t.Formula && o.WaitingPeriodStatus == t.WaitingPeriodStatus {
			return true
		}
	}
	return false
}

// PeriodText renders the hints as a short period label, e.g.
// "等待期后未满18周岁且第11个保单周年日前".
func PeriodText(h TierHints) string {
	var b strings.Builder
	switch h.WaitingPeriodStatus {
	case domain.WaitingDuring:
		b.WriteString("等待期内")
	default:
		b.WriteString("等待期后")
	}

	if c := h.AgeCondition; c != nil {
		if c.ReferenceTime == domain.AtInception {
			b.WriteString("投保时")
		}
		b.WriteString(ageText(*c))
	}

	if r := h.PolicyYearRange; r != nil {
		switch {
		case r.EndYear != nil:
			b.WriteString("且第" + strconv.Itoa(*r.EndYear+1) + "个保单周年日前")
		case r.StartYear > 1:
			b.WriteString("且第" + strconv.Itoa(r.StartYear) + "个保单周年日后")
		}
	}
	return b.String()
}

func ageText(c domain.AgeCondition) string {
	lim := strconv.Itoa(c.Limit)
	switch c.Operator {
	case domain.AgeLess:
		return "未满" + lim + "周岁"
	case domain.AgeLessEqual:
		return "不超过" + lim + "周岁"
	case domain.AgeGreater:
		return "超过" + lim + "周岁"
	case domain.AgeGreaterEqual:
		return "满" + lim + "周岁"
	}
	return ""
}
