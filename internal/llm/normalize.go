package llm

import (
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/domain"
)

const (
	// defaultModelConfidence applies when the model reports none.
	defaultModelConfidence = 0.7
	// schemaViolationCap bounds confidence for documents that fail the schema.
	schemaViolationCap = 0.5
	maxRawDescription  = 200
)

// tierKeys are the fields that mark a flat, unwrapped tier.
var tierKeys = []string{
	"formula", "formulaType", "waitingPeriodStatus", "paymentPeriodStatus",
	"ageCondition", "policyYearRange", "percentage", "interestRate", "ratio", "period",
}

// Normalized is the outcome of the normalization ladder.
type Normalized struct {
	Result    *domain.ParsedResult
	Warnings  []string
	Repairs   []string
	Recovered bool
}

type modelDoc struct {
	PayoutAmount struct {
		Tiers []domain.PayoutTier `json:"tiers"`
	} `json:"payoutAmount"`
	PayoutCount                *domain.PayoutCount      `json:"payoutCount"`
	IntervalPeriod             *domain.IntervalPeriod   `json:"intervalPeriod"`
	Grouping                   *domain.Grouping         `json:"grouping"`
	RepeatablePayout           *domain.RepeatablePayout `json:"repeatablePayout"`
	PremiumWaiver              *domain.PremiumWaiver    `json:"premiumWaiver"`
	NaturalLanguageDescription string                   `json:"naturalLanguageDescription"`
	OverallConfidence          *float64                 `json:"overallConfidence"`
	TerminatesContract         bool                     `json:"terminatesContract"`
}

// Normalize runs the recovery ladder over a model response. It never fails:
// unreadable output becomes a zero-confidence result with an unknown tier.
func Normalize(resp *Response, validator *SchemaValidator, glossary *Glossary) Normalized {
	text := resp.Content
	if strings.TrimSpace(text) == "" && strings.TrimSpace(resp.Reasoning) != "" {
		text = LongestObject(resp.Reasoning)
	}

	v, applied, ok := decodeLenient(text)
	if !ok {
		raw := text
		if strings.TrimSpace(raw) == "" {
			raw = resp.Reasoning
		}
		return Normalized{Result: unrecovered(raw), Warnings: []string{"model output could not be parsed"}, Repairs: applied}
	}

	doc, shape := canonicalize(v)
	if doc == nil {
		return Normalized{Result: unrecovered(text), Warnings: []string{"model output has no recognizable structure"}, Repairs: applied}
	}
	if shape != "" {
		applied = append(applied, shape)
	}
	coerce(doc)

	var warnings []string
	if validator != nil {
		warnings = validator.Validate(doc)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return Normalized{Result: unrecovered(text), Warnings: []string{err.Error()}, Repairs: applied}
	}
	var md modelDoc
	if err := json.Unmarshal(b, &md); err != nil {
		return Normalized{Result: unrecovered(text), Warnings: append(warnings, "decode: "+err.Error()), Repairs: applied}
	}

	confidence := defaultModelConfidence
	if md.OverallConfidence != nil {
		confidence = min(max(*md.OverallConfidence, 0), 1)
	}
	if len(warnings) > 0 {
		confidence = min(confidence, schemaViolationCap)
	}

	r := &domain.ParsedResult{
		NaturalLanguageDescription: domain.TruncateDescription(glossary.Normalize(strings.TrimSpace(md.NaturalLanguageDescription))),
		OverallConfidence:          confidence,
		ParseMethod:                domain.MethodLLM,
		TerminatesContract:         md.TerminatesContract,
	}
	r.PayoutAmount.Tiers = md.PayoutAmount.Tiers
	for i := range r.PayoutAmount.Tiers {
		t := &r.PayoutAmount.Tiers[i]
		t.ResetEvaluation()
		t.Formula = glossary.Normalize(strings.TrimSpace(t.Formula))
		t.Period = glossary.Normalize(strings.TrimSpace(t.Period))
		if t.FormulaType == "" {
			t.FormulaType = domain.FormulaUnknown
		}
	}

	r.PayoutCount = modelField(md.PayoutCount, confidence)
	r.IntervalPeriod = modelField(md.IntervalPeriod, confidence)
	r.Grouping = modelField(md.Grouping, confidence)
	r.RepeatablePayout = modelField(md.RepeatablePayout, confidence)
	r.PremiumWaiver = modelField(md.PremiumWaiver, confidence)

	return Normalized{Result: r, Warnings: warnings, Repairs: applied, Recovered: true}
}

func modelField[T any](v *T, confidence float64) domain.Field[T] {
	if v == nil {
		return domain.Field[T]{Source: domain.SourceNone}
	}
	return domain.Field[T]{Value: v, Confidence: confidence, Source: domain.SourceLLM}
}

// canonicalize rewrites the structural variants onto
// {payoutAmount:{tiers:[...]}, ...}. It reports which variant it fixed.
func canonicalize(v any) (map[string]any, string) {
	switch t := v.(type) {
	case []any:
		return map[string]any{"payoutAmount": map[string]any{"tiers": t}}, "bare_array"
	case map[string]any:
		switch pa := t["payoutAmount"].(type) {
		case map[string]any:
			if _, ok := pa["tiers"]; ok {
				return t, ""
			}
			if hasTierKeys(pa) {
				t["payoutAmount"] = map[string]any{"tiers": []any{pa}}
				return t, "flat_payout_amount"
			}
		case []any:
			t["payoutAmount"] = map[string]any{"tiers": pa}
			return t, "payout_amount_array"
		}
		if tiers, ok := t["tiers"].([]any); ok {
			delete(t, "tiers")
			t["payoutAmount"] = map[string]any{"tiers": tiers}
			return t, "top_level_tiers"
		}
		if hasTierKeys(t) {
			tier := make(map[string]any)
			for _, k := range tierKeys {
				if val, ok := t[k]; ok {
					tier[k] = val
					delete(t, k)
				}
			}
			t["payoutAmount"] = map[string]any{"tiers": []any{tier}}
			return t, "flat_tier"
		}
		return t, ""
	}
	return nil, ""
}

func hasTierKeys(m map[string]any) bool {
	for _, k := range tierKeys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// coerce fixes the value-level variants the model produces: numbers as
// strings, percentages with a % sign, start/end keys for year ranges and
// ratio tables keyed by age range.
func coerce(doc map[string]any) {
	pa, _ := doc["payoutAmount"].(map[string]any)
	tiers, _ := pa["tiers"].([]any)
	for _, raw := range tiers {
		tier, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		numberField(tier, "percentage")
		numberField(tier, "interestRate")
		if r, ok := tier["policyYearRange"].(map[string]any); ok {
			renameKey(r, "start", "startYear")
			renameKey(r, "end", "endYear")
			numberField(r, "startYear")
			numberField(r, "endYear")
		} else if tier["policyYearRange"] != nil {
			delete(tier, "policyYearRange")
		}
		if a, ok := tier["ageCondition"].(map[string]any); ok {
			numberField(a, "limit")
		} else if tier["ageCondition"] != nil {
			delete(tier, "ageCondition")
		}
		if bands, ok := ratioBands(tier["ratio"]); ok {
			tier["ratio"] = bands
		} else {
			delete(tier, "ratio")
		}
		for _, k := range []string{"formula", "period"} {
			if val, ok := tier[k]; ok {
				if _, isString := val.(string); !isString {
					delete(tier, k)
				}
			}
		}
	}
	if pc, ok := doc["payoutCount"].(map[string]any); ok {
		numberField(pc, "maxCount")
	}
	if ip, ok := doc["intervalPeriod"].(map[string]any); ok {
		numberField(ip, "days")
		numberField(ip, "value")
	}
	numberField(doc, "overallConfidence")
	for _, k := range []string{"payoutCount", "intervalPeriod", "grouping", "repeatablePayout", "premiumWaiver"} {
		if _, ok := doc[k].(map[string]any); !ok {
			delete(doc, k)
		}
	}
}

// ratioBands accepts the band list or the {"18-40":1.6} object form and
// returns the list form. Bands without a numeric ratio are dropped.
func ratioBands(v any) ([]any, bool) {
	var bands []any
	switch t := v.(type) {
	case []any:
		for _, raw := range t {
			b, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := b["ageRange"].(string); !ok {
				continue
			}
			numberField(b, "ratio")
			if _, ok := b["ratio"].(float64); ok {
				bands = append(bands, b)
			}
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b := map[string]any{"ageRange": k, "ratio": t[k]}
			numberField(b, "ratio")
			if _, ok := b["ratio"].(float64); ok {
				bands = append(bands, b)
			}
		}
	}
	return bands, len(bands) > 0
}

func renameKey(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		if _, exists := m[to]; !exists {
			m[to] = v
		}
		delete(m, from)
	}
}

func numberField(m map[string]any, key string) {
	v, ok := m[key]
	if !ok {
		return
	}
	switch t := v.(type) {
	case float64, nil:
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSuffix(t, "%"), "％"))
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			m[key] = f
		} else {
			delete(m, key)
		}
	default:
		delete(m, key)
	}
}

// unrecovered is the last rung of the ladder.
func unrecovered(raw string) *domain.ParsedResult {
	desc := []rune(strings.TrimSpace(raw))
	if len(desc) > maxRawDescription {
		desc = desc[:maxRawDescription]
	}
	r := &domain.ParsedResult{
		NaturalLanguageDescription: string(desc),
		OverallConfidence:          0,
		ParseMethod:                domain.MethodLLM,
	}
	r.PayoutAmount.Tiers = []domain.PayoutTier{{
		WaitingPeriodStatus: domain.WaitingAfter,
		FormulaType:         domain.FormulaUnknown,
	}}
	r.PayoutCount.Source = domain.SourceNone
	r.IntervalPeriod.Source = domain.SourceNone
	r.Grouping.Source = domain.SourceNone
	r.RepeatablePayout.Source = domain.SourceNone
	r.PremiumWaiver.Source = domain.SourceNone
	return r
}
