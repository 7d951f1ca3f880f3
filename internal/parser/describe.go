package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/insurelab/coverage-parser/internal/domain"
	"github.com/insurelab/coverage-parser/internal/hardrule"
)

// MaxDescriptionRunes bounds the natural-language description.
const MaxDescriptionRunes = domain.MaxDescriptionRunes

var benefitKinds = []struct {
	cue   []string
	label string
}{
	{[]string{"重大疾病", "重度疾病"}, "确诊重大疾病"},
	{[]string{"中症疾病", "中度疾病"}, "确诊中症疾病"},
	{[]string{"轻症疾病", "轻度疾病"}, "确诊轻症疾病"},
	{[]string{"恶性肿瘤"}, "确诊恶性肿瘤"},
	{[]string{"特定疾病"}, "确诊特定疾病"},
	{[]string{"意外伤害", "意外身故", "意外"}, "发生意外"},
	{[]string{"身故", "死亡"}, "身故"},
	{[]string{"全残", "伤残"}, "全残"},
	{[]string{"生存", "年金"}, "生存至约定年龄"},
}

var multiplier = regexp.MustCompile(`[×*]\s*(\d+(?:\.\d+)?%?)`)

// Describe builds a short description of the first payable tier.
func Describe(text string, tiers []domain.PayoutTier) string {
	if len(tiers) == 0 {
		return ""
	}
	tier := tiers[0]
	for _, t := range tiers {
		if !t.InWaitingPeriod() {
			tier = t
			break
		}
	}

	var b strings.Builder
	b.WriteString(PeriodLabel(tier))
	b.WriteString(benefitKind(text))

	switch f := tier.Formula; {
	case f == "":
	case strings.HasPrefix(strings.ToLower(f), "max") || strings.Contains(f, "较大者"):
		b.WriteString("，按多项金额较大者给付")
	case strings.Contains(f, "已交保费"):
		b.WriteString("，按已交保费给付")
	case strings.Contains(f, "^"):
		b.WriteString("，按基本保额复利递增给付")
	default:
		if m := multiplier.FindStringSubmatch(f); m != nil {
			b.WriteString("，按基本保额×" + m[1] + "给付")
		} else {
			b.WriteString("，按基本保额给付")
		}
	}
	if len(tiers) > 1 {
		b.WriteString("，共" + strconv.Itoa(len(tiers)) + "档")
	}
	return domain.TruncateDescription(b.String())
}

// PeriodLabel renders a tier's conditions as a period label.
func PeriodLabel(t domain.PayoutTier) string {
	return hardrule.PeriodText(hardrule.TierHints{
		WaitingPeriodStatus: t.WaitingPeriodStatus,
		AgeCondition:        t.AgeCondition,
		PolicyYearRange:     t.PolicyYearRange,
	})
}

func benefitKind(text string) string {
	for _, k := range benefitKinds {
		for _, c := range k.cue {
			if strings.Contains(text, c) {
				return k.label
			}
		}
	}
	return "出险"
}
