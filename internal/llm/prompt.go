package llm

import (
	"fmt"

	"github.com/insurelab/coverage-parser/internal/domain"
)

const systemPrompt = `你是保险条款解析助手。阅读一条保险责任条款，输出一个 JSON 对象，不要输出任何解释或代码块标记。

JSON 结构：
{
  "payoutAmount": {"tiers": [{
    "period": "该阶段的文字描述",
    "waitingPeriodStatus": "during 或 after",
    "paymentPeriodStatus": "during 或 after，可省略",
    "ageCondition": {"limit": 18, "operator": "< <= > >=", "referenceTime": "atInception 或 atClaim"},
    "policyYearRange": {"startYear": 1, "endYear": 10},
    "formula": "基本保额×100% / 已交保费×160% / Max(选项1, 选项2)",
    "formulaType": "fixed percentage compound simple max paid_premium unknown",
    "percentage": 100,
    "interestRate": 0.035,
    "ratio": [{"ageRange": "18-40", "ratio": 1.6}]
  }]},
  "payoutCount": {"type": "single limited unlimited", "maxCount": 1},
  "intervalPeriod": {"days": 365},
  "grouping": {"isGrouped": false, "groupCount": 0},
  "repeatablePayout": {"isRepeatable": false},
  "premiumWaiver": {"isWaived": false},
  "naturalLanguageDescription": "不超过50字的中文概述",
  "overallConfidence": 0.9
}

规则：
- 公式只使用这些术语：基本保额、已交保费、年交保费、现金价值、n（保单年度序号，从0开始）。
- 等待期内与等待期后的给付分别作为不同的阶段。
- 条款未提及的字段省略，不要猜测。
- policyYearRange 的 endYear 为 null 表示一直有效。`

const fewShotClause = `被保险人于等待期后初次确诊本合同所定义的重度疾病，若确诊时未满18周岁，我们按基本保额的200%给付重度疾病保险金；若确诊时已满18周岁，我们按基本保额的100%给付重度疾病保险金。本项保险金的给付以一次为限。被保险人于等待期内确诊的，我们按已交保费给付，本合同终止。`

const fewShotAnswer = `{"payoutAmount":{"tiers":[{"period":"等待期内确诊","waitingPeriodStatus":"during","formula":"已交保费","formulaType":"paid_premium","percentage":100},{"period":"等待期后未满18周岁确诊","waitingPeriodStatus":"after","ageCondition":{"limit":18,"operator":"<","referenceTime":"atClaim"},"formula":"基本保额×200%","formulaType":"percentage","percentage":200},{"period":"等待期后年满18周岁确诊","waitingPeriodStatus":"after","ageCondition":{"limit":18,"operator":">=","referenceTime":"atClaim"},"formula":"基本保额×100%","formulaType":"percentage","percentage":100}]},"payoutCount":{"type":"single","maxCount":1},"repeatablePayout":{"isRepeatable":false},"naturalLanguageDescription":"等待期后重疾未满18岁赔200%保额，成年赔100%，限一次","overallConfidence":0.95}`

// BuildRequest assembles the fixed prompt for one clause.
func BuildRequest(in domain.ClauseInput, cfg domain.ModelConfig) Request {
	return Request{
		System: systemPrompt,
		Messages: []Message{
			{Role: RoleUser, Content: userTurn(fewShotClause, domain.CoverageDisease)},
			{Role: RoleAssistant, Content: fewShotAnswer},
			{Role: RoleUser, Content: userTurn(in.Text, in.CoverageType)},
		},
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
}

func userTurn(text string, t domain.CoverageType) string {
	return fmt.Sprintf("保障类型：%s\n条款：\n%s", t, text)
}
