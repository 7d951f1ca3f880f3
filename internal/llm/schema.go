package llm

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// canonicalSchema describes the canonical document after normalization.
func canonicalSchema() map[string]any {
	tier := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"period":              map[string]any{"type": "string"},
			"waitingPeriodStatus": map[string]any{"enum": []any{"during", "after", ""}},
			"paymentPeriodStatus": map[string]any{"enum": []any{"during", "after", ""}},
			"ageCondition": map[string]any{
				"type":     "object",
				"required": []any{"limit", "operator"},
				"properties": map[string]any{
					"limit":         map[string]any{"type": "integer", "minimum": 0, "maximum": 150},
					"operator":      map[string]any{"enum": []any{"<", "<=", ">", ">="}},
					"referenceTime": map[string]any{"enum": []any{"atInception", "atClaim", ""}},
				},
			},
			"policyYearRange": map[string]any{
				"type":     "object",
				"required": []any{"startYear"},
				"properties": map[string]any{
					"startYear": map[string]any{"type": "integer", "minimum": 1},
					"endYear":   map[string]any{"type": []any{"integer", "null"}, "minimum": 1},
				},
			},
			"formula": map[string]any{"type": "string"},
			"formulaType": map[string]any{"enum": []any{
				"fixed", "percentage", "compound", "simple", "max", "paid_premium", "unknown", "",
			}},
			"percentage":   map[string]any{"type": "number", "minimum": 0},
			"interestRate": map[string]any{"type": "number", "minimum": 0},
			"ratio": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"ageRange", "ratio"},
					"properties": map[string]any{
						"ageRange": map[string]any{"type": "string"},
						"ratio":    map[string]any{"type": "number", "exclusiveMinimum": 0},
					},
				},
			},
		},
	}

	return map[string]any{
		"type":     "object",
		"required": []any{"payoutAmount"},
		"properties": map[string]any{
			"payoutAmount": map[string]any{
				"type":     "object",
				"required": []any{"tiers"},
				"properties": map[string]any{
					"tiers": map[string]any{"type": "array", "minItems": 1, "items": tier},
				},
			},
			"payoutCount": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"type":     map[string]any{"enum": []any{"single", "limited", "unlimited"}},
					"maxCount": map[string]any{"type": "integer", "minimum": 0},
				},
			},
			"intervalPeriod": map[string]any{
				"type":       "object",
				"properties": map[string]any{"days": map[string]any{"type": "integer", "minimum": 0}},
			},
			"naturalLanguageDescription": map[string]any{"type": "string"},
			"overallConfidence":          map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
	}
}

// SchemaValidator checks canonical documents.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the canonical schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	b, err := json.Marshal(canonicalSchema())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate returns one message per schema violation.
func (v *SchemaValidator) Validate(doc map[string]any) []string {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{err.Error()}
	}
	var out []string
	collectViolations(ve, &out)
	if len(out) == 0 {
		out = append(out, ve.Error())
	}
	return out
}

func collectViolations(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		*out = append(*out, fmt.Sprintf("%s: %s", location(ve.InstanceLocation), ve.Message))
		return
	}
	for _, c := range ve.Causes {
		collectViolations(c, out)
	}
}

func location(l string) string {
	if l == "" {
		return "/"
	}
	return l
}
