package services

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/recallmesh/recallmesh/pkg/models"
)

// Condition schemas per rule type. Unknown keys are rejected so a typo
// does not silently turn a rule into a match-everything rule.
var ruleConditionSchemas = map[string]*gojsonschema.Schema{
	models.RuleTypeAge: mustCompileSchema(`{
		"type": "object",
		"properties": {
			"days": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`),
	models.RuleTypeImportance: mustCompileSchema(`{
		"type": "object",
		"properties": {
			"threshold": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"additionalProperties": false
	}`),
	models.RuleTypeConversationAge: mustCompileSchema(`{
		"type": "object",
		"properties": {
			"days": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`),
	models.RuleTypeMaxItems: mustCompileSchema(`{
		"type": "object",
		"properties": {
			"max_items": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`),
	models.RuleTypeCustom: mustCompileSchema(`{
		"type": "object",
		"properties": {
			"role": {"type": "string", "enum": ["user", "assistant", "system"]},
			"min_importance": {"type": "number", "minimum": 0, "maximum": 1},
			"max_importance": {"type": "number", "minimum": 0, "maximum": 1}
		},
		"additionalProperties": false
	}`),
}

func mustCompileSchema(schema string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("invalid rule condition schema: %v", err))
	}
	return s
}

// validateRuleConditions checks conditions against the rule type's
// schema. Every condition key is optional; the engine falls back to
// built-in defaults for absent keys.
func validateRuleConditions(ruleType string, conditions map[string]interface{}) error {
	schema, ok := ruleConditionSchemas[ruleType]
	if !ok {
		return models.NewValidationErrorf("unknown rule_type %q", ruleType)
	}
	if conditions == nil {
		conditions = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(conditions))
	if err != nil {
		return models.NewValidationErrorf("invalid conditions: %v", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return models.NewValidationErrorf("invalid conditions: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Condition readers. JSON numbers decode as float64; values written in
// tests may be native ints.

func conditionInt(c models.JSONMap, key string, def int) int {
	if v, ok := conditionFloat(c, key); ok {
		return int(v)
	}
	return def
}

func conditionFloat(c models.JSONMap, key string) (float64, bool) {
	switch v := c[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func conditionFloatDefault(c models.JSONMap, key string, def float64) float64 {
	if v, ok := conditionFloat(c, key); ok {
		return v
	}
	return def
}

func conditionString(c models.JSONMap, key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}
