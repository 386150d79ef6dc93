package schema

import (
	"context"
	"fmt"
	"sort"

	"eventhub/pkg/cel"
	"eventhub/pkg/metrics"
	"eventhub/pkg/models"
)

type RuleViolation struct {
	Rule    string `json:"rule"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type ValidationResult struct {
	OK              bool            `json:"ok"`
	MissingRequired []string        `json:"missing_required,omitempty"`
	Violations      []RuleViolation `json:"violations,omitempty"`
}

// PayloadValidator checks a submission payload against a resolved
// schema: required fields, declared field types and the schema's CEL
// rules. Malformed input is reported in the result, never as an error.
type PayloadValidator struct {
	evaluator *cel.Evaluator
}

func NewPayloadValidator(evaluator *cel.Evaluator) *PayloadValidator {
	return &PayloadValidator{evaluator: evaluator}
}

func (v *PayloadValidator) Validate(ctx context.Context, msg models.SubmissionEnvelope, schema *EventSchema) ValidationResult {
	result := ValidationResult{OK: true}

	for _, field := range schema.RequiredFields {
		value, ok := msg.GetPayloadField(field)
		if !ok || isEmpty(value) {
			result.MissingRequired = append(result.MissingRequired, field)
		}
	}
	sort.Strings(result.MissingRequired)

	result.Violations = append(result.Violations, v.checkShape(msg.Payload, schema.SchemaJSON)...)
	result.Violations = append(result.Violations, v.evaluateRules(ctx, msg, schema.BusinessRules, "business")...)
	result.Violations = append(result.Violations, v.evaluateRules(ctx, msg, schema.DataQualityRules, "data_quality")...)

	result.OK = len(result.MissingRequired) == 0 && len(result.Violations) == 0

	status := "ok"
	if !result.OK {
		status = "rejected"
	}
	metrics.SchemaValidationsTotal.WithLabelValues(schema.EventType, status).Inc()

	return result
}

// checkShape verifies declared property types. The contract format is a
// JSON object with a "properties" map of field name to {"type": ...};
// unknown or absent declarations are skipped.
func (v *PayloadValidator) checkShape(payload map[string]interface{}, schemaJSON map[string]interface{}) []RuleViolation {
	if schemaJSON == nil {
		return nil
	}

	properties, ok := schemaJSON["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []RuleViolation
	for _, name := range names {
		spec, ok := properties[name].(map[string]interface{})
		if !ok {
			continue
		}
		wantType, ok := spec["type"].(string)
		if !ok {
			continue
		}

		value, present := payload[name]
		if !present || value == nil {
			continue
		}

		if !matchesType(value, wantType) {
			violations = append(violations, RuleViolation{
				Rule:    name,
				Kind:    "shape",
				Message: fmt.Sprintf("field '%s' must be of type %s, got %T", name, wantType, value),
			})
		}
	}

	return violations
}

func (v *PayloadValidator) evaluateRules(ctx context.Context, msg models.SubmissionEnvelope, rules []string, kind string) []RuleViolation {
	if v.evaluator == nil {
		return nil
	}

	var violations []RuleViolation
	for _, rule := range rules {
		passed, err := v.evaluator.EvaluateRule(ctx, rule, msg)
		if err != nil {
			violations = append(violations, RuleViolation{
				Rule:    rule,
				Kind:    kind,
				Message: fmt.Sprintf("rule evaluation failed: %v", err),
			})
			continue
		}
		if !passed {
			violations = append(violations, RuleViolation{
				Rule:    rule,
				Kind:    kind,
				Message: "rule not satisfied",
			})
		}
	}

	return violations
}

func matchesType(value interface{}, wantType string) bool {
	switch wantType {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
			return true
		}
		return false
	case "integer":
		switch n := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		}
		return false
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case []interface{}:
		return len(v) == 0
	case map[string]interface{}:
		return len(v) == 0
	}
	return false
}
