package schema

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventhub/pkg/cel"
	"eventhub/pkg/models"
)

func newTestValidator(t *testing.T) *PayloadValidator {
	t.Helper()
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	return NewPayloadValidator(evaluator)
}

func envelope(payload map[string]interface{}) models.SubmissionEnvelope {
	return models.SubmissionEnvelope{
		EventID:        "evt-1",
		EventType:      "order.placed",
		Source:         "checkout",
		EventTimestamp: time.Now(),
		Payload:        payload,
	}
}

func TestValidateRequiredFields(t *testing.T) {
	validator := newTestValidator(t)
	schema := &EventSchema{
		EventType:      "order.placed",
		Version:        "1.0",
		RequiredFields: []string{"order_id", "amount"},
	}

	tests := []struct {
		name    string
		payload map[string]interface{}
		ok      bool
		missing []string
	}{
		{
			name:    "all present",
			payload: map[string]interface{}{"order_id": "o-1", "amount": 10.5},
			ok:      true,
		},
		{
			name:    "one missing",
			payload: map[string]interface{}{"order_id": "o-1"},
			ok:      false,
			missing: []string{"amount"},
		},
		{
			name:    "empty string counts as missing",
			payload: map[string]interface{}{"order_id": "", "amount": 10.5},
			ok:      false,
			missing: []string{"order_id"},
		},
		{
			name:    "missing fields sorted",
			payload: map[string]interface{}{},
			ok:      false,
			missing: []string{"amount", "order_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.Validate(context.Background(), envelope(tt.payload), schema)
			assert.Equal(t, tt.ok, result.OK)
			assert.Equal(t, tt.missing, result.MissingRequired)
		})
	}
}

func TestValidateShape(t *testing.T) {
	validator := newTestValidator(t)
	schema := &EventSchema{
		EventType: "order.placed",
		Version:   "1.0",
		SchemaJSON: map[string]interface{}{
			"properties": map[string]interface{}{
				"order_id": map[string]interface{}{"type": "string"},
				"amount":   map[string]interface{}{"type": "number"},
				"quantity": map[string]interface{}{"type": "integer"},
				"express":  map[string]interface{}{"type": "boolean"},
				"items":    map[string]interface{}{"type": "array"},
			},
		},
	}

	t.Run("conforming payload passes", func(t *testing.T) {
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{
			"order_id": "o-1",
			"amount":   19.99,
			"quantity": float64(3),
			"express":  true,
			"items":    []interface{}{"a", "b"},
		}), schema)
		assert.True(t, result.OK)
		assert.Empty(t, result.Violations)
	})

	t.Run("wrong types are reported", func(t *testing.T) {
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{
			"order_id": 42,
			"quantity": 3.5,
		}), schema)
		assert.False(t, result.OK)
		require.Len(t, result.Violations, 2)
		assert.Equal(t, "shape", result.Violations[0].Kind)
		assert.Equal(t, "order_id", result.Violations[0].Rule)
		assert.Equal(t, "quantity", result.Violations[1].Rule)
	})

	t.Run("absent fields are not shape violations", func(t *testing.T) {
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{
			"order_id": "o-1",
		}), schema)
		assert.True(t, result.OK)
	})
}

func TestValidateRules(t *testing.T) {
	validator := newTestValidator(t)
	schema := &EventSchema{
		EventType:     "order.placed",
		Version:       "1.0",
		BusinessRules: []string{`double(payload.amount) > 0.0`},
		DataQualityRules: []string{
			`event_type == 'order.placed'`,
		},
	}

	t.Run("rules pass", func(t *testing.T) {
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{
			"amount": 10.0,
		}), schema)
		assert.True(t, result.OK)
	})

	t.Run("failed rule reported with kind", func(t *testing.T) {
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{
			"amount": -5.0,
		}), schema)
		assert.False(t, result.OK)
		require.Len(t, result.Violations, 1)
		assert.Equal(t, "business", result.Violations[0].Kind)
		assert.Equal(t, "rule not satisfied", result.Violations[0].Message)
	})

	t.Run("evaluation error becomes violation", func(t *testing.T) {
		broken := &EventSchema{
			EventType:     "order.placed",
			Version:       "1.0",
			BusinessRules: []string{`payload.missing.deeply.nested > 0`},
		}
		result := validator.Validate(context.Background(), envelope(map[string]interface{}{}), broken)
		assert.False(t, result.OK)
		require.Len(t, result.Violations, 1)
		assert.Contains(t, result.Violations[0].Message, "rule evaluation failed")
	})
}
