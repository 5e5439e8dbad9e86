package models

import (
	"fmt"
	"strings"
)

// ConditionOperator enumerates the comparison operators usable in trigger and
// policy predicates.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "eq"
	OpNotEquals   ConditionOperator = "ne"
	OpGreaterThan ConditionOperator = "gt"
	OpGreaterOrEq ConditionOperator = "gte"
	OpLessThan    ConditionOperator = "lt"
	OpLessOrEq    ConditionOperator = "lte"
	OpExists      ConditionOperator = "exists"
	OpAbsent      ConditionOperator = "absent"
	OpIn          ConditionOperator = "in"
	OpPrefix      ConditionOperator = "prefix"
)

// Condition is a single predicate evaluated against a key/value payload.
// Zero-valued operator defaults to equality.
type Condition struct {
	Field    string            `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`
}

// Evaluate checks the condition against the given payload. Missing fields
// satisfy only the absent operator.
func (c Condition) Evaluate(payload map[string]any) bool {
	value, present := payload[c.Field]

	switch c.Operator {
	case OpExists:
		return present
	case OpAbsent:
		return !present
	}

	if !present {
		return false
	}

	switch c.Operator {
	case OpEquals, "":
		return coerceString(value) == coerceString(c.Value)
	case OpNotEquals:
		return coerceString(value) != coerceString(c.Value)
	case OpGreaterThan, OpGreaterOrEq, OpLessThan, OpLessOrEq:
		left, leftOk := coerceFloat(value)
		right, rightOk := coerceFloat(c.Value)

		if !leftOk || !rightOk {
			return false
		}

		switch c.Operator {
		case OpGreaterThan:
			return left > right
		case OpGreaterOrEq:
			return left >= right
		case OpLessThan:
			return left < right
		default:
			return left <= right
		}
	case OpIn:
		options, ok := c.Value.([]any)
		if !ok {
			return false
		}

		for _, option := range options {
			if coerceString(value) == coerceString(option) {
				return true
			}
		}

		return false
	case OpPrefix:
		return strings.HasPrefix(coerceString(value), coerceString(c.Value))
	default:
		return false
	}
}

// EvaluateAll reports whether every condition holds. An empty list holds
// trivially.
func EvaluateAll(conditions []Condition, payload map[string]any) bool {
	for _, condition := range conditions {
		if !condition.Evaluate(payload) {
			return false
		}
	}

	return true
}

func coerceString(v any) string {
	return fmt.Sprintf("%v", v)
}

func coerceFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	}

	return 0, false
}
