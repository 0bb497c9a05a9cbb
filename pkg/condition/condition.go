// Package condition evaluates boolean predicates built from two expressions and an operator.
package condition

import (
	"math"
	"strings"

	"github.com/dukex/flowpilot/pkg/expression"
	"github.com/dukex/flowpilot/pkg/models"
)

// Operator names a comparison.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
)

// Condition is a predicate whose operands are expressions.
type Condition struct {
	Op    Operator `json:"op"`
	Left  string   `json:"left"`
	Right string   `json:"right"`
}

// Evaluate resolves both operands against the run context and compares them.
func Evaluate(cond Condition, runCtx *models.RunContext) bool {
	left := expression.Resolve(cond.Left, runCtx)
	right := expression.Resolve(cond.Right, runCtx)

	return Compare(cond.Op, left, right)
}

// Compare applies op to two already-resolved values. Unknown operators are false.
func Compare(op Operator, left, right any) bool {
	switch op {
	case OpEq:
		return expression.StrictEqual(left, right)
	case OpNeq:
		return !expression.StrictEqual(left, right)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumbers(op, expression.ToNumber(left), expression.ToNumber(right))
	case OpContains:
		return contains(left, right)
	default:
		return false
	}
}

func compareNumbers(op Operator, left, right float64) bool {
	if math.IsNaN(left) || math.IsNaN(right) {
		return false
	}

	switch op {
	case OpGt:
		return left > right
	case OpGte:
		return left >= right
	case OpLt:
		return left < right
	default:
		return left <= right
	}
}

func contains(left, right any) bool {
	switch haystack := left.(type) {
	case []any:
		for _, item := range haystack {
			if expression.StrictEqual(item, right) {
				return true
			}
		}

		return false
	case []string:
		needle, ok := right.(string)
		if !ok {
			return false
		}

		for _, item := range haystack {
			if item == needle {
				return true
			}
		}

		return false
	case string:
		return strings.Contains(haystack, expression.ToString(right))
	default:
		return false
	}
}
