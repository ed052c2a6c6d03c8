// Package resolver contains the oracle resolution engine: a pure condition
// evaluator and the runner that polls pending markets, fetches ground truth,
// and settles outcomes on-chain.
package resolver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Juggernaut7/convex/internal/domain"
)

// Operator is a comparison operator for condition evaluation.
type Operator string

const (
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
)

// Evaluate maps a fetched value, an operator, and a target to a binary
// outcome. Numbers pass through, booleans become 1/0, and strings are parsed
// as numbers; a string that does not parse falls back to truthiness (a
// non-empty value resolves yes) so non-numeric event results still resolve
// deterministically. An unsupported operator is a configuration error, not a
// retryable failure. No I/O, no side effects.
func Evaluate(value any, op Operator, target float64) (domain.Outcome, error) {
	num, ok := coerce(value)
	if !ok {
		// Truthiness fallback for unparseable values.
		s, _ := value.(string)
		if strings.TrimSpace(s) != "" {
			return domain.OutcomeYes, nil
		}
		return domain.OutcomeNo, nil
	}

	var yes bool
	switch op {
	case OpGT:
		yes = num > target
	case OpLT:
		yes = num < target
	case OpGTE:
		yes = num >= target
	case OpLTE:
		yes = num <= target
	case OpEQ:
		yes = num == target
	default:
		return "", fmt.Errorf("resolver: %w: unsupported operator %q", domain.ErrConfig, op)
	}

	if yes {
		return domain.OutcomeYes, nil
	}
	return domain.OutcomeNo, nil
}

// coerce converts value to float64. The second return is false only for
// strings that do not parse as a finite number.
func coerce(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
