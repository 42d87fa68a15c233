package rules

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Operator names recognised by the evaluator.
const (
	OpAnd          = "and"
	OpOr           = "or"
	OpNot          = "!"
	OpNotWord      = "not"
	OpEqual        = "=="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpIn           = "in"
	OpStartsWith   = "starts_with"
	OpVar          = "var"
)

// comparisons maps binary comparison operators to their implementation.
// Every comparison involving a nil operand is false.
var comparisons = map[string]func(a, b any) bool{
	OpEqual:        compareEqual,
	OpNotEqual:     func(a, b any) bool { return a != nil && b != nil && !compareEqual(a, b) },
	OpGreater:      func(a, b any) bool { c, ok := compareOrdered(a, b); return ok && c > 0 },
	OpGreaterEqual: func(a, b any) bool { c, ok := compareOrdered(a, b); return ok && c >= 0 },
	OpLess:         func(a, b any) bool { c, ok := compareOrdered(a, b); return ok && c < 0 },
	OpLessEqual:    func(a, b any) bool { c, ok := compareOrdered(a, b); return ok && c <= 0 },
	OpIn:           evaluateIn,
	OpStartsWith:   evaluateStartsWith,
}

// IsKnownOperator reports whether op is handled by the evaluator.
func IsKnownOperator(op string) bool {
	switch op {
	case OpAnd, OpOr, OpNot, OpNotWord, OpVar:
		return true
	}
	_, ok := comparisons[op]
	return ok
}

// compareEqual checks equality. Numbers compare by value regardless of
// their Go type.
func compareEqual(a, b any) bool {
	if a == nil || b == nil {
		return false
	}

	an, aok := convertToFloat64(a)
	bn, bok := convertToFloat64(b)
	if aok && bok {
		return an == bn
	}
	if aok != bok {
		return false
	}

	return reflect.DeepEqual(a, b)
}

// compareOrdered returns -1, 0 or 1. Numbers compare numerically and
// strings lexically; any other pairing is not ordered.
func compareOrdered(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}

	if an, ok := convertToFloat64(a); ok {
		bn, ok := convertToFloat64(b)
		if !ok {
			return 0, false
		}
		switch {
		case an < bn:
			return -1, true
		case an > bn:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

// evaluateIn checks membership of needle in a list, or substring
// containment when both operands are strings.
func evaluateIn(needle, haystack any) bool {
	if needle == nil || haystack == nil {
		return false
	}

	if hs, ok := haystack.(string); ok {
		ns, ok := needle.(string)
		return ok && strings.Contains(hs, ns)
	}

	list, ok := haystack.([]any)
	if !ok {
		return false
	}
	for _, elem := range list {
		if compareEqual(needle, elem) {
			return true
		}
	}
	return false
}

// evaluateStartsWith checks a literal string prefix.
func evaluateStartsWith(value, prefix any) bool {
	vs, ok := value.(string)
	if !ok {
		return false
	}
	ps, ok := prefix.(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(vs, ps)
}

// convertToFloat64 converts a numeric value to float64.
func convertToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// truthy reports whether a value used in boolean position counts as true.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	if f, ok := convertToFloat64(v); ok {
		return f != 0
	}
	return true
}
