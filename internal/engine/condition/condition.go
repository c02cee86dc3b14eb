// Package condition provides the predicate implementations used on flows out
// of exclusive gateways: JSONPath lookups, JavaScript expressions and plain Go
// functions. All predicates receive a read-only copy of the instance data
// context.
package condition

import "reflect"

// Func adapts an ordinary function to the flow predicate contract.
type Func func(data map[string]any) (bool, error)

// Evaluate calls the wrapped function.
func (f Func) Evaluate(data map[string]any) (bool, error) { return f(data) }

// truthy maps a looked-up value to a boolean the way dynamic data usually
// wants it: nil and zero values are false, non-empty collections are true.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case float32:
		return val != 0
	case float64:
		return val != 0
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// looseEqual compares two values with numeric widening, so the float64 that
// JSON decoding produces still matches an int the caller wrote literally.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
