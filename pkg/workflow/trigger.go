package workflow

import "reflect"

// MatchConditions reports whether a trigger payload satisfies a workflow's
// flat condition map. Every condition key must be present in the payload
// with a deeply equal value. An empty condition map matches any payload.
func MatchConditions(conditions, payload map[string]any) bool {
	for key, want := range conditions {
		got, ok := payload[key]
		if !ok {
			return false
		}
		if !valuesEqual(want, got) {
			return false
		}
	}
	return true
}

// valuesEqual compares condition and payload values. Numeric values are
// compared as float64 so that JSON-decoded conditions match native ints
// published on the bus.
func valuesEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
