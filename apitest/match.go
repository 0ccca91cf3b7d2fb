package apitest

import (
	"fmt"
	"reflect"
)

// MismatchError records one case expectation failure. It is attached
// to the case result and is never fatal to the suite.
type MismatchError struct {
	Reason string
}

func (e *MismatchError) Error() string {
	return "assertion mismatch: " + e.Reason
}

func mismatchf(format string, args ...interface{}) *MismatchError {
	return &MismatchError{Reason: fmt.Sprintf(format, args...)}
}

// MatchBody reports whether actual satisfies expected under subset
// semantics: every field in expected must be present in actual with a
// matching value, while extra fields in actual are ignored. Arrays
// must match element-wise at equal length. A non-nil error describes
// the first divergence found.
func MatchBody(expected, actual interface{}) error {
	if err := match("$", expected, actual); err != nil {
		return err
	}
	return nil
}

func match(path string, expected, actual interface{}) *MismatchError {
	if expected == nil {
		if actual != nil {
			return mismatchf("%s: expected null, got %v", path, actual)
		}
		return nil
	}

	switch exp := normalize(expected).(type) {
	case map[string]interface{}:
		act, ok := normalize(actual).(map[string]interface{})
		if !ok {
			return mismatchf("%s: expected object, got %T", path, actual)
		}
		for key, val := range exp {
			sub, present := act[key]
			if !present {
				return mismatchf("%s.%s: missing field", path, key)
			}
			if err := match(path+"."+key, val, sub); err != nil {
				return err
			}
		}
		return nil
	case []interface{}:
		act, ok := normalize(actual).([]interface{})
		if !ok {
			return mismatchf("%s: expected array, got %T", path, actual)
		}
		if len(act) != len(exp) {
			return mismatchf("%s: expected %d elements, got %d", path, len(exp), len(act))
		}
		for i, val := range exp {
			if err := match(fmt.Sprintf("%s[%d]", path, i), val, act[i]); err != nil {
				return err
			}
		}
		return nil
	default:
		if !scalarEqual(exp, normalize(actual)) {
			return mismatchf("%s: expected %v, got %v", path, expected, actual)
		}
		return nil
	}
}

// normalize bridges the decoder differences between encoding/json and
// yaml.v3: ints become float64 and yaml's map/slice shapes collapse to
// the json ones, so a YAML-authored expectation matches a JSON body.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out
	default:
		return v
	}
}

func scalarEqual(a, b interface{}) bool {
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}
