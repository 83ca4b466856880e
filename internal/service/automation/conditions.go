package automation

import (
	"fmt"
	"reflect"
	"strings"
)

// Match reports whether every condition holds for evalCtx. A key is either a bare
// field compared for equality or field__op with op one of neq, contains, icontains
// and in. Unknown operators never match.
func Match(conditions map[string]interface{}, evalCtx map[string]interface{}) bool {
	for key, expected := range conditions {
		if !matchOne(key, expected, evalCtx) {
			return false
		}
	}
	return true
}

func matchOne(key string, expected interface{}, evalCtx map[string]interface{}) bool {
	field, op, hasOp := strings.Cut(key, "__")
	actual := evalCtx[field]
	if !hasOp {
		return valuesEqual(actual, expected)
	}

	switch op {
	case "neq":
		return !valuesEqual(actual, expected)
	case "contains":
		return contains(actual, expected, false)
	case "icontains":
		return contains(actual, expected, true)
	case "in":
		list, ok := asList(expected)
		if !ok {
			return false
		}
		for _, v := range list {
			if valuesEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// contains checks list membership for list-valued fields and substring
// containment of the string form otherwise.
func contains(actual, expected interface{}, fold bool) bool {
	if actual == nil || expected == nil {
		return false
	}
	if list, ok := asList(actual); ok {
		for _, v := range list {
			if fold {
				if strings.EqualFold(stringify(v), stringify(expected)) {
					return true
				}
			} else if valuesEqual(v, expected) {
				return true
			}
		}
		return false
	}

	a, e := stringify(actual), stringify(expected)
	if fold {
		a, e = strings.ToLower(a), strings.ToLower(e)
	}
	return strings.Contains(a, e)
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if list, ok := v.([]interface{}); ok {
		return list, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// valuesEqual compares JSON-ish values. Numbers compare by value regardless of
// their Go type, so a stored 3 (float64) equals a context 3 (int). Booleans count
// as 1 and 0, so a stored 1 matches a context true.
func valuesEqual(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	la, aList := asList(a)
	lb, bList := asList(b)
	if aList || bList {
		if !aList || !bList || len(la) != len(lb) {
			return false
		}
		for i := range la {
			if !valuesEqual(la[i], lb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
