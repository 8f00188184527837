// internal/rules/matcher.go
package rules

import (
	"reflect"
)

/*
 * Expected-versus-emitted matching.
 *
 * Shape decides the comparison:
 *   - arrays: equal length, then element-wise structural match
 *   - objects: same key set, every value structurally equal
 *   - scalars: strict equality, or the declared operator when
 *     ScalarOperators is enabled
 *
 * Mismatched shapes (array against scalar, object against array) are a
 * plain false. Nothing here panics on arbitrary decoded input.
 */

// Matcher compares a condition's expected value against an emitted value.
type Matcher struct {
	// ScalarOperators applies the declared operator to scalar comparisons
	// instead of strict equality.
	ScalarOperators bool
}

// Matches reports whether emitted satisfies expected under op.
func (m Matcher) Matches(expected, emitted any, op Operator) bool {
	if isComposite(expected) || isComposite(emitted) {
		return structuralEqual(expected, emitted)
	}
	if m.ScalarOperators {
		return Compare(op, emitted, expected)
	}
	return scalarEqual(expected, emitted)
}

// Match is strict matching with no operator.
func Match(expected, emitted any) bool {
	return Matcher{}.Matches(expected, emitted, OpStrictEq)
}

func isComposite(v any) bool {
	if _, ok := asSlice(v); ok {
		return true
	}
	_, ok := asMap(v)
	return ok
}

func structuralEqual(a, b any) bool {
	as, aSeq := asSlice(a)
	bs, bSeq := asSlice(b)
	if aSeq || bSeq {
		if !aSeq || !bSeq || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !structuralEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	am, aMap := asMap(a)
	bm, bMap := asMap(b)
	if aMap || bMap {
		if !aMap || !bMap || len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !structuralEqual(av, bv) {
				return false
			}
		}
		return true
	}

	return scalarEqual(a, b)
}

// asSlice views arrays and slices (except []byte) as []any.
func asSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap views string-keyed maps as map[string]any.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
