// internal/rules/coercion.go
package rules

import (
	"encoding/json"
	"math"
	"math/big"
	"strings"

	"github.com/sugawarayuuta/sonnet"
)

/*
 * Numeric normalization for comparisons.
 *
 * Expected values come from YAML (int, float64), emitted values from JSON
 * bodies (number literals) or decoded event logs (*big.Int). Strict equality must
 * treat 1, 1.0 and big.NewInt(1) as the same number, so every numeric kind
 * is lifted into an exact *big.Rat before comparing.
 *
 * Strings are never numbers under strict semantics. Loose operators (==, !=,
 * and the ordering operators) additionally accept numeric strings, trimmed
 * of whitespace; whitespace-only strings are not numbers.
 */

// toRat lifts any Go numeric kind into an exact rational.
// Returns false for non-numbers and non-finite floats.
func toRat(v any) (*big.Rat, bool) {
	switch n := v.(type) {
	case int:
		return new(big.Rat).SetInt64(int64(n)), true
	case int8:
		return new(big.Rat).SetInt64(int64(n)), true
	case int16:
		return new(big.Rat).SetInt64(int64(n)), true
	case int32:
		return new(big.Rat).SetInt64(int64(n)), true
	case int64:
		return new(big.Rat).SetInt64(n), true
	case uint:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Rat).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Rat).SetUint64(n), true
	case float32:
		return floatRat(float64(n))
	case float64:
		return floatRat(n)
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return new(big.Rat).SetInt(n), true
	case big.Int:
		return new(big.Rat).SetInt(&n), true
	case *big.Rat:
		if n == nil {
			return nil, false
		}
		return n, true
	case sonnet.Number:
		return new(big.Rat).SetString(string(n))
	case json.Number:
		return new(big.Rat).SetString(string(n))
	default:
		return nil, false
	}
}

func floatRat(f float64) (*big.Rat, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(f), true
}

// coerceNumeric is toRat plus numeric strings.
func coerceNumeric(v any) (*big.Rat, bool) {
	if r, ok := toRat(v); ok {
		return r, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	return new(big.Rat).SetString(s)
}
