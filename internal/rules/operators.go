// internal/rules/operators.go
package rules

import (
	"fmt"

	"github.com/solatis/tripwire/internal/types"
)

/*
 * Scalar comparison operators.
 *
 * Eight operators as written in condition declarations: === and !== are
 * strict (type-sensitive), == and != are loose (numeric strings equal their
 * numbers), and the four ordering operators compare numerically when both
 * sides coerce to numbers and lexically when both are strings. Anything else
 * compares false.
 *
 * Operators only ever apply to scalars; arrays and objects go through
 * structural equality in matcher.go.
 */

// Operator is a scalar comparison operator.
type Operator int

const (
	OpUnspecified Operator = iota
	OpStrictEq
	OpStrictNeq
	OpEq
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
)

var operatorNames = map[string]Operator{
	"===": OpStrictEq,
	"!==": OpStrictNeq,
	"==":  OpEq,
	"!=":  OpNeq,
	"<":   OpLt,
	"<=":  OpLte,
	">":   OpGt,
	">=":  OpGte,
}

// ParseOperator converts the declared operator. Empty defaults to ===.
func ParseOperator(s string) (Operator, error) {
	if s == "" {
		return OpStrictEq, nil
	}
	op, ok := operatorNames[s]
	if !ok {
		return OpUnspecified, fmt.Errorf("%w: %q", types.ErrInvalidOperator, s)
	}
	return op, nil
}

func (op Operator) String() string {
	for name, o := range operatorNames {
		if o == op {
			return name
		}
	}
	return "unspecified"
}

// Compare evaluates `emitted <op> expected` for scalar operands.
func Compare(op Operator, emitted, expected any) bool {
	switch op {
	case OpStrictEq:
		return scalarEqual(emitted, expected)
	case OpStrictNeq:
		return !scalarEqual(emitted, expected)
	case OpEq:
		return looseEqual(emitted, expected)
	case OpNeq:
		return !looseEqual(emitted, expected)
	case OpLt:
		c, ok := order(emitted, expected)
		return ok && c < 0
	case OpLte:
		c, ok := order(emitted, expected)
		return ok && c <= 0
	case OpGt:
		c, ok := order(emitted, expected)
		return ok && c > 0
	case OpGte:
		c, ok := order(emitted, expected)
		return ok && c >= 0
	default:
		return false
	}
}

// scalarEqual is strict equality: same kind of value and same value.
// Numbers compare exactly regardless of Go representation.
func scalarEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ra, ok := toRat(a); ok {
		rb, ok := toRat(b)
		return ok && ra.Cmp(rb) == 0
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []byte:
		bv, ok := b.([]byte)
		return ok && string(av) == string(bv)
	}
	return false
}

// looseEqual extends scalarEqual with numeric-string coercion.
func looseEqual(a, b any) bool {
	if scalarEqual(a, b) {
		return true
	}
	ra, oka := coerceNumeric(a)
	rb, okb := coerceNumeric(b)
	return oka && okb && ra.Cmp(rb) == 0
}

// order returns a three-way comparison and whether the operands are ordered.
func order(a, b any) (int, bool) {
	if ra, ok := coerceNumeric(a); ok {
		if rb, ok := coerceNumeric(b); ok {
			return ra.Cmp(rb), true
		}
	}
	as, oka := a.(string)
	bs, okb := b.(string)
	if oka && okb {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}
