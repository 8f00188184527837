// Package policy holds the two pure decision functions of the run loop:
// the conditional-logic evaluator (fire or wait) and the execution
// constraint governor (continue or stop).
//
// Both are side-effect free and may be called any number of times per cycle.
package policy

import (
	"github.com/solatis/tripwire/internal/types"
)

// Verdict is the evaluator outcome.
type Verdict int

const (
	Wait Verdict = iota
	Fire
)

func (v Verdict) String() string {
	if v == Fire {
		return "FIRE"
	}
	return "WAIT"
}

// Evaluate applies the conditional logic to the satisfied set.
//
//   - EVERY: fire iff every declared condition is satisfied
//   - THRESHOLD(v): fire iff v is set and at least v are satisfied
//   - TARGET(id): fire iff id is satisfied
func Evaluate(logic types.ConditionalLogic, satisfied map[types.ConditionID]struct{}, total int) Verdict {
	switch logic.Type {
	case types.LogicEvery:
		if len(satisfied) == total {
			return Fire
		}
	case types.LogicThreshold:
		if logic.Threshold != nil && len(satisfied) >= *logic.Threshold {
			return Fire
		}
	case types.LogicTarget:
		if _, ok := satisfied[logic.Target]; ok {
			return Fire
		}
	}
	return Wait
}
