package definition

import (
	"fmt"

	"github.com/solatis/tripwire/internal/types"
)

// Target is the configuration surface of a run loop.
type Target interface {
	SetConditions(conditions ...*types.Condition) error
	SetConditionalLogic(logic types.ConditionalLogic) error
	SetExecutionConstraints(c types.ExecutionConstraints) error
	SetActions(actions ...types.Action) error
}

// Apply configures t from the definition. It fails on the first setter
// error; earlier setters stay applied.
func (d *Definition) Apply(t Target) error {
	conditions, err := d.BuildConditions()
	if err != nil {
		return err
	}
	if err := t.SetConditions(conditions...); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}

	logic, err := d.ConditionalLogic()
	if err != nil {
		return err
	}
	if err := t.SetConditionalLogic(logic); err != nil {
		return fmt.Errorf("logic: %w", err)
	}
	if err := t.SetExecutionConstraints(d.ExecutionConstraints()); err != nil {
		return fmt.Errorf("constraints: %w", err)
	}
	if err := t.SetActions(d.BuildActions()...); err != nil {
		return fmt.Errorf("actions: %w", err)
	}
	return nil
}
