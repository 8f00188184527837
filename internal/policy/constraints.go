package policy

import (
	"fmt"
	"time"

	"github.com/solatis/tripwire/internal/types"
)

// Decision is the governor outcome.
type Decision int

const (
	Continue Decision = iota
	Stop
)

func (d Decision) String() string {
	if d == Stop {
		return "STOP"
	}
	return "CONTINUE"
}

// GovernorResult carries the decision and, on Stop, the first violated bound.
type GovernorResult struct {
	Decision Decision
	Reason   string
}

// Govern checks counters and clock against the configured bounds.
// With no bound configured it always continues. Bounds are checked in a
// fixed order so the reported reason is deterministic.
func Govern(c types.ExecutionConstraints, counters types.RunCounters, now time.Time) GovernorResult {
	if c.IsZero() {
		return GovernorResult{Decision: Continue}
	}

	if c.MaxMonitorCycles != nil && counters.CyclesExecuted >= *c.MaxMonitorCycles {
		return stop("max monitor cycles reached (%d/%d)", counters.CyclesExecuted, *c.MaxMonitorCycles)
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return stop("before start date %s", c.StartDate.UTC().Format(time.RFC3339))
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return stop("past end date %s", c.EndDate.UTC().Format(time.RFC3339))
	}
	if c.MaxActionCompletions != nil && counters.ActionsCompleted >= *c.MaxActionCompletions {
		return stop("max action completions reached (%d/%d)", counters.ActionsCompleted, *c.MaxActionCompletions)
	}
	return GovernorResult{Decision: Continue}
}

func stop(format string, args ...any) GovernorResult {
	return GovernorResult{Decision: Stop, Reason: fmt.Sprintf(format, args...)}
}
