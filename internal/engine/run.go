package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/monitor"
	"github.com/solatis/tripwire/internal/policy"
	"github.com/solatis/tripwire/internal/types"
)

// run is the state of one Start call.
type run struct {
	e           *Engine
	id          types.RunID
	conditions  []*types.Condition
	logic       types.ConditionalLogic
	constraints types.ExecutionConstraints
	actions     []types.Action
	credentials *types.Credentials
	interrupt   <-chan struct{}
	satisfied   *satisfiedSet
	logger      *slog.Logger

	// pending holds the completion channel of each condition's in-flight
	// observation. Only the loop goroutine touches it.
	pending map[types.ConditionID]chan struct{}

	// finished stops hooks from acting on late resolutions.
	finished atomic.Bool
}

// Start runs the loop until a constraint stops it, the context is
// cancelled or Interrupt is called. It fails fast with ErrBusy when a run
// is already active. Configuration problems abort before any monitoring.
// An interrupted run returns nil.
func (e *Engine) Start(ctx context.Context) (err error) {
	r, err := e.begin()
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	outcome := OutcomeCompleted
	defer func() {
		cancel()
		r.finish()
		if rel, ok := e.observer.(Releaser); ok {
			rel.Release(r.conditions...)
		}
		if err != nil {
			outcome = OutcomeFailed
		}
		e.end(r, outcome)
	}()

	if e.runs != nil {
		if err := e.runs.RunStarted(runCtx, r.id, e.now()); err != nil {
			r.logger.Warn("run observer failed", "error", err)
		}
	}

	if err := r.provision(runCtx); err != nil {
		return types.WithPhase("provision", err)
	}

	e.recorder.Record(auditlog.CategoryExecution, "run started", map[string]any{
		"runId":      r.id,
		"conditions": len(r.conditions),
		"logic":      r.logic.Type.String(),
		"actions":    len(r.actions),
	})

	interrupted, err := r.loop(runCtx)
	if err != nil {
		return err
	}
	if interrupted {
		outcome = OutcomeInterrupted
		e.recorder.Errorf(errors.New("interrupted"), "run interrupted")
	}
	return nil
}

// begin validates the configuration and moves IDLE to RUNNING.
func (e *Engine) begin() (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return nil, types.WithPhase("start", types.ErrBusy)
	}
	if err := e.preflightLocked(); err != nil {
		e.recorder.Errorf(err, "preflight failed")
		return nil, types.WithPhase("preflight", err)
	}

	id := types.NewRunID()
	e.state = StateRunning
	e.interrupt = make(chan struct{})

	r := &run{
		e:           e,
		id:          id,
		conditions:  e.conditions,
		logic:       *e.logic,
		constraints: e.constraints,
		actions:     e.actions,
		interrupt:   e.interrupt,
		satisfied:   newSatisfiedSet(e.conditions),
		logger:      e.logger.With("run_id", string(id)),
		pending:     make(map[types.ConditionID]chan struct{}),
	}

	e.statusMu.Lock()
	e.runID = id
	e.startedAt = e.now()
	e.outcome = ""
	e.counters = types.RunCounters{}
	e.satisfied = r.satisfied
	e.statusMu.Unlock()

	e.recorder.SetRun(id)
	e.metrics.SetRunning(true)
	r.logger.Info("run starting")
	return r, nil
}

func (e *Engine) preflightLocked() error {
	if len(e.conditions) == 0 {
		return types.ErrNoConditions
	}
	if len(e.actions) == 0 {
		return types.ErrNoActions
	}
	if e.logic == nil {
		return types.ErrNoLogic
	}
	if e.executor == nil {
		return fmt.Errorf("%w: no action executor", types.ErrConfiguration)
	}
	if e.observer == nil {
		return fmt.Errorf("%w: no condition monitor", types.ErrConfiguration)
	}
	for _, c := range e.conditions {
		if err := monitor.RequireProvider(c); err != nil {
			return err
		}
	}
	if e.logic.Type == types.LogicTarget {
		if t := e.logic.Target; t < 1 || int(t) > len(e.conditions) {
			return fmt.Errorf("%w: target condition %d not declared", types.ErrConfiguration, t)
		}
	}
	if e.logic.Type == types.LogicThreshold && e.logic.Threshold == nil {
		e.logger.Warn("threshold logic without a threshold never fires")
	}
	return nil
}

func (e *Engine) end(r *run, outcome Outcome) {
	e.statusMu.Lock()
	e.outcome = outcome
	e.statusMu.Unlock()

	e.mu.Lock()
	e.state = StateIdle
	e.mu.Unlock()

	e.metrics.SetRunning(false)
	status := e.Status()
	r.logger.Info("run finished", "outcome", outcome,
		"cycles", status.CyclesExecuted, "actions", status.ActionsCompleted)

	if e.runs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.runs.RunFinished(ctx, status, e.now()); err != nil {
			r.logger.Warn("run observer failed", "error", err)
		}
	}
}

func (r *run) provision(ctx context.Context) error {
	p := r.e.provisioner
	if p == nil {
		return nil
	}
	creds, err := p.Provision(ctx, r.e.codeID)
	if err != nil {
		r.e.recorder.Errorf(err, "credential provisioning failed")
		return err
	}
	r.credentials = creds
	r.e.recorder.Record(auditlog.CategoryExecution, "credentials provisioned", creds)
	return nil
}

// loop runs cycles until something stops it.
func (r *run) loop(ctx context.Context) (interrupted bool, err error) {
	e := r.e
	for {
		if r.interrupted() {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, types.WithPhase("monitoring", ctx.Err())
		}
		started := time.Now()

		r.bindHooks()
		if !r.observeAll(ctx) {
			return true, nil
		}

		// Before-action check.
		verdict, gov := r.evaluate()
		cycle := r.incrementCycles()
		r.recordCheck("before", cycle, verdict, gov)
		if gov.Decision == policy.Stop {
			r.recordStop(gov.Reason)
			e.metrics.RecordCycle(time.Since(started))
			return false, nil
		}

		if verdict == policy.Fire {
			if err := r.fire(ctx, cycle); err != nil {
				e.metrics.RecordCycle(time.Since(started))
				return false, types.WithPhase("action execution", err)
			}
			if r.logic.ResetOnFire {
				r.satisfied.reset()
			}
			// After-action check.
			if gov := r.govern(); gov.Decision == policy.Stop {
				r.recordStop(gov.Reason)
				e.metrics.RecordCycle(time.Since(started))
				return false, nil
			}
		}

		if r.logic.Interval > 0 {
			if !r.sleep(ctx, r.logic.Interval) {
				e.metrics.RecordCycle(time.Since(started))
				if r.interrupted() {
					return true, nil
				}
				return false, types.WithPhase("monitoring", ctx.Err())
			}
		}

		// End-of-cycle check.
		verdict, gov = r.evaluate()
		r.recordCheck("end of cycle", cycle, verdict, gov)
		e.metrics.RecordCycle(time.Since(started))
		if gov.Decision == policy.Stop {
			r.recordStop(gov.Reason)
			return false, nil
		}
	}
}

// bindHooks points every condition's engine hooks at this run.
func (r *run) bindHooks() {
	for _, c := range r.conditions {
		id := c.ID
		c.Bind(types.Hooks{
			Matched: func() {
				if r.finished.Load() {
					return
				}
				r.e.metrics.RecordResolution(true)
				if r.satisfied.add(id) {
					r.e.recorder.Record(auditlog.CategoryCondition, fmt.Sprintf("condition %d matched", id), nil)
				}
			},
			Unmatched: func() {
				if r.finished.Load() {
					return
				}
				r.e.metrics.RecordResolution(false)
				if r.satisfied.remove(id) {
					r.e.recorder.Record(auditlog.CategoryCondition, fmt.Sprintf("condition %d no longer matches", id), nil)
				}
			},
			Failed: func(err error) {
				if r.finished.Load() {
					return
				}
				r.conditionFailed(id, err)
			},
		})
	}
}

// observeAll fans out one observation per condition and joins them. With
// an interval each observation is raced against a timer; the loser keeps
// running and is reused by the next cycle. Returns false when interrupted
// before the join completes.
func (r *run) observeAll(ctx context.Context) bool {
	var wg sync.WaitGroup
	for _, c := range r.conditions {
		done := r.observation(ctx, c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.race(done, c.ID)
		}()
	}

	joined := make(chan struct{})
	go func() {
		wg.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		return true
	case <-r.interrupt:
		return false
	}
}

// observation returns the completion channel of c's in-flight pass,
// starting one when none is pending.
func (r *run) observation(ctx context.Context, c *types.Condition) chan struct{} {
	if done, ok := r.pending[c.ID]; ok {
		select {
		case <-done:
		default:
			return done
		}
	}

	done := make(chan struct{})
	r.pending[c.ID] = done
	go func() {
		defer close(done)
		defer func() {
			if p := recover(); p != nil {
				r.conditionFailed(c.ID, fmt.Errorf("%w: condition %d: panic: %v", types.ErrCallback, c.ID, p))
			}
		}()
		if err := r.e.observer.Observe(ctx, c); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return
			}
			r.conditionFailed(c.ID, err)
		}
	}()
	return done
}

func (r *run) race(done <-chan struct{}, id types.ConditionID) {
	var timeout <-chan time.Time
	if r.logic.Interval > 0 {
		t := time.NewTimer(r.logic.Interval)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-done:
	case <-timeout:
		r.logger.Debug("observation still pending at interval", "condition", id)
	case <-r.interrupt:
	}
}

func (r *run) conditionFailed(id types.ConditionID, err error) {
	r.e.metrics.RecordConditionError()
	r.e.recorder.Errorf(err, "condition %d observation failed", id)
}

func (r *run) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.interrupt:
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *run) interrupted() bool {
	select {
	case <-r.interrupt:
		return true
	default:
		return false
	}
}

func (r *run) evaluate() (policy.Verdict, policy.GovernorResult) {
	verdict := policy.Evaluate(r.logic, r.satisfied.snapshot(), len(r.conditions))
	return verdict, r.govern()
}

func (r *run) govern() policy.GovernorResult {
	r.e.statusMu.RLock()
	counters := r.e.counters
	r.e.statusMu.RUnlock()
	return policy.Govern(r.constraints, counters, r.e.now())
}

func (r *run) incrementCycles() int {
	r.e.statusMu.Lock()
	defer r.e.statusMu.Unlock()
	r.e.counters.CyclesExecuted++
	return r.e.counters.CyclesExecuted
}

func (r *run) incrementActions() {
	r.e.statusMu.Lock()
	r.e.counters.ActionsCompleted++
	r.e.statusMu.Unlock()
}

func (r *run) recordCheck(stage string, cycle int, verdict policy.Verdict, gov policy.GovernorResult) {
	r.e.recorder.Record(auditlog.CategoryCondition,
		fmt.Sprintf("cycle %d %s check: logic %s, constraints %s", cycle, stage, verdict, gov.Decision),
		map[string]any{
			"cycle":     cycle,
			"satisfied": sortedIDs(r.satisfied.snapshot()),
			"total":     len(r.conditions),
		})
}

func (r *run) recordStop(reason string) {
	r.e.recorder.Record(auditlog.CategoryCondition, "STOP: "+reason, nil)
}

// finish detaches the hooks so late resolutions cannot touch this run.
func (r *run) finish() {
	r.finished.Store(true)
	for _, c := range r.conditions {
		c.Bind(types.Hooks{})
	}
}
