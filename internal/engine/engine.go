// Package engine drives the run loop: observe every condition, evaluate
// the conditional logic and the execution constraints, fire the actions,
// repeat until a constraint or an interrupt stops it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/monitor"
	"github.com/solatis/tripwire/internal/telemetry/metrics"
	"github.com/solatis/tripwire/internal/types"
)

// State is the run-loop state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Releaser is implemented by observers that hold per-condition resources
// across passes, such as live subscriptions. The engine releases a run's
// conditions when the run ends, so user callbacks stop firing between runs.
type Releaser interface {
	Release(conditions ...*types.Condition)
}

var _ Releaser = (*monitor.Monitor)(nil)

// Executor runs the actions when the conditional logic fires.
type Executor interface {
	Execute(ctx context.Context, req types.ActionRequest) (*types.ActionResponse, error)
}

// Provisioner obtains signing credentials once before the first cycle.
type Provisioner interface {
	Provision(ctx context.Context, codeID string) (*types.Credentials, error)
}

// Broadcaster publishes an executor response.
type Broadcaster interface {
	Broadcast(ctx context.Context, runID types.RunID, resp *types.ActionResponse) error
}

// RunObserver is told when runs begin and end.
type RunObserver interface {
	RunStarted(ctx context.Context, runID types.RunID, at time.Time) error
	RunFinished(ctx context.Context, status Status, at time.Time) error
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeFailed      Outcome = "failed"
)

// Status is a point-in-time view of the engine.
type Status struct {
	RunID            types.RunID
	State            State
	Outcome          Outcome // empty while running or before the first run
	StartedAt        time.Time
	CyclesExecuted   int
	ActionsCompleted int
	Satisfied        []types.ConditionID
}

// Engine is one run loop. At most one run is active at a time.
type Engine struct {
	observer    monitor.Observer
	executor    Executor
	provisioner Provisioner
	codeID      string
	broadcaster Broadcaster
	runs        RunObserver
	recorder    *auditlog.Recorder
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
	params      map[string]any

	// mu guards configuration, state transitions and the interrupt channel.
	mu          sync.Mutex
	state       State
	interrupt   chan struct{}
	conditions  []*types.Condition
	logic       *types.ConditionalLogic
	constraints types.ExecutionConstraints
	actions     []types.Action

	// statusMu guards the fields Status reports.
	statusMu  sync.RWMutex
	runID     types.RunID
	startedAt time.Time
	outcome   Outcome
	counters  types.RunCounters
	satisfied *satisfiedSet
}

// Option configures an Engine.
type Option func(*Engine)

// WithProvisioner provisions credentials for codeID before each run.
func WithProvisioner(p Provisioner, codeID string) Option {
	return func(e *Engine) {
		e.provisioner = p
		e.codeID = codeID
	}
}

// WithBroadcaster publishes every executor response.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) { e.broadcaster = b }
}

// WithRunObserver reports run boundaries, e.g. to an archive.
func WithRunObserver(o RunObserver) Option {
	return func(e *Engine) { e.runs = o }
}

// WithRecorder sets the audit recorder. The default keeps
// auditlog.DefaultCapacity entries in memory.
func WithRecorder(r *auditlog.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces time.Now for constraint evaluation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithParams sets the parameter bag passed to the executor.
func WithParams(p map[string]any) Option {
	return func(e *Engine) { e.params = p }
}

// New creates an idle engine.
func New(observer monitor.Observer, executor Executor, opts ...Option) *Engine {
	e := &Engine{
		observer: observer,
		executor: executor,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.DiscardHandler)
	}
	e.logger = e.logger.With("component", "engine")
	if e.recorder == nil {
		e.recorder = auditlog.NewRecorder(auditlog.NewRing(auditlog.DefaultCapacity), e.logger)
	}
	if e.params == nil {
		e.params = map[string]any{}
	}
	return e
}

// SetConditions replaces the declared conditions, assigning ids 1..N in
// order. Every condition is validated first; on failure nothing changes,
// ids included. A condition may appear only once.
func (e *Engine) SetConditions(conditions ...*types.Condition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idleLocked(); err != nil {
		return err
	}

	seen := make(map[*types.Condition]struct{}, len(conditions))
	for i, c := range conditions {
		if err := checkCondition(c, types.ConditionID(i+1)); err != nil {
			return err
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: condition %d is declared twice", types.ErrInvalidCondition, i+1)
		}
		seen[c] = struct{}{}
	}

	for i, c := range conditions {
		c.ID = types.ConditionID(i + 1)
	}
	e.conditions = slices.Clone(conditions)
	return nil
}

// AddCondition appends one condition and returns its id. The condition
// must not already be declared.
func (e *Engine) AddCondition(c *types.Condition) (types.ConditionID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idleLocked(); err != nil {
		return 0, err
	}

	id := types.ConditionID(len(e.conditions) + 1)
	if err := checkCondition(c, id); err != nil {
		return 0, err
	}
	if slices.Contains(e.conditions, c) {
		return 0, fmt.Errorf("%w: condition %d is already declared", types.ErrInvalidCondition, c.ID)
	}

	c.ID = id
	e.conditions = append(e.conditions, c)
	return id, nil
}

func checkCondition(c *types.Condition, id types.ConditionID) error {
	if c == nil {
		return fmt.Errorf("%w: condition %d is nil", types.ErrInvalidCondition, id)
	}
	if err := monitor.Validate(c); err != nil {
		return fmt.Errorf("condition %d: %w", id, err)
	}
	return nil
}

// SetConditionalLogic sets the policy deciding when to fire.
func (e *Engine) SetConditionalLogic(logic types.ConditionalLogic) error {
	switch logic.Type {
	case types.LogicEvery, types.LogicThreshold, types.LogicTarget:
	default:
		return fmt.Errorf("%w: unknown logic type %d", types.ErrConfiguration, logic.Type)
	}
	if logic.Threshold != nil && *logic.Threshold < 0 {
		return fmt.Errorf("%w: negative threshold %d", types.ErrConfiguration, *logic.Threshold)
	}
	if logic.Interval < 0 {
		return fmt.Errorf("%w: negative interval %s", types.ErrConfiguration, logic.Interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idleLocked(); err != nil {
		return err
	}
	e.logic = &logic
	return nil
}

// SetExecutionConstraints sets the bounds on the run.
func (e *Engine) SetExecutionConstraints(c types.ExecutionConstraints) error {
	if c.MaxMonitorCycles != nil && *c.MaxMonitorCycles < 0 {
		return fmt.Errorf("%w: negative max monitor cycles", types.ErrConfiguration)
	}
	if c.MaxActionCompletions != nil && *c.MaxActionCompletions < 0 {
		return fmt.Errorf("%w: negative max action completions", types.ErrConfiguration)
	}
	if c.StartDate != nil && c.EndDate != nil && c.EndDate.Before(*c.StartDate) {
		return fmt.Errorf("%w: end date %s before start date %s",
			types.ErrConfiguration, c.EndDate.Format(time.RFC3339), c.StartDate.Format(time.RFC3339))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idleLocked(); err != nil {
		return err
	}
	e.constraints = c
	return nil
}

// SetActions replaces the actions. Priorities must be unique; actions are
// handed to the executor in ascending priority.
func (e *Engine) SetActions(actions ...types.Action) error {
	seen := make(map[int]string, len(actions))
	for _, a := range actions {
		if a.Name == "" {
			return fmt.Errorf("%w: action with priority %d has no name", types.ErrConfiguration, a.Priority)
		}
		switch a.Kind {
		case types.ActionContract, types.ActionFetch:
		default:
			return fmt.Errorf("%w: action %q has unknown kind %q", types.ErrConfiguration, a.Name, a.Kind)
		}
		if other, ok := seen[a.Priority]; ok {
			return fmt.Errorf("%w: %d used by %q and %q", types.ErrDuplicatePriority, a.Priority, other, a.Name)
		}
		seen[a.Priority] = a.Name
	}

	sorted := slices.Clone(actions)
	slices.SortFunc(sorted, func(a, b types.Action) int { return a.Priority - b.Priority })

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.idleLocked(); err != nil {
		return err
	}
	e.actions = sorted
	return nil
}

// Interrupt asks the active run to stop. The loop observes it at its next
// suspension point; Start then returns nil.
func (e *Engine) Interrupt() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		e.state = StateStopping
		close(e.interrupt)
		e.logger.Info("interrupt requested")
		return nil
	case StateStopping:
		return nil
	default:
		return types.ErrNotRunning
	}
}

// GetLogs returns the audit trail, oldest first, optionally filtered.
func (e *Engine) GetLogs(categories ...auditlog.Category) []auditlog.Entry {
	return e.recorder.Read(categories...)
}

// Status reports the current or most recent run.
func (e *Engine) Status() Status {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()

	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	s := Status{
		RunID:            e.runID,
		State:            state,
		Outcome:          e.outcome,
		StartedAt:        e.startedAt,
		CyclesExecuted:   e.counters.CyclesExecuted,
		ActionsCompleted: e.counters.ActionsCompleted,
	}
	if e.satisfied != nil {
		s.Satisfied = sortedIDs(e.satisfied.snapshot())
	}
	return s
}

func (e *Engine) idleLocked() error {
	if e.state != StateIdle {
		return types.ErrBusy
	}
	return nil
}
