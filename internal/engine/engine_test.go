package engine

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/tripwire/internal/auditlog"
	"github.com/solatis/tripwire/internal/types"
)

// behavior scripts one observation pass.
type behavior func(ctx context.Context, c *types.Condition, call int) error

func matches(_ context.Context, c *types.Condition, _ int) error {
	c.Hooks().Matched()
	return nil
}

func mismatches(_ context.Context, c *types.Condition, _ int) error {
	c.Hooks().Unmatched()
	return nil
}

func blocks(ctx context.Context, _ *types.Condition, _ int) error {
	<-ctx.Done()
	return ctx.Err()
}

func fails(err error) behavior {
	return func(context.Context, *types.Condition, int) error { return err }
}

// scriptedObserver resolves conditions by id according to a script.
type scriptedObserver struct {
	mu        sync.Mutex
	behaviors map[types.ConditionID]behavior
	calls     map[types.ConditionID]int
}

func newObserver(behaviors ...behavior) *scriptedObserver {
	o := &scriptedObserver{
		behaviors: make(map[types.ConditionID]behavior),
		calls:     make(map[types.ConditionID]int),
	}
	for i, b := range behaviors {
		o.behaviors[types.ConditionID(i+1)] = b
	}
	return o
}

func (o *scriptedObserver) Observe(ctx context.Context, c *types.Condition) error {
	o.mu.Lock()
	o.calls[c.ID]++
	call := o.calls[c.ID]
	b := o.behaviors[c.ID]
	o.mu.Unlock()
	return b(ctx, c, call)
}

func (o *scriptedObserver) Close() error { return nil }

func (o *scriptedObserver) callCount(id types.ConditionID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[id]
}

type fakeExecutor struct {
	mu       sync.Mutex
	requests []types.ActionRequest
	err      error
	onCall   func(n int)
}

func (f *fakeExecutor) Execute(_ context.Context, req types.ActionRequest) (*types.ActionResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(n)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.ActionResponse{Signatures: map[string]string{"notify": "0xsig"}}, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func webhook() *types.Condition {
	return types.NewWebhookCondition(types.WebhookSource{
		BaseURL:      "http://oracle.invalid",
		Endpoint:     "/price",
		ResponsePath: "data.usd",
	}, 100, "")
}

func intPtr(v int) *int { return &v }

func threshold(v int) types.ConditionalLogic {
	return types.ConditionalLogic{Type: types.LogicThreshold, Threshold: intPtr(v)}
}

var defaultActions = []types.Action{
	{Name: "notify", Priority: 2, Kind: types.ActionFetch},
	{Name: "swap", Priority: 1, Kind: types.ActionContract},
}

// newEngine wires an engine with one webhook condition per behavior.
func newEngine(t *testing.T, obs *scriptedObserver, exec *fakeExecutor, opts ...Option) *Engine {
	t.Helper()
	e := New(obs, exec, opts...)
	conds := make([]*types.Condition, len(obs.behaviors))
	for i := range conds {
		conds[i] = webhook()
	}
	require.NoError(t, e.SetConditions(conds...))
	require.NoError(t, e.SetActions(defaultActions...))
	return e
}

func startAsync(e *Engine) <-chan error {
	out := make(chan error, 1)
	go func() { out <- e.Start(context.Background()) }()
	return out
}

func awaitStart(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return")
		return nil
	}
}

func lastEntry(entries []auditlog.Entry) auditlog.Entry {
	if len(entries) == 0 {
		return auditlog.Entry{}
	}
	return entries[len(entries)-1]
}

func hasMessage(entries []auditlog.Entry, substr string) bool {
	for _, e := range entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func TestStart_EveryStopsAfterSingleCycle(t *testing.T) {
	obs := newObserver(matches, mismatches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicEvery}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))

	assert.Zero(t, exec.count(), "no action executed")
	st := e.Status()
	assert.Equal(t, 1, st.CyclesExecuted)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, OutcomeCompleted, st.Outcome)
	assert.Equal(t, []types.ConditionID{1}, st.Satisfied)

	last := lastEntry(e.GetLogs(auditlog.CategoryCondition))
	assert.Contains(t, last.Message, "STOP")
	assert.Contains(t, last.Message, "max monitor cycles")
}

func TestStart_ThresholdFiresOnce(t *testing.T) {
	obs := newObserver(matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec, WithParams(map[string]any{"chain": "sepolia"}))
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))

	require.Equal(t, 1, exec.count())
	req := exec.requests[0]
	assert.Equal(t, e.Status().RunID, req.RunID)
	require.Len(t, req.Actions, 2)
	assert.Equal(t, "swap", req.Actions[0].Name, "ascending priority")
	assert.Equal(t, "notify", req.Actions[1].Name)
	assert.Equal(t, "sepolia", req.Params["chain"])
	assert.Equal(t, 1, req.Params["cycle"])

	st := e.Status()
	assert.Equal(t, 1, st.ActionsCompleted)
	assert.Equal(t, 1, st.CyclesExecuted)
	assert.NotEmpty(t, e.GetLogs(auditlog.CategoryResponse))
	assert.Contains(t, lastEntry(e.GetLogs(auditlog.CategoryCondition)).Message, "max action completions")
}

func TestStart_UnconstrainedKeepsFiringUntilInterrupted(t *testing.T) {
	obs := newObserver(matches)
	var e *Engine
	exec := &fakeExecutor{onCall: func(n int) {
		if n == 3 {
			require.NoError(t, e.Interrupt())
		}
	}}
	e = newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(threshold(1)))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, 3, exec.count())
	assert.Equal(t, 3, e.Status().CyclesExecuted, "no cycle after the interrupt")
	assert.Equal(t, OutcomeInterrupted, e.Status().Outcome)
	assert.True(t, hasMessage(e.GetLogs(auditlog.CategoryError), "run interrupted"))
}

func TestStart_BusyRejected(t *testing.T) {
	obs := newObserver(blocks)
	e := newEngine(t, obs, &fakeExecutor{})
	require.NoError(t, e.SetConditionalLogic(threshold(1)))

	first := startAsync(e)
	require.Eventually(t, func() bool { return obs.callCount(1) == 1 }, 2*time.Second, time.Millisecond)

	err := e.Start(context.Background())
	require.ErrorIs(t, err, types.ErrBusy)
	assert.ErrorIs(t, e.SetActions(defaultActions...), types.ErrBusy, "configuration is frozen while running")

	require.NoError(t, e.Interrupt())
	require.NoError(t, awaitStart(t, first))
}

func TestInterrupt_MidCycle(t *testing.T) {
	obs := newObserver(blocks, matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicEvery}))

	require.ErrorIs(t, e.Interrupt(), types.ErrNotRunning)

	done := startAsync(e)
	require.Eventually(t, func() bool { return obs.callCount(1) == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, e.Status().State)

	require.NoError(t, e.Interrupt())
	require.NoError(t, awaitStart(t, done))

	st := e.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, OutcomeInterrupted, st.Outcome)
	assert.Zero(t, st.CyclesExecuted, "the interrupted cycle never reached evaluation")
	assert.Equal(t, 1, obs.callCount(1), "no further cycle started")
	assert.Zero(t, exec.count())

	errs := e.GetLogs(auditlog.CategoryError)
	assert.Contains(t, lastEntry(errs).Message, "run interrupted")
	require.ErrorIs(t, e.Interrupt(), types.ErrNotRunning)
}

func TestSetActions_DuplicatePriority(t *testing.T) {
	e := New(newObserver(), &fakeExecutor{})
	err := e.SetActions(
		types.Action{Name: "a", Priority: 1, Kind: types.ActionFetch},
		types.Action{Name: "b", Priority: 1, Kind: types.ActionContract},
	)
	require.ErrorIs(t, err, types.ErrDuplicatePriority)
	require.ErrorIs(t, err, types.ErrConfiguration)

	// Nothing was stored, so Start fails preflight without monitoring.
	require.NoError(t, e.SetConditions(webhook()))
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	err = e.Start(context.Background())
	require.ErrorIs(t, err, types.ErrNoActions)
	assert.True(t, strings.HasPrefix(err.Error(), "preflight: "), err.Error())
	assert.True(t, hasMessage(e.GetLogs(auditlog.CategoryError), "preflight failed"))
}

func TestSetActions_Invalid(t *testing.T) {
	e := New(newObserver(), &fakeExecutor{})
	tests := []struct {
		name   string
		action types.Action
	}{
		{"no name", types.Action{Priority: 1, Kind: types.ActionFetch}},
		{"unknown kind", types.Action{Name: "x", Priority: 1, Kind: "shell"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, e.SetActions(tt.action), types.ErrConfiguration)
		})
	}
}

func TestStart_Preflight(t *testing.T) {
	contractNoProvider := types.NewContractCondition(types.ContractSource{
		Address:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		ABI:       `[{"type":"event","name":"Ping","inputs":[{"name":"n","type":"uint256"}]}]`,
		EventName: "Ping",
		EventArgs: []string{"n"},
		Network:   "sepolia",
	}, 1, "")

	tests := []struct {
		name  string
		setup func(e *Engine)
		want  error
	}{
		{"no conditions", func(e *Engine) {
			_ = e.SetActions(defaultActions...)
			_ = e.SetConditionalLogic(threshold(1))
		}, types.ErrNoConditions},
		{"no actions", func(e *Engine) {
			_ = e.SetConditions(webhook())
			_ = e.SetConditionalLogic(threshold(1))
		}, types.ErrNoActions},
		{"no logic", func(e *Engine) {
			_ = e.SetConditions(webhook())
			_ = e.SetActions(defaultActions...)
		}, types.ErrNoLogic},
		{"missing provider", func(e *Engine) {
			_ = e.SetConditions(contractNoProvider)
			_ = e.SetActions(defaultActions...)
			_ = e.SetConditionalLogic(threshold(1))
		}, types.ErrMissingProvider},
		{"undeclared target", func(e *Engine) {
			_ = e.SetConditions(webhook())
			_ = e.SetActions(defaultActions...)
			_ = e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicTarget, Target: 4})
		}, types.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newObserver(matches)
			e := New(obs, &fakeExecutor{})
			tt.setup(e)

			err := e.Start(context.Background())
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, types.ErrConfiguration)
			var pe *types.PhaseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "preflight", pe.Phase)
			assert.Zero(t, obs.callCount(1), "no monitoring began")
			assert.Equal(t, StateIdle, e.Status().State)
		})
	}
}

func TestStart_ExecutorErrorIsFatal(t *testing.T) {
	obs := newObserver(matches)
	exec := &fakeExecutor{err: errors.New("sandbox unavailable")}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(threshold(1)))

	err := e.Start(context.Background())
	require.ErrorIs(t, err, types.ErrExecutor)
	assert.True(t, strings.HasPrefix(err.Error(), "action execution: "), err.Error())
	assert.Contains(t, err.Error(), "sandbox unavailable")

	st := e.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, OutcomeFailed, st.Outcome)
	assert.Equal(t, 1, st.CyclesExecuted, "no further cycle")
	assert.Zero(t, st.ActionsCompleted)
	assert.True(t, hasMessage(e.GetLogs(auditlog.CategoryError), "action execution failed"))

	// The engine is reusable after a failed run.
	exec.err = nil
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, e.Status().ActionsCompleted)
}

func TestStart_ConditionErrorIsolated(t *testing.T) {
	remote := errors.Join(types.ErrRemoteCall, errors.New("connection reset"))
	obs := newObserver(fails(remote), matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, 1, exec.count(), "sibling condition still fired")
	assert.True(t, hasMessage(e.GetLogs(auditlog.CategoryError), "condition 1 observation failed"))
}

func TestStart_PanickingObserverIsolated(t *testing.T) {
	obs := newObserver(func(context.Context, *types.Condition, int) error { panic("observer bug") }, matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicTarget, Target: 2}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, exec.count())
	errs := e.GetLogs(auditlog.CategoryError)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Payload, "observer bug")
}

func TestStart_PendingObservationReusedAcrossCycles(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, c *types.Condition, call int) error {
		if call == 1 {
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		c.Hooks().Matched()
		return nil
	}
	obs := newObserver(slow)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{
		Type:     types.LogicTarget,
		Target:   1,
		Interval: 10 * time.Millisecond,
	}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))

	done := startAsync(e)
	require.Eventually(t, func() bool { return e.Status().CyclesExecuted >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, obs.callCount(1), "pending observation raced again, not restarted")
	assert.Zero(t, exec.count())

	close(release)
	require.NoError(t, awaitStart(t, done))
	assert.Equal(t, 1, exec.count(), "late resolution counted at a later fan-in")
}

func TestStart_ResetOnFire(t *testing.T) {
	once := func(_ context.Context, c *types.Condition, call int) error {
		if call == 1 {
			c.Hooks().Matched()
		}
		return nil
	}

	tests := []struct {
		name  string
		reset bool
		want  int
	}{
		{"cumulative", false, 3},
		{"reset after fire", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := newObserver(once)
			exec := &fakeExecutor{}
			e := newEngine(t, obs, exec)
			logic := threshold(1)
			logic.ResetOnFire = tt.reset
			require.NoError(t, e.SetConditionalLogic(logic))
			require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(3)}))

			require.NoError(t, e.Start(context.Background()))
			assert.Equal(t, tt.want, exec.count())
			assert.Equal(t, 3, e.Status().CyclesExecuted)
		})
	}
}

func TestStart_OutsideWindowStopsImmediately(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)

	obs := newObserver(matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec, WithClock(func() time.Time { return now }))
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{StartDate: &start}))

	require.NoError(t, e.Start(context.Background()))
	assert.Zero(t, exec.count())
	assert.Contains(t, lastEntry(e.GetLogs(auditlog.CategoryCondition)).Message, "before start date")
}

func TestStart_EndDatePassesDuringInterval(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	end := base.Add(time.Minute)
	var ticks atomic.Int64
	clock := func() time.Time {
		// Every reading advances the clock by 20 seconds.
		return base.Add(time.Duration(ticks.Add(1)) * 20 * time.Second)
	}

	obs := newObserver(mismatches)
	e := newEngine(t, obs, &fakeExecutor{}, WithClock(clock))
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicEvery, Interval: time.Millisecond}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{EndDate: &end}))

	require.NoError(t, e.Start(context.Background()))
	assert.Contains(t, lastEntry(e.GetLogs(auditlog.CategoryCondition)).Message, "past end date")
}

type fakeProvisioner struct {
	creds *types.Credentials
	err   error
	got   string
}

func (p *fakeProvisioner) Provision(_ context.Context, codeID string) (*types.Credentials, error) {
	p.got = codeID
	return p.creds, p.err
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []*types.ActionResponse
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, _ types.RunID, resp *types.ActionResponse) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, resp)
	return nil
}

func TestStart_ProvisionAndBroadcast(t *testing.T) {
	prov := &fakeProvisioner{creds: &types.Credentials{PublicKey: "0x04ab", Address: "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"}}
	bc := &fakeBroadcaster{}
	obs := newObserver(matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec, WithProvisioner(prov, "bafy-code"), WithBroadcaster(bc))
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxActionCompletions: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))

	assert.Equal(t, "bafy-code", prov.got)
	require.Equal(t, 1, exec.count())
	assert.Equal(t, prov.creds, exec.requests[0].Credentials)
	assert.Equal(t, "bafy-code", exec.requests[0].CodeID)
	require.Len(t, bc.calls, 1)
	assert.Equal(t, "0xsig", bc.calls[0].Signatures["notify"])
	assert.NotEmpty(t, e.GetLogs(auditlog.CategoryBroadcast))
}

func TestStart_ProvisionFailure(t *testing.T) {
	prov := &fakeProvisioner{err: errors.New("grant rejected")}
	obs := newObserver(matches)
	e := newEngine(t, obs, &fakeExecutor{}, WithProvisioner(prov, "bafy-code"))
	require.NoError(t, e.SetConditionalLogic(threshold(1)))

	err := e.Start(context.Background())
	var pe *types.PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "provision", pe.Phase)
	assert.Zero(t, obs.callCount(1))
}

func TestStart_LateResolutionAfterRunIgnored(t *testing.T) {
	var captured *types.Condition
	capture := func(_ context.Context, c *types.Condition, _ int) error {
		captured = c
		c.Hooks().Unmatched()
		return nil
	}
	obs := newObserver(capture)
	e := newEngine(t, obs, &fakeExecutor{})
	require.NoError(t, e.SetConditionalLogic(threshold(1)))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(1)}))
	require.NoError(t, e.Start(context.Background()))

	before := len(e.GetLogs())
	if h := captured.Hooks().Matched; h != nil {
		h()
	}
	assert.Empty(t, e.Status().Satisfied)
	assert.Len(t, e.GetLogs(), before)
}

func TestSetConditions_AssignsIDs(t *testing.T) {
	e := New(newObserver(), &fakeExecutor{})
	a, b := webhook(), webhook()
	require.NoError(t, e.SetConditions(a, b))
	assert.Equal(t, types.ConditionID(1), a.ID)
	assert.Equal(t, types.ConditionID(2), b.ID)

	id, err := e.AddCondition(webhook())
	require.NoError(t, err)
	assert.Equal(t, types.ConditionID(3), id)

	bad := webhook()
	bad.MatchOperator = "=~"
	_, err = e.AddCondition(bad)
	require.ErrorIs(t, err, types.ErrInvalidOperator)
}

func TestSetConditions_RejectedLeavesIDsUntouched(t *testing.T) {
	e := New(newObserver(), &fakeExecutor{})
	a, b := webhook(), webhook()
	require.NoError(t, e.SetConditions(a, b))

	bad := webhook()
	bad.MatchOperator = "=~"
	require.ErrorIs(t, e.SetConditions(b, bad), types.ErrInvalidOperator)
	assert.Equal(t, types.ConditionID(1), a.ID)
	assert.Equal(t, types.ConditionID(2), b.ID)

	require.ErrorIs(t, e.SetConditions(a, a), types.ErrInvalidCondition)
	assert.Equal(t, types.ConditionID(2), b.ID)

	_, err := e.AddCondition(a)
	require.ErrorIs(t, err, types.ErrInvalidCondition)
	assert.Equal(t, types.ConditionID(1), a.ID)

	_, err = e.AddCondition(bad)
	require.Error(t, err)
	assert.Equal(t, types.ConditionID(0), bad.ID)
}

func TestSetConditions_UniqueIDsAfterRejection(t *testing.T) {
	obs := newObserver(matches, matches)
	exec := &fakeExecutor{}
	e := newEngine(t, obs, exec)
	conds := slices.Clone(e.conditions)

	bad := webhook()
	bad.MatchOperator = "=~"
	require.Error(t, e.SetConditions(conds[1], bad))

	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicEvery}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(1)}))
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, exec.count())
	assert.Equal(t, []types.ConditionID{1, 2}, e.Status().Satisfied)
}

// releasingObserver records the conditions released at run end.
type releasingObserver struct {
	*scriptedObserver
	released chan []types.ConditionID
}

func (o *releasingObserver) Release(conditions ...*types.Condition) {
	ids := make([]types.ConditionID, len(conditions))
	for i, c := range conditions {
		ids[i] = c.ID
	}
	o.released <- ids
}

func TestStart_ReleasesConditionsAtRunEnd(t *testing.T) {
	obs := &releasingObserver{
		scriptedObserver: newObserver(matches, mismatches),
		released:         make(chan []types.ConditionID, 1),
	}
	e := New(obs, &fakeExecutor{})
	require.NoError(t, e.SetConditions(webhook(), webhook()))
	require.NoError(t, e.SetActions(defaultActions...))
	require.NoError(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicEvery}))
	require.NoError(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(1)}))

	require.NoError(t, e.Start(context.Background()))
	select {
	case ids := <-obs.released:
		assert.Equal(t, []types.ConditionID{1, 2}, ids)
	default:
		t.Fatal("conditions not released when Start returned")
	}
}

func TestSetExecutionConstraints_Invalid(t *testing.T) {
	e := New(newObserver(), &fakeExecutor{})
	now := time.Now()
	earlier := now.Add(-time.Hour)
	require.ErrorIs(t, e.SetExecutionConstraints(types.ExecutionConstraints{StartDate: &now, EndDate: &earlier}), types.ErrConfiguration)
	require.ErrorIs(t, e.SetExecutionConstraints(types.ExecutionConstraints{MaxMonitorCycles: intPtr(-1)}), types.ErrConfiguration)
	require.ErrorIs(t, e.SetConditionalLogic(types.ConditionalLogic{Type: types.LogicType(7)}), types.ErrConfiguration)
}
