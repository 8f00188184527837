// Package types provides domain models shared across tripwire components.
//
// Conditions are a closed tagged union: Kind selects which of Contract or
// Webhook is populated, and consumers switch on Kind rather than inspecting
// dynamic types. Everything here is plain data plus the small amount of
// synchronisation needed for the engine-injected hooks.
package types

import (
	"sync"
	"time"
)

// ConditionID identifies a condition within one engine. Assigned 1..N in
// insertion order and never changed afterwards.
type ConditionID int

// ConditionKind tags the condition variant.
type ConditionKind int

const (
	KindUnspecified ConditionKind = iota
	KindContract
	KindWebhook
)

func (k ConditionKind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindWebhook:
		return "webhook"
	default:
		return "unspecified"
	}
}

// ContractSource describes an on-chain event subscription.
type ContractSource struct {
	Address     string   // contract address, 0x-prefixed hex
	ABI         string   // JSON ABI (full or event fragment)
	EventName   string   // event to subscribe to
	EventArgs   []string // argument names extracted from each emission
	Network     string   // network identifier (see chain.LookupNetwork)
	ProviderURL string   // websocket JSON-RPC endpoint
}

// WebhookSource describes a polled HTTP endpoint.
type WebhookSource struct {
	BaseURL      string
	Endpoint     string
	ResponsePath string // dot/bracket expression, e.g. "data.prices[0].usd"
	APIKey       string // optional bearer credential
}

// MatchFunc is a user callback invoked with the emitted value.
type MatchFunc func(value any) error

// ErrorFunc is a user callback invoked when an observation fails.
type ErrorFunc func(err error)

// Hooks are the engine-internal callbacks rebound on every cycle. They
// update the satisfied set and must not block.
type Hooks struct {
	Matched   func()
	Unmatched func()

	// Failed receives errors the monitor absorbs instead of returning,
	// such as a single malformed event on a live subscription.
	Failed func(error)
}

// Condition is a declarative rule monitoring one external source.
type Condition struct {
	ID            ConditionID
	Kind          ConditionKind
	Contract      *ContractSource
	Webhook       *WebhookSource
	ExpectedValue any    // scalar, []any or map[string]any
	MatchOperator string // one of < > == === !== != >= <=

	OnMatched   MatchFunc
	OnUnmatched MatchFunc
	OnError     ErrorFunc

	mu    sync.RWMutex
	hooks Hooks
}

// NewContractCondition builds a contract-event condition.
func NewContractCondition(src ContractSource, expected any, operator string) *Condition {
	return &Condition{
		Kind:          KindContract,
		Contract:      &src,
		ExpectedValue: expected,
		MatchOperator: operator,
	}
}

// NewWebhookCondition builds a polled webhook condition.
func NewWebhookCondition(src WebhookSource, expected any, operator string) *Condition {
	return &Condition{
		Kind:          KindWebhook,
		Webhook:       &src,
		ExpectedValue: expected,
		MatchOperator: operator,
	}
}

// Bind replaces the engine-internal hooks.
func (c *Condition) Bind(h Hooks) {
	c.mu.Lock()
	c.hooks = h
	c.mu.Unlock()
}

// Hooks returns the currently bound engine-internal hooks.
func (c *Condition) Hooks() Hooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

// LogicType selects the aggregation rule.
type LogicType int

const (
	LogicEvery LogicType = iota
	LogicThreshold
	LogicTarget
)

func (t LogicType) String() string {
	switch t {
	case LogicEvery:
		return "EVERY"
	case LogicThreshold:
		return "THRESHOLD"
	case LogicTarget:
		return "TARGET"
	default:
		return "UNKNOWN"
	}
}

// ConditionalLogic is the policy deciding when enough conditions hold.
type ConditionalLogic struct {
	Type      LogicType
	Threshold *int          // THRESHOLD only; nil never fires
	Target    ConditionID   // TARGET only
	Interval  time.Duration // zero = event-driven, no forced delay

	// ResetOnFire clears the satisfied set after a successful action run.
	ResetOnFire bool
}

// ExecutionConstraints bound how long and how often the loop may run.
// Every field is independently optional.
type ExecutionConstraints struct {
	MaxMonitorCycles     *int
	StartDate            *time.Time
	EndDate              *time.Time
	MaxActionCompletions *int
}

// IsZero reports whether no constraint is configured.
func (c ExecutionConstraints) IsZero() bool {
	return c.MaxMonitorCycles == nil && c.StartDate == nil && c.EndDate == nil && c.MaxActionCompletions == nil
}

// RunCounters track loop progress within one run.
type RunCounters struct {
	CyclesExecuted   int
	ActionsCompleted int
}

// ActionKind tags the action variant handed to the executor.
type ActionKind string

const (
	ActionContract ActionKind = "contract"
	ActionFetch    ActionKind = "fetch"
)

// Action is one step of the payload run when the policy fires.
type Action struct {
	Name     string         `json:"name"`
	Priority int            `json:"priority"`
	Kind     ActionKind     `json:"kind"`
	Params   map[string]any `json:"params,omitempty"`
}

// Credentials are returned by key provisioning and passed to the executor.
type Credentials struct {
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
}

// ActionRequest is the single invocation made per fire.
type ActionRequest struct {
	RunID       RunID          `json:"runId"`
	CodeID      string         `json:"codeId,omitempty"`
	Actions     []Action       `json:"actions"` // ascending priority
	Params      map[string]any `json:"params"`
	Credentials *Credentials   `json:"credentials,omitempty"`
}

// ActionResponse is the executor's reply: a response object and/or a map
// of signatures keyed by action name.
type ActionResponse struct {
	Response   map[string]any    `json:"response,omitempty"`
	Signatures map[string]string `json:"signatures,omitempty"`
}
