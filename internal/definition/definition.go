// Package definition loads a loop definition from YAML: the conditions,
// the conditional logic, the execution constraints, the actions and the
// parameters handed to the executor.
package definition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solatis/tripwire/internal/types"
)

// Definition is the parsed form of a loop file.
type Definition struct {
	Conditions  []Condition    `yaml:"conditions"`
	Logic       Logic          `yaml:"logic"`
	Constraints Constraints    `yaml:"constraints,omitempty"`
	Actions     []Action       `yaml:"actions"`
	Params      map[string]any `yaml:"params,omitempty"`

	dir string
}

// Condition is one entry of the conditions list. Exactly one of Webhook
// or Contract is set.
type Condition struct {
	Webhook  *Webhook  `yaml:"webhook,omitempty"`
	Contract *Contract `yaml:"contract,omitempty"`
	Expected any       `yaml:"expected"`
	Operator string    `yaml:"operator"`
}

// Webhook mirrors types.WebhookSource. APIKey and BaseURL are expanded
// against the environment.
type Webhook struct {
	BaseURL      string `yaml:"base_url"`
	Endpoint     string `yaml:"endpoint"`
	ResponsePath string `yaml:"response_path"`
	APIKey       string `yaml:"api_key,omitempty"`
}

// Contract mirrors types.ContractSource. ABIFile is resolved relative to
// the definition file and is mutually exclusive with ABI.
type Contract struct {
	Address     string   `yaml:"address"`
	ABI         string   `yaml:"abi,omitempty"`
	ABIFile     string   `yaml:"abi_file,omitempty"`
	Event       string   `yaml:"event"`
	Args        []string `yaml:"args,omitempty"`
	Network     string   `yaml:"network"`
	ProviderURL string   `yaml:"provider_url"`
}

// Logic mirrors types.ConditionalLogic.
type Logic struct {
	Type        string        `yaml:"type"` // every, threshold or target
	Threshold   *int          `yaml:"threshold,omitempty"`
	Target      int           `yaml:"target,omitempty"`
	Interval    time.Duration `yaml:"interval,omitempty"`
	ResetOnFire bool          `yaml:"reset_on_fire,omitempty"`
}

// Constraints mirrors types.ExecutionConstraints.
type Constraints struct {
	MaxMonitorCycles     *int       `yaml:"max_monitor_cycles,omitempty"`
	StartDate            *time.Time `yaml:"start_date,omitempty"`
	EndDate              *time.Time `yaml:"end_date,omitempty"`
	MaxActionCompletions *int       `yaml:"max_action_completions,omitempty"`
}

// Action mirrors types.Action.
type Action struct {
	Name     string         `yaml:"name"`
	Priority int            `yaml:"priority"`
	Kind     string         `yaml:"kind"`
	Params   map[string]any `yaml:"params,omitempty"`
}

// Load reads and parses a definition file. Unknown fields are rejected.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	def.dir = filepath.Dir(path)
	return def, nil
}

// Parse decodes a definition from YAML bytes. Relative abi_file paths
// resolve against the working directory.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: parse definition: %v", types.ErrConfiguration, err)
	}
	if err := def.check(); err != nil {
		return nil, err
	}
	return &def, nil
}

func (d *Definition) check() error {
	if len(d.Conditions) == 0 {
		return types.ErrNoConditions
	}
	for i, c := range d.Conditions {
		if (c.Webhook == nil) == (c.Contract == nil) {
			return fmt.Errorf("%w: condition %d must set exactly one of webhook or contract", types.ErrInvalidCondition, i+1)
		}
		if c.Contract != nil && c.Contract.ABI != "" && c.Contract.ABIFile != "" {
			return fmt.Errorf("%w: condition %d sets both abi and abi_file", types.ErrInvalidCondition, i+1)
		}
	}
	if _, err := parseLogicType(d.Logic.Type); err != nil {
		return err
	}
	if len(d.Actions) == 0 {
		return types.ErrNoActions
	}
	return nil
}

func parseLogicType(s string) (types.LogicType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "every":
		return types.LogicEvery, nil
	case "threshold":
		return types.LogicThreshold, nil
	case "target":
		return types.LogicTarget, nil
	case "":
		return 0, types.ErrNoLogic
	default:
		return 0, fmt.Errorf("%w: unknown logic type %q", types.ErrConfiguration, s)
	}
}

// BuildConditions converts the condition entries, reading ABI files.
func (d *Definition) BuildConditions() ([]*types.Condition, error) {
	out := make([]*types.Condition, 0, len(d.Conditions))
	for i, c := range d.Conditions {
		switch {
		case c.Webhook != nil:
			out = append(out, types.NewWebhookCondition(types.WebhookSource{
				BaseURL:      os.ExpandEnv(c.Webhook.BaseURL),
				Endpoint:     c.Webhook.Endpoint,
				ResponsePath: c.Webhook.ResponsePath,
				APIKey:       os.ExpandEnv(c.Webhook.APIKey),
			}, c.Expected, c.Operator))
		case c.Contract != nil:
			abi := c.Contract.ABI
			if c.Contract.ABIFile != "" {
				path := c.Contract.ABIFile
				if !filepath.IsAbs(path) && d.dir != "" {
					path = filepath.Join(d.dir, path)
				}
				raw, err := os.ReadFile(path)
				if err != nil {
					return nil, fmt.Errorf("%w: condition %d: %v", types.ErrInvalidCondition, i+1, err)
				}
				abi = string(raw)
			}
			out = append(out, types.NewContractCondition(types.ContractSource{
				Address:     c.Contract.Address,
				ABI:         abi,
				EventName:   c.Contract.Event,
				EventArgs:   c.Contract.Args,
				Network:     c.Contract.Network,
				ProviderURL: os.ExpandEnv(c.Contract.ProviderURL),
			}, c.Expected, c.Operator))
		}
	}
	return out, nil
}

// ConditionalLogic converts the logic block.
func (d *Definition) ConditionalLogic() (types.ConditionalLogic, error) {
	t, err := parseLogicType(d.Logic.Type)
	if err != nil {
		return types.ConditionalLogic{}, err
	}
	return types.ConditionalLogic{
		Type:        t,
		Threshold:   d.Logic.Threshold,
		Target:      types.ConditionID(d.Logic.Target),
		Interval:    d.Logic.Interval,
		ResetOnFire: d.Logic.ResetOnFire,
	}, nil
}

// ExecutionConstraints converts the constraints block.
func (d *Definition) ExecutionConstraints() types.ExecutionConstraints {
	return types.ExecutionConstraints{
		MaxMonitorCycles:     d.Constraints.MaxMonitorCycles,
		StartDate:            d.Constraints.StartDate,
		EndDate:              d.Constraints.EndDate,
		MaxActionCompletions: d.Constraints.MaxActionCompletions,
	}
}

// BuildActions converts the action entries.
func (d *Definition) BuildActions() []types.Action {
	out := make([]types.Action, len(d.Actions))
	for i, a := range d.Actions {
		out[i] = types.Action{
			Name:     a.Name,
			Priority: a.Priority,
			Kind:     types.ActionKind(strings.ToLower(a.Kind)),
			Params:   a.Params,
		}
	}
	return out
}
