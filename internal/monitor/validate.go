package monitor

import (
	"fmt"
	"slices"

	"github.com/solatis/tripwire/internal/chain"
	"github.com/solatis/tripwire/internal/rules"
	"github.com/solatis/tripwire/internal/types"
)

// Validate checks that a condition is well formed: the payload matching
// its kind is present, the operator is known, and for contract conditions
// the network, address, ABI and argument names all resolve. The provider
// endpoint is not required here; see RequireProvider. Errors do not name
// the condition id; callers add it.
func Validate(c *types.Condition) error {
	if c == nil {
		return fmt.Errorf("%w: nil condition", types.ErrInvalidCondition)
	}
	if _, err := rules.ParseOperator(c.MatchOperator); err != nil {
		return err
	}

	switch c.Kind {
	case types.KindWebhook:
		if c.Webhook == nil {
			return fmt.Errorf("%w: webhook source missing", types.ErrInvalidCondition)
		}
		if c.Webhook.BaseURL == "" {
			return fmt.Errorf("%w: webhook base url required", types.ErrInvalidCondition)
		}
		if _, err := rules.ParsePath(c.Webhook.ResponsePath); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidCondition, err)
		}
		return nil

	case types.KindContract:
		src := c.Contract
		if src == nil {
			return fmt.Errorf("%w: contract source missing", types.ErrInvalidCondition)
		}
		if _, err := chain.LookupNetwork(src.Network); err != nil {
			return err
		}
		if _, err := chain.ParseAddress(src.Address); err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidCondition, err)
		}
		event, err := chain.ParseEvent(src.ABI, src.EventName)
		if err != nil {
			return fmt.Errorf("%w: %v", types.ErrInvalidCondition, err)
		}
		for _, name := range src.EventArgs {
			if !slices.ContainsFunc(event.Inputs, func(a chain.EventArg) bool { return a.Name == name }) {
				return fmt.Errorf("%w: event %s has no argument %q",
					types.ErrInvalidCondition, event.Signature, name)
			}
		}
		return nil
	}
	return fmt.Errorf("%w: unknown kind %s", types.ErrInvalidCondition, c.Kind)
}

// RequireProvider fails with ErrMissingProvider when a contract condition
// has no provider endpoint.
func RequireProvider(c *types.Condition) error {
	if c.Kind == types.KindContract && (c.Contract == nil || c.Contract.ProviderURL == "") {
		return fmt.Errorf("condition %d: %w", c.ID, types.ErrMissingProvider)
	}
	return nil
}
