package executor

import (
	"context"
	"fmt"

	"github.com/solatis/tripwire/internal/chain"
	"github.com/solatis/tripwire/internal/types"
)

// StaticProvisioner hands out credentials for a fixed, pre-provisioned
// signing key. The address is derived from the public key.
type StaticProvisioner struct {
	PublicKey string // uncompressed secp256k1, hex
}

// Provision returns the configured key and its address. codeID is not
// used: the key is not scoped to a code identifier.
func (p StaticProvisioner) Provision(_ context.Context, _ string) (*types.Credentials, error) {
	if p.PublicKey == "" {
		return nil, fmt.Errorf("%w: signer public key not configured", types.ErrConfiguration)
	}
	addr, err := chain.AddressFromPublicKey(p.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConfiguration, err)
	}
	return &types.Credentials{PublicKey: p.PublicKey, Address: addr}, nil
}
