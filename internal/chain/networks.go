// Package chain talks to EVM networks: event ABI decoding, address
// encoding and log subscriptions over websocket JSON-RPC.
package chain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/solatis/tripwire/internal/types"
)

// Network is a supported chain.
type Network struct {
	Name    string
	ChainID uint64
}

var networks = map[string]Network{
	"ethereum":    {Name: "ethereum", ChainID: 1},
	"sepolia":     {Name: "sepolia", ChainID: 11155111},
	"polygon":     {Name: "polygon", ChainID: 137},
	"amoy":        {Name: "amoy", ChainID: 80002},
	"arbitrum":    {Name: "arbitrum", ChainID: 42161},
	"base":        {Name: "base", ChainID: 8453},
	"optimism":    {Name: "optimism", ChainID: 10},
	"yellowstone": {Name: "yellowstone", ChainID: 175188},
}

// LookupNetwork resolves a network identifier (case-insensitive).
func LookupNetwork(name string) (Network, error) {
	n, ok := networks[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("%w: %q (known: %s)", types.ErrInvalidNetwork, name, strings.Join(NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames lists supported identifiers in sorted order.
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
