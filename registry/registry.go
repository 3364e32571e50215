package registry

import (
	"errors"
	"fmt"
	"sort"

	"cctpbridge/config"
	"cctpbridge/types"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
)

var ErrNotFound = errors.New("chain not found in registry")

// Registry is read-only after New
type Registry struct {
	chains map[int]types.ChainEndpoint
}

type partitionKey struct {
	testnet bool
	domain  uint32
}

// New validates the configured chains. A CCTP domain may appear once per network class.
func New(chains []config.ChainConfig) (*Registry, error) {
	r := &Registry{chains: make(map[int]types.ChainEndpoint, len(chains))}
	domains := make(map[partitionKey]int, len(chains))

	for _, c := range chains {
		if c.ChainID <= 0 {
			return nil, fmt.Errorf("chain %q: invalid chain id %d", c.Name, c.ChainID)
		}
		if _, ok := r.chains[c.ChainID]; ok {
			return nil, fmt.Errorf("chain %d configured twice", c.ChainID)
		}
		key := partitionKey{testnet: c.Testnet, domain: c.DomainID}
		if other, ok := domains[key]; ok {
			return nil, fmt.Errorf("chains %d and %d share domain %d", other, c.ChainID, c.DomainID)
		}
		domains[key] = c.ChainID

		endpoint := types.ChainEndpoint{
			Name:     c.Name,
			ChainID:  c.ChainID,
			DomainID: c.DomainID,
			Testnet:  c.Testnet,
			RPCList:  append([]string(nil), c.RPCList...),
		}
		var err error
		if endpoint.Messenger, err = parseAddress(c.ChainID, "token_messenger", c.TokenMessenger); err != nil {
			return nil, err
		}
		if endpoint.Transmitter, err = parseAddress(c.ChainID, "message_transmitter", c.MessageTransmitter); err != nil {
			return nil, err
		}
		if endpoint.USDC, err = parseAddress(c.ChainID, "usdc", c.USDC); err != nil {
			return nil, err
		}
		// minter is informational, the messenger calls it
		if c.TokenMinter != "" {
			if endpoint.Minter, err = parseAddress(c.ChainID, "token_minter", c.TokenMinter); err != nil {
				return nil, err
			}
		}

		r.chains[c.ChainID] = endpoint
	}

	return r, nil
}

func parseAddress(chainID int, field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("chain %d: %s %q is not an address", chainID, field, value)
	}
	if err := ethav.Validate(common.HexToAddress(value).Hex()); err != nil {
		return common.Address{}, fmt.Errorf("chain %d: %s: %w", chainID, field, err)
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("chain %d: %s is the zero address", chainID, field)
	}
	return addr, nil
}

// Resolve is a pure lookup. ErrNotFound is permanent.
func (r *Registry) Resolve(chainID int) (types.ChainEndpoint, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return types.ChainEndpoint{}, fmt.Errorf("%w: %d", ErrNotFound, chainID)
	}
	// RPC list is shared, hand out a copy
	c.RPCList = append([]string(nil), c.RPCList...)
	return c, nil
}

func (r *Registry) IsTestnet(chainID int) bool {
	return r.chains[chainID].Testnet
}

// ChainIDs in ascending order
func (r *Registry) ChainIDs() []int {
	ids := make([]int, 0, len(r.chains))
	for id := range r.chains {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
