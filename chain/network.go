// Package chain wraps the EVM side of a campaign: the signer, contract
// deployment and the NFT, revenue share and bridge adapter contracts.
package chain

import (
	"errors"
	"math/big"
)

// Network is the escrow service's name for a bridged EVM network.
type Network string

const (
	EmeraldMainnet Network = "emerald-mainnet"
	EmeraldTestnet Network = "emerald-testnet"
)

// ErrUnsupportedNetwork is returned for chain ids that do not map to a known network.
var ErrUnsupportedNetwork = errors.New("network must be Emerald Mainnet or Emerald Testnet")

var networksByChainID = map[uint64]Network{
	0xa516: EmeraldMainnet,
	0xa515: EmeraldTestnet,
	1337:   EmeraldTestnet,
}

// NetworkForChainID maps an EVM chain id to its network.
func NetworkForChainID(chainID *big.Int) (Network, error) {
	if chainID == nil || !chainID.IsUint64() {
		return "", ErrUnsupportedNetwork
	}
	network, ok := networksByChainID[chainID.Uint64()]
	if !ok {
		return "", ErrUnsupportedNetwork
	}
	return network, nil
}
