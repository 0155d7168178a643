package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type boundNFT struct {
	address  common.Address
	contract *bind.BoundContract
	wallet   *EVMWallet
}

func (n *boundNFT) Address() common.Address { return n.address }

func (n *boundNFT) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := n.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: unexpected %d return values", method, len(out))
	}
	return out[0], nil
}

func (n *boundNFT) BaseURI(ctx context.Context) (string, error) {
	out, err := n.call(ctx, "baseURI")
	if err != nil {
		return "", err
	}
	uri, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("baseURI: unexpected type %T", out)
	}
	return uri, nil
}

func (n *boundNFT) TotalSupply(ctx context.Context) (uint64, error) {
	out, err := n.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	supply, ok := out.(*big.Int)
	if !ok || !supply.IsUint64() {
		return 0, fmt.Errorf("totalSupply: unexpected value %v", out)
	}
	return supply.Uint64(), nil
}

func (n *boundNFT) OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error) {
	out, err := n.call(ctx, "ownerOf", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("ownerOf: unexpected type %T", out)
	}
	return owner, nil
}

func (n *boundNFT) SupportsInterface(ctx context.Context, interfaceID [4]byte) (bool, error) {
	out, err := n.call(ctx, "supportsInterface", interfaceID)
	if err != nil {
		return false, err
	}
	supported, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("supportsInterface: unexpected type %T", out)
	}
	return supported, nil
}

func (n *boundNFT) GetParcelToken(ctx context.Context, tokenID uint64) (*uint256.Int, error) {
	out, err := n.call(ctx, "getParcelToken", new(big.Int).SetUint64(tokenID))
	if err != nil {
		return nil, err
	}
	raw, ok := out.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("getParcelToken: unexpected type %T", out)
	}
	value, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("getParcelToken: value overflows uint256")
	}
	return value, nil
}

func (n *boundNFT) SetFinalBaseURI(ctx context.Context, uri string) error {
	return n.wallet.transact(ctx, n.contract, "setFinalBaseURI", uri)
}

func (n *boundNFT) MintTo(ctx context.Context, recipients []common.Address, counts []uint64) error {
	if len(recipients) != len(counts) {
		return fmt.Errorf("mintTo: %d recipients but %d counts", len(recipients), len(counts))
	}
	return n.wallet.transact(ctx, n.contract, "mintTo", recipients, toBigs(counts))
}

func (n *boundNFT) SafeTransferFrom(ctx context.Context, from, to common.Address, tokenID uint64) error {
	return n.wallet.transact(ctx, n.contract, "safeTransferFrom", from, to, new(big.Int).SetUint64(tokenID))
}

func (n *boundNFT) SafeTransferFromBatch(ctx context.Context, from common.Address, recipients []common.Address, tokenIDs []uint64) error {
	if len(recipients) != len(tokenIDs) {
		return fmt.Errorf("safeTransferFromBatch: %d recipients but %d token ids", len(recipients), len(tokenIDs))
	}
	return n.wallet.transact(ctx, n.contract, "safeTransferFromBatch", from, recipients, toBigs(tokenIDs))
}

func (n *boundNFT) SetParcelTokens(ctx context.Context, tokenIDs []uint64, parcelTokens []*uint256.Int) error {
	if len(tokenIDs) != len(parcelTokens) {
		return fmt.Errorf("setParcelTokens: %d token ids but %d parcel tokens", len(tokenIDs), len(parcelTokens))
	}
	encoded := make([]*big.Int, len(parcelTokens))
	for i, token := range parcelTokens {
		encoded[i] = token.ToBig()
	}
	return n.wallet.transact(ctx, n.contract, "setParcelTokens", toBigs(tokenIDs), encoded)
}

type boundBridgeAdapter struct {
	address  common.Address
	contract *bind.BoundContract
	wallet   *EVMWallet
}

func (b *boundBridgeAdapter) Address() common.Address { return b.address }

func (b *boundBridgeAdapter) UnlockERC721(ctx context.Context, owner, nft common.Address, tokenID uint64) error {
	return b.wallet.transact(ctx, b.contract, "unlockERC721", owner, nft, new(big.Int).SetUint64(tokenID), []byte{})
}

func toBigs(values []uint64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = new(big.Int).SetUint64(v)
	}
	return out
}
