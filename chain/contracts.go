package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// ErrTxFailed marks a transaction that was mined with a non-success status.
var ErrTxFailed = errors.New("transaction failed")

// ParcelNFTInterfaceID is the ERC-165 identifier of the bridgeable NFT interface.
var ParcelNFTInterfaceID = [4]byte{0xf6, 0xb2, 0xdd, 0xdc}

// Transaction is a submitted transaction that can be awaited.
type Transaction interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*types.Receipt, error)
}

// Signer is the wallet provider driving a workflow.
type Signer interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// SignMessage produces a personal_sign style signature.
	SignMessage(ctx context.Context, message string) ([]byte, error)
	SendTransaction(ctx context.Context, to common.Address, value *big.Int) (Transaction, error)
}

// RevenueShareParams are the revenue share contract constructor arguments.
type RevenueShareParams struct {
	Artist              common.Address
	Facilitator         common.Address
	MintFeeNumerator    uint64
	RoyaltyFeeNumerator uint64
}

// NFTParams are the NFT contract constructor arguments.
type NFTParams struct {
	Name             string
	Symbol           string
	BaseURI          string
	RevenueShare     common.Address
	CollectionSize   uint64
	PremintPrice     uint64
	MaxPremintCount  uint64
	MintPrice        uint64
	MaxMintCount     uint64
	RoyaltyNumerator uint64
}

// Deployer deploys and connects to collection contracts. Deploy calls
// return once the contract is mined.
type Deployer interface {
	DeployRevenueShare(ctx context.Context, params RevenueShareParams) (common.Address, error)
	DeployNFT(ctx context.Context, params NFTParams) (common.Address, error)
	NFTAt(address common.Address) (NFT, error)
}

// Wallet is a Signer able to deploy contracts.
type Wallet interface {
	Signer
	Deployer
}

// NFT is the bridgeable collection contract. Mutating calls return once
// the transaction is mined successfully.
type NFT interface {
	Address() common.Address

	BaseURI(ctx context.Context) (string, error)
	TotalSupply(ctx context.Context) (uint64, error)
	OwnerOf(ctx context.Context, tokenID uint64) (common.Address, error)
	SupportsInterface(ctx context.Context, interfaceID [4]byte) (bool, error)
	GetParcelToken(ctx context.Context, tokenID uint64) (*uint256.Int, error)

	SetFinalBaseURI(ctx context.Context, uri string) error
	MintTo(ctx context.Context, recipients []common.Address, counts []uint64) error
	SafeTransferFrom(ctx context.Context, from, to common.Address, tokenID uint64) error
	SafeTransferFromBatch(ctx context.Context, from common.Address, recipients []common.Address, tokenIDs []uint64) error
	SetParcelTokens(ctx context.Context, tokenIDs []uint64, parcelTokens []*uint256.Int) error
}

// BridgeAdapter holds NFTs while their off-chain counterparts are usable.
type BridgeAdapter interface {
	Address() common.Address
	UnlockERC721(ctx context.Context, owner, nft common.Address, tokenID uint64) error
}

// WaitSuccess waits for tx and fails with ErrTxFailed unless it succeeded.
func WaitSuccess(ctx context.Context, tx Transaction) (*types.Receipt, error) {
	receipt, err := tx.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("wait for tx %s: %w", tx.Hash().Hex(), err)
	}
	if receipt == nil || receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), ErrTxFailed)
	}
	return receipt, nil
}
