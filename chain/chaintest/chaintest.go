// Package chaintest provides in-memory chain collaborators with call
// counters for workflow tests.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"parcelmint/chain"
)

// Wallet is an in-memory chain.Wallet.
type Wallet struct {
	mu sync.Mutex

	Owner     common.Address
	ChainIDV  *big.Int
	nextAddr  uint64
	contracts map[common.Address]*NFT

	// FailSend makes SendTransaction return a transaction that mines with a failure status.
	FailSend bool

	DeployRevenueShareCalls int
	DeployNFTCalls          int
	SendCalls               int
	SignCalls               int

	RevenueShareParams []chain.RevenueShareParams
	NFTParams          []chain.NFTParams
	Transfers          []Transfer
}

// Transfer records a value transfer.
type Transfer struct {
	To    common.Address
	Value *big.Int
}

// NewWallet returns a wallet on the given chain id.
func NewWallet(chainID int64) *Wallet {
	return &Wallet{
		Owner:     common.HexToAddress("0x00000000000000000000000000000000000c0ffe"),
		ChainIDV:  big.NewInt(chainID),
		contracts: make(map[common.Address]*NFT),
	}
}

func (w *Wallet) Address() common.Address { return w.Owner }

func (w *Wallet) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(w.ChainIDV), nil
}

func (w *Wallet) SignMessage(_ context.Context, message string) ([]byte, error) {
	w.mu.Lock()
	w.SignCalls++
	w.mu.Unlock()
	return crypto.Keccak256([]byte(message)), nil
}

func (w *Wallet) SendTransaction(_ context.Context, to common.Address, value *big.Int) (chain.Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.SendCalls++
	w.Transfers = append(w.Transfers, Transfer{To: to, Value: new(big.Int).Set(value)})
	status := types.ReceiptStatusSuccessful
	if w.FailSend {
		status = types.ReceiptStatusFailed
	}
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("tx-%d", w.SendCalls)))
	return &Tx{hash: hash, status: status}, nil
}

func (w *Wallet) DeployRevenueShare(_ context.Context, params chain.RevenueShareParams) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.DeployRevenueShareCalls++
	w.RevenueShareParams = append(w.RevenueShareParams, params)
	return w.allocate(), nil
}

func (w *Wallet) DeployNFT(_ context.Context, params chain.NFTParams) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.DeployNFTCalls++
	w.NFTParams = append(w.NFTParams, params)
	addr := w.allocate()
	nft := NewNFT(addr)
	nft.baseURI = params.BaseURI
	w.contracts[addr] = nft
	return addr, nil
}

// NFTAt returns the contract previously deployed or registered at address.
// Unknown addresses get a fresh empty contract.
func (w *Wallet) NFTAt(address common.Address) (chain.NFT, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	nft, ok := w.contracts[address]
	if !ok {
		nft = NewNFT(address)
		w.contracts[address] = nft
	}
	return nft, nil
}

// Contract returns the in-memory contract at address.
func (w *Wallet) Contract(address common.Address) *NFT {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.contracts[address]
}

// Register installs nft so that NFTAt returns it.
func (w *Wallet) Register(nft *NFT) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.contracts[nft.address] = nft
}

func (w *Wallet) allocate() common.Address {
	w.nextAddr++
	return common.BigToAddress(new(big.Int).SetUint64(0xC0000000 + w.nextAddr))
}

// Tx is an already mined transaction.
type Tx struct {
	hash   common.Hash
	status uint64
}

func (t *Tx) Hash() common.Hash { return t.hash }

func (t *Tx) Wait(context.Context) (*types.Receipt, error) {
	return &types.Receipt{Status: t.status, TxHash: t.hash}, nil
}

// NFT is an in-memory chain.NFT.
type NFT struct {
	mu sync.Mutex

	address      common.Address
	baseURI      string
	owners       map[uint64]common.Address
	parcelTokens map[uint64]*uint256.Int
	interfaces   map[[4]byte]bool

	// SupportsErr is returned from SupportsInterface when set.
	SupportsErr error
	// GetParcelTokenErr is returned from GetParcelToken when set.
	GetParcelTokenErr error

	SetBaseURICalls      int
	MintToCalls          int
	TransferBatchCalls   int
	TransferCalls        int
	SetParcelTokensCalls int
	SetParcelTokensArgs  [][]uint64
}

// NewNFT returns an empty contract that implements the bridgeable NFT interface.
func NewNFT(address common.Address) *NFT {
	return &NFT{
		address:      address,
		owners:       make(map[uint64]common.Address),
		parcelTokens: make(map[uint64]*uint256.Int),
		interfaces:   map[[4]byte]bool{chain.ParcelNFTInterfaceID: true},
	}
}

// SetInterface toggles support for an interface id.
func (n *NFT) SetInterface(id [4]byte, supported bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interfaces[id] = supported
}

// LinkParcelToken records an off-chain token id for tokenID.
func (n *NFT) LinkParcelToken(tokenID uint64, parcelToken string) {
	encoded, err := chain.EncodeTokenID(parcelToken)
	if err != nil {
		panic(err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.parcelTokens[tokenID] = encoded
}

// SetOwner assigns tokenID to owner.
func (n *NFT) SetOwner(tokenID uint64, owner common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.owners[tokenID] = owner
}

func (n *NFT) Address() common.Address { return n.address }

func (n *NFT) BaseURI(context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.baseURI, nil
}

func (n *NFT) TotalSupply(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return uint64(len(n.owners)), nil
}

func (n *NFT) OwnerOf(_ context.Context, tokenID uint64) (common.Address, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	owner, ok := n.owners[tokenID]
	if !ok {
		return common.Address{}, errors.New("ERC721: invalid token ID")
	}
	return owner, nil
}

func (n *NFT) SupportsInterface(_ context.Context, id [4]byte) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.SupportsErr != nil {
		return false, n.SupportsErr
	}
	return n.interfaces[id], nil
}

func (n *NFT) GetParcelToken(_ context.Context, tokenID uint64) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.GetParcelTokenErr != nil {
		return nil, n.GetParcelTokenErr
	}
	if token, ok := n.parcelTokens[tokenID]; ok {
		return new(uint256.Int).Set(token), nil
	}
	return uint256.NewInt(0), nil
}

func (n *NFT) SetFinalBaseURI(_ context.Context, uri string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.SetBaseURICalls++
	n.baseURI = uri
	return nil
}

func (n *NFT) MintTo(_ context.Context, recipients []common.Address, counts []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.MintToCalls++
	next := uint64(len(n.owners))
	for i, recipient := range recipients {
		for c := uint64(0); c < counts[i]; c++ {
			n.owners[next] = recipient
			next++
		}
	}
	return nil
}

func (n *NFT) SafeTransferFrom(_ context.Context, from, to common.Address, tokenID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.TransferCalls++
	if n.owners[tokenID] != from {
		return errors.New("ERC721: transfer from incorrect owner")
	}
	n.owners[tokenID] = to
	return nil
}

func (n *NFT) SafeTransferFromBatch(_ context.Context, from common.Address, recipients []common.Address, tokenIDs []uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.TransferBatchCalls++
	for i, id := range tokenIDs {
		if n.owners[id] != from {
			return errors.New("ERC721: transfer from incorrect owner")
		}
		n.owners[id] = recipients[i]
	}
	return nil
}

func (n *NFT) SetParcelTokens(_ context.Context, tokenIDs []uint64, parcelTokens []*uint256.Int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.SetParcelTokensCalls++
	n.SetParcelTokensArgs = append(n.SetParcelTokensArgs, append([]uint64(nil), tokenIDs...))
	for i, id := range tokenIDs {
		n.parcelTokens[id] = new(uint256.Int).Set(parcelTokens[i])
	}
	return nil
}

// BridgeAdapter is an in-memory chain.BridgeAdapter that returns locked
// tokens to their owner.
type BridgeAdapter struct {
	address common.Address
	nfts    map[common.Address]*NFT

	UnlockCalls int
}

// NewBridgeAdapter returns an adapter at address able to unlock tokens of nfts.
func NewBridgeAdapter(address common.Address, nfts ...*NFT) *BridgeAdapter {
	byAddr := make(map[common.Address]*NFT, len(nfts))
	for _, nft := range nfts {
		byAddr[nft.Address()] = nft
	}
	return &BridgeAdapter{address: address, nfts: byAddr}
}

func (b *BridgeAdapter) Address() common.Address { return b.address }

func (b *BridgeAdapter) UnlockERC721(ctx context.Context, owner, nft common.Address, tokenID uint64) error {
	b.UnlockCalls++
	contract, ok := b.nfts[nft]
	if !ok {
		return fmt.Errorf("unknown nft %s", nft.Hex())
	}
	return contract.SafeTransferFrom(ctx, b.address, owner, tokenID)
}
