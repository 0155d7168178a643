package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"parcelmint/observability"
)

// Backend is the node connection used by EVMWallet. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// WalletOption customises an EVMWallet.
type WalletOption func(*EVMWallet)

// WithArtifacts configures the creation bytecode used for deployments.
func WithArtifacts(nft, revenueShare Artifact) WalletOption {
	return func(w *EVMWallet) {
		w.nftArtifact = nft
		w.revenueShareArtifact = revenueShare
	}
}

// WithLogger overrides the wallet logger.
func WithLogger(logger *slog.Logger) WalletOption {
	return func(w *EVMWallet) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// EVMWallet signs and submits transactions with a local private key.
type EVMWallet struct {
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int

	nftArtifact          Artifact
	revenueShareArtifact Artifact

	logger  *slog.Logger
	metrics *observability.WorkflowMetrics

	// sendMu serialises nonce assignment.
	sendMu sync.Mutex
}

// Dial connects to an RPC endpoint and returns a wallet for key.
func Dial(ctx context.Context, endpoint string, key *ecdsa.PrivateKey, opts ...WalletOption) (*EVMWallet, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return NewEVMWallet(ctx, client, key, opts...)
}

// NewEVMWallet binds key to backend, resolving the chain id once.
func NewEVMWallet(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, opts ...WalletOption) (*EVMWallet, error) {
	if backend == nil {
		return nil, fmt.Errorf("evm backend required")
	}
	if key == nil {
		return nil, fmt.Errorf("signing key required")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	w := &EVMWallet{
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		logger:  slog.Default(),
		metrics: observability.Workflow(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *EVMWallet) Address() common.Address { return w.address }

func (w *EVMWallet) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(w.chainID), nil
}

// SignMessage signs message using the EIP-191 personal message prefix.
func (w *EVMWallet) SignMessage(_ context.Context, message string) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SendTransaction transfers value to an externally owned account.
func (w *EVMWallet) SendTransaction(ctx context.Context, to common.Address, value *big.Int) (Transaction, error) {
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("value must be non-negative")
	}
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return nil, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price: %w", err)
	}
	gas, err := w.backend.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	w.logger.Info("value transfer sent",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("to", to.Hex()),
		slog.String("value", value.String()))
	return &evmTransaction{tx: signed, backend: w.backend}, nil
}

// DeployRevenueShare deploys the revenue share contract and waits for it to be mined.
func (w *EVMWallet) DeployRevenueShare(ctx context.Context, params RevenueShareParams) (common.Address, error) {
	return w.deploy(ctx, "revenue-share", revenueShareABI, w.revenueShareArtifact,
		params.Artist,
		params.Facilitator,
		new(big.Int).SetUint64(params.MintFeeNumerator),
		new(big.Int).SetUint64(params.RoyaltyFeeNumerator),
	)
}

// DeployNFT deploys the collection contract and waits for it to be mined.
func (w *EVMWallet) DeployNFT(ctx context.Context, params NFTParams) (common.Address, error) {
	return w.deploy(ctx, "nft", nftABI, w.nftArtifact,
		params.Name,
		params.Symbol,
		params.BaseURI,
		params.RevenueShare,
		new(big.Int).SetUint64(params.CollectionSize),
		new(big.Int).SetUint64(params.PremintPrice),
		new(big.Int).SetUint64(params.MaxPremintCount),
		new(big.Int).SetUint64(params.MintPrice),
		new(big.Int).SetUint64(params.MaxMintCount),
		new(big.Int).SetUint64(params.RoyaltyNumerator),
	)
}

// NFTAt connects to a deployed collection contract.
func (w *EVMWallet) NFTAt(address common.Address) (NFT, error) {
	if (address == common.Address{}) {
		return nil, fmt.Errorf("nft address required")
	}
	return &boundNFT{
		address:  address,
		contract: bind.NewBoundContract(address, nftABI, w.backend, w.backend, w.backend),
		wallet:   w,
	}, nil
}

// BridgeAdapterAt connects to the escrow bridge adapter.
func (w *EVMWallet) BridgeAdapterAt(address common.Address) (BridgeAdapter, error) {
	if (address == common.Address{}) {
		return nil, fmt.Errorf("bridge adapter address required")
	}
	return &boundBridgeAdapter{
		address:  address,
		contract: bind.NewBoundContract(address, bridgeAdapterABI, w.backend, w.backend, w.backend),
		wallet:   w,
	}, nil
}

func (w *EVMWallet) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, w.chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

func (w *EVMWallet) deploy(ctx context.Context, kind string, parsed abi.ABI, artifact Artifact, args ...interface{}) (common.Address, error) {
	code, err := artifact.Code()
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", kind, err)
	}
	opts, err := w.transactOpts(ctx)
	if err != nil {
		return common.Address{}, err
	}
	w.sendMu.Lock()
	address, tx, _, err := bind.DeployContract(opts, parsed, code, w.backend, args...)
	w.sendMu.Unlock()
	if err != nil {
		w.metrics.RecordTransaction("deploy-"+kind, err)
		return common.Address{}, fmt.Errorf("deploy %s: %w", kind, err)
	}
	w.logger.Info("contract deployment sent", slog.String("kind", kind), slog.String("tx", tx.Hash().Hex()), slog.String("address", address.Hex()))
	_, err = WaitSuccess(ctx, &evmTransaction{tx: tx, backend: w.backend})
	w.metrics.RecordTransaction("deploy-"+kind, err)
	if err != nil {
		return common.Address{}, fmt.Errorf("deploy %s: %w", kind, err)
	}
	return address, nil
}

func (w *EVMWallet) transact(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	opts, err := w.transactOpts(ctx)
	if err != nil {
		return err
	}
	w.sendMu.Lock()
	tx, err := contract.Transact(opts, method, args...)
	w.sendMu.Unlock()
	if err != nil {
		w.metrics.RecordTransaction(method, err)
		return fmt.Errorf("%s: %w", method, err)
	}
	_, err = WaitSuccess(ctx, &evmTransaction{tx: tx, backend: w.backend})
	w.metrics.RecordTransaction(method, err)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

type evmTransaction struct {
	tx      *types.Transaction
	backend bind.DeployBackend
}

func (t *evmTransaction) Hash() common.Hash { return t.tx.Hash() }

func (t *evmTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, t.backend, t.tx)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, errors.New("receipt missing")
	}
	return receipt, nil
}
