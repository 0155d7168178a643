package chain

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestNetworkForChainID(t *testing.T) {
	cases := map[int64]Network{
		0xa516: EmeraldMainnet,
		0xa515: EmeraldTestnet,
		1337:   EmeraldTestnet,
	}
	for id, want := range cases {
		got, err := NetworkForChainID(big.NewInt(id))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := NetworkForChainID(big.NewInt(1))
	require.ErrorIs(t, err, ErrUnsupportedNetwork)
	_, err = NetworkForChainID(nil)
	require.ErrorIs(t, err, ErrUnsupportedNetwork)
}

func TestTokenIDCodec(t *testing.T) {
	encoded, err := EncodeTokenID("TAbc123")
	require.NoError(t, err)
	word := encoded.Bytes32()
	require.Equal(t, byte('T'), word[0])
	require.Equal(t, byte(0), word[31])

	decoded, ok := DecodeTokenID(encoded)
	require.True(t, ok)
	require.Equal(t, "TAbc123", decoded)

	_, ok = DecodeTokenID(uint256.NewInt(0))
	require.False(t, ok)

	_, err = EncodeTokenID(string(make([]byte, 33)))
	require.Error(t, err)
}

func TestFeeMath(t *testing.T) {
	total := TotalRoyaltyPercent(3, false)
	require.InDelta(t, 5.5, total, 1e-9)
	require.EqualValues(t, 550, RoyaltyNumerator(total))
	require.EqualValues(t, 4545, RoyaltyFeeNumerator(total, false))
	require.EqualValues(t, 0, RoyaltyFeeNumerator(total, true))
	require.EqualValues(t, 500, MintFeeNumerator())

	require.InDelta(t, 3, TotalRoyaltyPercent(3, true), 1e-9)
	require.EqualValues(t, 10_000, RoyaltyFeeNumerator(TotalRoyaltyPercent(0, false), false))
}

func TestSignMessageRecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	w := &EVMWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}

	sig, err := w.SignMessage(context.Background(), "parcel.createIdentity")
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.GreaterOrEqual(t, sig[64], byte(27))

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash([]byte("parcel.createIdentity")), raw)
	require.NoError(t, err)
	require.Equal(t, w.Address(), crypto.PubkeyToAddress(*pub))
}

func TestSendTransactionOnSimulatedChain(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	from := crypto.PubkeyToAddress(key.PublicKey)
	funds, _ := new(big.Int).SetString("1000000000000000000000", 10)
	backend := simulated.NewBackend(types.GenesisAlloc{from: {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wallet, err := NewEVMWallet(ctx, backend.Client(), key)
	require.NoError(t, err)

	chainID, err := wallet.ChainID(ctx)
	require.NoError(t, err)
	network, err := NetworkForChainID(chainID)
	require.NoError(t, err)
	require.Equal(t, EmeraldTestnet, network)

	value := big.NewInt(3_000_000_000_000_000)
	tx, err := wallet.SendTransaction(ctx, FacilitatorAddress, value)
	require.NoError(t, err)
	backend.Commit()

	receipt, err := WaitSuccess(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.Hash(), receipt.TxHash)

	balance, err := backend.Client().BalanceAt(ctx, FacilitatorAddress, nil)
	require.NoError(t, err)
	require.Equal(t, value, balance)
}

func TestNFTAtRequiresAddress(t *testing.T) {
	w := &EVMWallet{}
	_, err := w.NFTAt(common.Address{})
	require.Error(t, err)
}

func TestLoadArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "NFT.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"contractName":"NFT","abi":[],"bytecode":"0x6080"}`), 0o600))
	artifact, err := LoadArtifact(path)
	require.NoError(t, err)
	code, err := artifact.Code()
	require.NoError(t, err)
	require.Equal(t, []byte{0x60, 0x80}, code)

	empty := filepath.Join(dir, "Empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"contractName":"Empty","bytecode":"0x"}`), 0o600))
	_, err = LoadArtifact(empty)
	require.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := common.Bytes2Hex(crypto.FromECDSA(key))
	parsed, err := ParsePrivateKey("0x" + hexKey)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), crypto.PubkeyToAddress(parsed.PublicKey))
	_, err = ParsePrivateKey("")
	require.Error(t, err)
}
