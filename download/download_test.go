package download

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"parcelmint/chain/chaintest"
	"parcelmint/escrow"
	"parcelmint/escrow/escrowtest"
)

type harness struct {
	wallet  *chaintest.Wallet
	nft     *chaintest.NFT
	adapter *chaintest.BridgeAdapter
	escrow  *escrowtest.Service
	req     Request
}

func newHarness() *harness {
	h := &harness{
		wallet: chaintest.NewWallet(0xa515),
		nft:    chaintest.NewNFT(common.HexToAddress("0x00000000000000000000000000000000000000a1")),
		escrow: escrowtest.New(),
	}
	h.adapter = chaintest.NewBridgeAdapter(common.HexToAddress("0x00000000000000000000000000000000000000ad"), h.nft)
	h.nft.SetOwner(4, h.wallet.Address())
	h.escrow.SetIdentity(&escrow.Identity{ID: "ID1"})
	h.escrow.AddToken(escrow.Token{ID: "TOKEN4"})
	h.req = Request{NFT: h.nft, Adapter: h.adapter, TokenIndex: 4, EscrowTokenID: "TOKEN4"}
	return h
}

func (h *harness) run(w *bytes.Buffer) error {
	return Run(context.Background(), h.escrow, h.wallet, h.req, w, WithPolling(3, time.Millisecond))
}

func TestRunDownloadsAndUnlocks(t *testing.T) {
	h := newHarness()
	h.escrow.AddDocumentAsset("TOKEN4", "secret.key", []byte("top secret"))
	h.escrow.SetBalance("ID1", "TOKEN4", 1)
	h.escrow.BalanceAfter = 2

	var out bytes.Buffer
	require.NoError(t, h.run(&out))
	require.Equal(t, "top secret", out.String())
	require.Equal(t, 3, h.escrow.BalanceCalls)
	require.Equal(t, 1, h.adapter.UnlockCalls)

	owner, err := h.nft.OwnerOf(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, h.wallet.Address(), owner)
}

func TestRunSkipsLockWhenAlreadyHeld(t *testing.T) {
	h := newHarness()
	h.nft.SetOwner(4, h.adapter.Address())
	h.escrow.AddDocumentAsset("TOKEN4", "secret.key", []byte("x"))
	h.escrow.SetBalance("ID1", "TOKEN4", 1)

	var out bytes.Buffer
	require.NoError(t, h.run(&out))
	require.Equal(t, 1, h.nft.TransferCalls)
	require.Equal(t, 1, h.adapter.UnlockCalls)
}

func TestRunCreatesIdentity(t *testing.T) {
	h := newHarness()
	h.escrow.SetIdentity(nil)
	h.escrow.AddDocumentAsset("TOKEN4", "secret.key", []byte("x"))
	h.escrow.SetBalance("I000002", "TOKEN4", 1)

	var out bytes.Buffer
	require.NoError(t, h.run(&out))
	require.Equal(t, 1, h.escrow.CreateIdentityCalls)
	require.Equal(t, 1, h.wallet.SignCalls)
}

func TestRunTimesOut(t *testing.T) {
	h := newHarness()
	h.escrow.AddDocumentAsset("TOKEN4", "secret.key", []byte("x"))

	var out bytes.Buffer
	err := h.run(&out)
	require.ErrorIs(t, err, ErrBridgeTimeout)
	require.EqualError(t, err, "failed to wait for token to be bridged: timed out")
	require.Equal(t, 3, h.escrow.BalanceCalls)
	require.Zero(t, out.Len())
	require.Equal(t, 0, h.adapter.UnlockCalls)
}

func TestRunWithoutAssetsUnlocks(t *testing.T) {
	h := newHarness()
	var out bytes.Buffer
	err := h.run(&out)
	require.ErrorIs(t, err, ErrNoAssets)
	require.EqualError(t, err, "failed to fetch Parcel token assets: there are no assets")
	require.Equal(t, 1, h.adapter.UnlockCalls)

	owner, err := h.nft.OwnerOf(context.Background(), 4)
	require.NoError(t, err)
	require.Equal(t, h.wallet.Address(), owner)
}

func TestRunUnknownToken(t *testing.T) {
	h := newHarness()
	h.req.EscrowTokenID = "MISSING"
	var out bytes.Buffer
	err := h.run(&out)
	require.ErrorIs(t, err, escrow.ErrNotFound)
	require.ErrorContains(t, err, "failed to fetch Parcel token: ")
}
