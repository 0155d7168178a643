package appendle

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"parcelmint/chain"
	"parcelmint/chain/chaintest"
	"parcelmint/escrow"
	"parcelmint/escrow/escrowtest"
	"parcelmint/fileset"
	"parcelmint/manifest"
	"parcelmint/progress"
	"parcelmint/storage"
)

var nftAddress = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type harness struct {
	store  *progress.Store
	wallet *chaintest.Wallet
	nft    *chaintest.NFT
	escrow *escrowtest.Service
}

func newHarness() *harness {
	return &harness{
		store:  progress.NewStore(storage.NewMemDB()),
		wallet: chaintest.NewWallet(0xa516),
		nft:    chaintest.NewNFT(nftAddress),
		escrow: escrowtest.New(),
	}
}

func (h *harness) create(t *testing.T, files fileset.Set) *Appendle {
	t.Helper()
	a, err := Create(context.Background(), h.wallet, h.nft, files, h.store, WithConcurrency(2))
	require.NoError(t, err)
	return a
}

// threeTokens: index 0 has no escrow token, index 1 has one holding only
// b.png and index 2 has one that already holds a.png.
func (h *harness) threeTokens() fileset.Set {
	h.escrow.AddToken(escrow.Token{ID: "EXISTING1"})
	h.escrow.AddDocumentAsset("EXISTING1", "b.png", []byte("b"))
	h.nft.LinkParcelToken(1, "EXISTING1")
	h.escrow.AddToken(escrow.Token{ID: "EXISTING2"})
	h.escrow.AddDocumentAsset("EXISTING2", "a.png", []byte("a"))
	h.nft.LinkParcelToken(2, "EXISTING2")
	return fileset.Set{
		fileset.FromBytes("extra/0/a.png", []byte("zero")),
		fileset.FromBytes("extra/1/a.png", []byte("one")),
		fileset.FromBytes("extra/2/a.png", []byte("two")),
		fileset.FromBytes("extra/.DS_Store", []byte("x")),
	}
}

func TestCreateAggregatesValidationErrors(t *testing.T) {
	h := newHarness()
	h.wallet = chaintest.NewWallet(1)
	h.nft.SetInterface(chain.ParcelNFTInterfaceID, false)
	files := fileset.Set{
		fileset.FromBytes("extra/a.png", nil),
		fileset.FromBytes("extra/x/a.png", nil),
		fileset.FromBytes("extra/1/deep/a.png", nil),
		fileset.FromBytes("extra/1/.hidden", nil),
	}
	_, err := Create(context.Background(), h.wallet, h.nft, files, h.store)
	require.Equal(t, manifest.ValidationErrors{
		"network must be Emerald Mainnet or Emerald Testnet",
		"contract at " + nftAddress.Hex() + " does not implement IFutureParcelNFT",
		"unexpected file: extra/a.png",
		"x in extra/x/a.png is not an NFT ID",
		"unexpected file: extra/1/deep/a.png",
	}, err)
}

func TestCreateInterfaceCheckFailure(t *testing.T) {
	h := newHarness()
	h.nft.SupportsErr = errors.New("execution reverted")
	_, err := Create(context.Background(), h.wallet, h.nft, fileset.Set{fileset.FromBytes("extra/0/a.png", nil)}, h.store)
	require.Equal(t, manifest.ValidationErrors{
		"contract at " + nftAddress.Hex() + " could not be determined to be an IFutureParcelNFT",
	}, err)
}

func TestPlanSplitsCreateAndAppend(t *testing.T) {
	h := newHarness()
	a := h.create(t, h.threeTokens())
	require.Equal(t, []uint64{0, 1, 2}, a.TokenIndices())
	require.Equal(t, chain.EmeraldMainnet, a.Network())

	require.NoError(t, a.Plan(context.Background(), h.escrow))
	require.Equal(t, StatePlanned, a.State())
	plan := a.Planned()
	require.Equal(t, []uint64{0}, plan.CreateIndices())
	require.Equal(t, "a.png", plan.Create[0][0].Name)
	require.Equal(t, []uint64{1, 2}, plan.AppendIndices())
	require.Equal(t, "EXISTING1", plan.Append[1].Token.ID)
	require.Len(t, plan.Append[1].Files, 1)
	require.Equal(t, "a.png", plan.Append[1].Files[0].Name)
	require.Equal(t, "EXISTING2", plan.Append[2].Token.ID)
	require.Empty(t, plan.Append[2].Files)
	require.Equal(t, 2, plan.Len())

	getTokenCalls := h.escrow.GetTokenCalls
	require.NoError(t, a.Plan(context.Background(), h.escrow))
	require.Equal(t, getTokenCalls, h.escrow.GetTokenCalls)
	require.Same(t, plan, a.Planned())
}

func TestPlanFailureReportsMapping(t *testing.T) {
	h := newHarness()
	h.nft.GetParcelTokenErr = errors.New("rpc down")
	a := h.create(t, fileset.Set{fileset.FromBytes("extra/0/a.png", nil)})
	err := a.Plan(context.Background(), h.escrow)
	require.EqualError(t, err, "failed to plan append: failed to fetch existing Parcel token mapping: rpc down")
	require.Equal(t, StateCreated, a.State())
}

func TestOperationsRequirePlanAndPayment(t *testing.T) {
	h := newHarness()
	a := h.create(t, fileset.Set{fileset.FromBytes("extra/0/a.png", nil)})

	_, err := a.CalculateCost()
	require.ErrorIs(t, err, ErrNotPlanned)
	require.EqualError(t, err, "calculateCost: not yet planned")
	require.ErrorIs(t, a.RequestPayment(context.Background()), ErrNotPlanned)
	err = a.Append(context.Background(), h.escrow)
	require.EqualError(t, err, "append: not yet planned")

	require.NoError(t, a.Plan(context.Background(), h.escrow))
	err = a.Append(context.Background(), h.escrow)
	require.ErrorIs(t, err, ErrNotPaid)
	require.EqualError(t, err, "append: not yet paid")
	require.Equal(t, 0, h.escrow.MintCalls)
}

func TestCostAndPayment(t *testing.T) {
	h := newHarness()
	a := h.create(t, h.threeTokens())
	require.NoError(t, a.Plan(context.Background(), h.escrow))

	cost, err := a.CalculateCost()
	require.NoError(t, err)
	require.Equal(t, 6.0, cost)

	require.NoError(t, a.RequestPayment(context.Background()))
	require.Equal(t, StatePaid, a.State())
	require.Len(t, h.wallet.Transfers, 1)
	require.Equal(t, chain.FacilitatorAddress, h.wallet.Transfers[0].To)
	want, _ := new(big.Int).SetString("6000000000000000000", 10)
	require.Equal(t, 0, want.Cmp(h.wallet.Transfers[0].Value))

	cost, err = a.CalculateCost()
	require.NoError(t, err)
	require.Zero(t, cost)

	require.NoError(t, a.RequestPayment(context.Background()))
	require.Equal(t, 1, h.wallet.SendCalls)

	// Payment markers outlive the instance.
	again := h.create(t, fileset.Set{fileset.FromBytes("extra/0/a.png", []byte("zero"))})
	require.NoError(t, again.Plan(context.Background(), h.escrow))
	cost, err = again.CalculateCost()
	require.NoError(t, err)
	require.Zero(t, cost)
	require.NoError(t, again.RequestPayment(context.Background()))
	require.Equal(t, 1, h.wallet.SendCalls)
	require.Equal(t, StatePaid, again.State())
}

func TestFailedPaymentIsFatal(t *testing.T) {
	h := newHarness()
	h.wallet.FailSend = true
	a := h.create(t, fileset.Set{fileset.FromBytes("extra/0/a.png", []byte("zero"))})
	require.NoError(t, a.Plan(context.Background(), h.escrow))

	err := a.RequestPayment(context.Background())
	require.ErrorIs(t, err, chain.ErrTxFailed)
	require.ErrorContains(t, err, "payment tx 0x")
	require.Equal(t, StatePlanned, a.State())

	cost, err := a.CalculateCost()
	require.NoError(t, err)
	require.Equal(t, 3.0, cost)
}

func TestAppendCreatesLinksAndTokenizes(t *testing.T) {
	h := newHarness()
	a := h.create(t, h.threeTokens())
	ctx := context.Background()
	require.NoError(t, a.Plan(ctx, h.escrow))
	require.NoError(t, a.RequestPayment(ctx))
	require.NoError(t, a.Append(ctx, h.escrow))
	require.Equal(t, StateAppended, a.State())

	require.Equal(t, 1, h.escrow.MintCalls)
	require.Equal(t, 2, h.escrow.UploadCalls)
	require.Equal(t, [][]uint64{{0}}, h.nft.SetParcelTokensArgs)

	encoded, err := h.nft.GetParcelToken(ctx, 0)
	require.NoError(t, err)
	tokenID, ok := chain.DecodeTokenID(encoded)
	require.True(t, ok)
	params, ok := h.escrow.MintSpec(tokenID)
	require.True(t, ok)
	require.Equal(t, chain.EmeraldMainnet, params.Transferability.Remote.Network)
	require.Equal(t, nftAddress.Hex(), params.Transferability.Remote.Address)
	require.Len(t, h.escrow.Assets(tokenID), 1)
	require.Len(t, h.escrow.Assets("EXISTING1"), 2)
	require.Len(t, h.escrow.Assets("EXISTING2"), 1)

	require.NoError(t, a.Append(ctx, h.escrow))
	require.Equal(t, 1, h.escrow.MintCalls)

	// A later run over the same files finds nothing left to do.
	again := h.create(t, h.threeTokensFiles())
	require.NoError(t, again.Plan(ctx, h.escrow))
	require.Zero(t, again.Planned().Len())
}

func (h *harness) threeTokensFiles() fileset.Set {
	return fileset.Set{
		fileset.FromBytes("extra/0/a.png", []byte("zero")),
		fileset.FromBytes("extra/1/a.png", []byte("one")),
		fileset.FromBytes("extra/2/a.png", []byte("two")),
	}
}

func TestAppendResumesWithoutRepeatingWork(t *testing.T) {
	h := newHarness()
	a := h.create(t, fileset.Set{
		fileset.FromBytes("extra/0/a.png", []byte("a")),
		fileset.FromBytes("extra/0/b.png", []byte("b")),
		fileset.FromBytes("extra/1/a.png", []byte("c")),
	})
	ctx := context.Background()
	require.NoError(t, a.Plan(ctx, h.escrow))
	require.NoError(t, a.RequestPayment(ctx))

	failures := 1
	h.escrow.AddAssetErr = func(string, string) error {
		if failures > 0 {
			failures--
			return errors.New("escrow unavailable")
		}
		return nil
	}
	err := a.Append(ctx, h.escrow)
	require.ErrorContains(t, err, "failed to add files to Parcel tokens: failed to add ")
	require.Equal(t, StatePaid, a.State())
	require.Equal(t, 2, h.escrow.MintCalls)
	require.Equal(t, 3, h.escrow.UploadCalls)

	require.NoError(t, a.Append(ctx, h.escrow))
	require.Equal(t, 2, h.escrow.MintCalls)
	require.Equal(t, 3, h.escrow.UploadCalls)
	require.Equal(t, 4, h.escrow.AddAssetCalls)
	require.Equal(t, 1, h.nft.SetParcelTokensCalls)
	require.Equal(t, [][]uint64{{0, 1}}, h.nft.SetParcelTokensArgs)
}

func TestCostHelpers(t *testing.T) {
	require.Equal(t, 53.0, RoundCost(FileCost(1<<30)))
	require.Equal(t, 3.0, RoundCost(FileCost(0)))
	require.Equal(t, 0, big.NewInt(1_500_000_000_000_000_000).Cmp(PaymentWei(1.5)))
}
