package bundle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"parcelmint/blobstore"
	"parcelmint/chain"
	"parcelmint/chain/chaintest"
	"parcelmint/escrow"
	"parcelmint/escrow/escrowtest"
	"parcelmint/fileset"
	"parcelmint/manifest"
	"parcelmint/progress"
	"parcelmint/storage"
)

type harness struct {
	store  *progress.Store
	wallet *chaintest.Wallet
	escrow *escrowtest.Service
	blobs  *blobstore.MemoryStore
}

func newHarness() *harness {
	return &harness{
		store:  progress.NewStore(storage.NewMemDB()),
		wallet: chaintest.NewWallet(0xa515),
		escrow: escrowtest.New(),
		blobs:  blobstore.NewMemoryStore(),
	}
}

func collection(t *testing.T, manifestJSON string, items int) fileset.Set {
	t.Helper()
	set := fileset.Set{fileset.FromBytes("c/"+manifest.FileName, []byte(manifestJSON))}
	for i := 0; i < items; i++ {
		set = append(set,
			fileset.FromBytes(fmt.Sprintf("c/%d.png", i), []byte(fmt.Sprintf("image-%d", i))),
			fileset.FromBytes(fmt.Sprintf("c/%d.key", i), []byte(fmt.Sprintf("secret-%d", i))),
		)
	}
	return set
}

func premintedManifest(items int, extra string) string {
	nfts := ""
	for i := 0; i < items; i++ {
		if i > 0 {
			nfts += ","
		}
		nfts += fmt.Sprintf(`{"publicImage":"%d.png","privateData":"%d.key","attributes":[{"trait":"n","value":%d}]}`, i, i, i)
	}
	return `{"title":"Gems","symbol":"GEM","creatorRoyalty":3` + extra + `,"nfts":[` + nfts + `]}`
}

func (h *harness) bundle(t *testing.T, manifestJSON string, items int) *Bundle {
	t.Helper()
	b, err := Create(collection(t, manifestJSON, items), h.store, WithConcurrency(2))
	require.NoError(t, err)
	return b
}

func (h *harness) mint(b *Bundle) (*Result, error) {
	return b.Mint(context.Background(), h.escrow, h.wallet, h.blobs)
}

func TestMintCreatesCollection(t *testing.T) {
	h := newHarness()
	b := h.bundle(t, premintedManifest(3, ""), 3)
	require.False(t, b.HasPublicMint())
	require.InDelta(t, 5.5, b.TotalRoyaltyPercent(), 1e-9)

	result, err := h.mint(b)
	require.NoError(t, err)

	require.Equal(t, 1, h.wallet.DeployRevenueShareCalls)
	require.Equal(t, 1, h.wallet.DeployNFTCalls)
	require.EqualValues(t, 550, h.wallet.NFTParams[0].RoyaltyNumerator)
	require.EqualValues(t, 3, h.wallet.NFTParams[0].CollectionSize)
	require.EqualValues(t, 0, h.wallet.NFTParams[0].MaxMintCount)
	require.EqualValues(t, 500, h.wallet.RevenueShareParams[0].MintFeeNumerator)
	require.EqualValues(t, 4545, h.wallet.RevenueShareParams[0].RoyaltyFeeNumerator)
	require.Equal(t, chain.FacilitatorAddress, h.wallet.RevenueShareParams[0].Facilitator)

	nft := h.wallet.Contract(common.HexToAddress(result.Address))
	require.NotNil(t, nft)
	uri, err := nft.BaseURI(context.Background())
	require.NoError(t, err)
	require.Equal(t, result.BaseURI, uri)
	supply, err := nft.TotalSupply(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 3, supply)

	require.Equal(t, 3, h.escrow.MintCalls)
	require.Equal(t, 3, h.escrow.UploadCalls)
	require.Equal(t, 3, h.escrow.AddAssetCalls)
	for _, token := range h.escrow.Tokens() {
		params, ok := h.escrow.MintSpec(token.ID)
		require.True(t, ok)
		require.Equal(t, chain.EmeraldTestnet, params.Transferability.Remote.Network)
		require.Equal(t, result.Address, params.Transferability.Remote.Address)
		require.Len(t, h.escrow.Assets(token.ID), 1)
	}

	// Two directory uploads: images then metadata.
	require.Equal(t, 2, h.blobs.Calls)
	cid := result.BaseURI[len(blobstore.GatewayURL) : len(result.BaseURI)-1]
	files, ok := h.blobs.Directory(cid)
	require.True(t, ok)
	require.Len(t, files, 3)
	var meta tokenMetadata
	require.NoError(t, json.Unmarshal(files[1].Data, &meta))
	require.Equal(t, "Gems #1", meta.Name)
	require.Contains(t, meta.Image, "/1.png")
	require.NotEmpty(t, meta.ParcelToken)
	require.Len(t, meta.Attributes, 1)
}

func TestMintIsIdempotent(t *testing.T) {
	h := newHarness()
	b := h.bundle(t, premintedManifest(2, ""), 2)

	first, err := h.mint(b)
	require.NoError(t, err)
	counts := []int{h.wallet.DeployNFTCalls, h.wallet.DeployRevenueShareCalls, h.escrow.MintCalls, h.escrow.UploadCalls, h.escrow.AddAssetCalls, h.escrow.GetTokenCalls, h.blobs.Calls}

	second, err := h.mint(b)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, counts, []int{h.wallet.DeployNFTCalls, h.wallet.DeployRevenueShareCalls, h.escrow.MintCalls, h.escrow.UploadCalls, h.escrow.AddAssetCalls, h.escrow.GetTokenCalls, h.blobs.Calls})

	// A fresh Bundle over the same ledger short-circuits as well.
	again, err := h.mint(h.bundle(t, premintedManifest(2, ""), 2))
	require.NoError(t, err)
	require.Equal(t, first, again)
	require.Equal(t, counts[0], h.wallet.DeployNFTCalls)
}

func TestMintReusesDeployedContracts(t *testing.T) {
	h := newHarness()
	b := h.bundle(t, premintedManifest(2, ""), 2)
	nftAddr := common.HexToAddress("0x00000000000000000000000000000000000000d1")
	h.wallet.Register(chaintest.NewNFT(nftAddr))
	require.NoError(t, b.Ledger().Set(KeyRevenueShare, "0x00000000000000000000000000000000000000d0"))
	require.NoError(t, b.Ledger().Set(KeyNFT, nftAddr.Hex()))

	result, err := h.mint(b)
	require.NoError(t, err)
	require.Equal(t, 0, h.wallet.DeployRevenueShareCalls)
	require.Equal(t, 0, h.wallet.DeployNFTCalls)
	require.Equal(t, nftAddr.Hex(), result.Address)
	require.Equal(t, 2, h.escrow.MintCalls)
}

func TestMintFanOutFailureKeepsSuccesses(t *testing.T) {
	h := newHarness()
	b := h.bundle(t, premintedManifest(3, ""), 3)
	h.escrow.MintErr = func(params escrow.MintTokenParams) error {
		if params.Name == "Gems #1" {
			return errors.New("quota exceeded")
		}
		return nil
	}

	_, err := h.mint(b)
	require.EqualError(t, err, "failed to create Parcel tokens: quota exceeded")

	created := map[string]string{}
	ok, err := b.Ledger().Get(KeyParcelTokens, &created)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, created, 2)
	require.Contains(t, created, "Gems #0")
	require.Contains(t, created, "Gems #2")
	require.Equal(t, 0, h.escrow.UploadCalls)

	h.escrow.MintErr = nil
	_, err = h.mint(b)
	require.NoError(t, err)
	require.Equal(t, 4, h.escrow.MintCalls)
	require.Equal(t, 1, h.wallet.DeployNFTCalls)
}

func TestMintTokenizationResumesWithoutReupload(t *testing.T) {
	h := newHarness()
	b := h.bundle(t, premintedManifest(2, ""), 2)
	failures := 1
	h.escrow.AddAssetErr = func(string, string) error {
		if failures > 0 {
			failures--
			return errors.New("escrow unavailable")
		}
		return nil
	}

	_, err := h.mint(b)
	require.ErrorContains(t, err, "failed to tokenize private data")
	require.Equal(t, 2, h.escrow.UploadCalls)

	_, err = h.mint(b)
	require.NoError(t, err)
	require.Equal(t, 2, h.escrow.UploadCalls)
	require.Equal(t, 3, h.escrow.AddAssetCalls)
}

func TestMintPublicBlindBox(t *testing.T) {
	h := newHarness()
	extra := `,"initialBaseUri":"https://example.com/box/","minting":{"premintPrice":1,"maxPremintCount":2,"mintPrice":2,"maxMintCount":5}`
	b := h.bundle(t, premintedManifest(2, extra), 2)
	require.True(t, b.HasPublicMint())

	result, err := h.mint(b)
	require.NoError(t, err)
	params := h.wallet.NFTParams[0]
	require.Equal(t, "https://example.com/box/", params.BaseURI)
	require.EqualValues(t, 300, params.RoyaltyNumerator)
	require.EqualValues(t, 5, params.MaxMintCount)
	require.EqualValues(t, 0, h.wallet.RevenueShareParams[0].RoyaltyFeeNumerator)

	nft := h.wallet.Contract(common.HexToAddress(result.Address))
	require.Equal(t, 0, nft.SetBaseURICalls)
	require.Equal(t, 0, nft.MintToCalls)
}

func TestMintAirdropsOwners(t *testing.T) {
	h := newHarness()
	recipient := "0x00000000000000000000000000000000000000bb"
	doc := `{"title":"Gems","symbol":"GEM","creatorRoyalty":0,"nfts":[` +
		`{"publicImage":"0.png","privateData":"0.key"},` +
		`{"publicImage":"1.png","privateData":"1.key","owner":"` + recipient + `"}]}`
	b := h.bundle(t, doc, 2)

	result, err := h.mint(b)
	require.NoError(t, err)
	nft := h.wallet.Contract(common.HexToAddress(result.Address))
	owner, err := nft.OwnerOf(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(recipient), owner)
	owner, err = nft.OwnerOf(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, h.wallet.Address(), owner)
	require.Equal(t, 1, nft.TransferBatchCalls)
}

func TestMintRejectsUnknownNetwork(t *testing.T) {
	h := newHarness()
	h.wallet = chaintest.NewWallet(1)
	b := h.bundle(t, premintedManifest(1, ""), 1)
	_, err := h.mint(b)
	require.ErrorIs(t, err, chain.ErrUnsupportedNetwork)
	require.ErrorContains(t, err, "failed to create Parcel tokens")
}

func TestCreateValidation(t *testing.T) {
	store := progress.NewStore(storage.NewMemDB())
	_, err := Create(fileset.Set{fileset.FromBytes("c/a.png", nil)}, store)
	require.Equal(t, manifest.ValidationErrors{"Missing manifest.json"}, err)

	_, err = Create(collection(t, `{"title":"T","symbol":"T","creatorRoyalty":25,"nfts":[{"publicImage":"0.png","privateData":"0.key"}]}`, 1), store)
	require.Equal(t, manifest.ValidationErrors{"manifest.creatorRoyalty must be <= 20"}, err)
}

func TestCampaignsAreIsolated(t *testing.T) {
	h := newHarness()
	a := h.bundle(t, premintedManifest(1, ""), 1)
	other := `{"title":"Other","symbol":"OTH","creatorRoyalty":0,"nfts":[{"publicImage":"0.png","privateData":"0.key"}]}`
	b := h.bundle(t, other, 1)
	require.NotEqual(t, a.Namespace(), b.Namespace())

	_, err := h.mint(a)
	require.NoError(t, err)
	_, err = h.mint(b)
	require.NoError(t, err)
	require.Equal(t, 2, h.wallet.DeployNFTCalls)
}
