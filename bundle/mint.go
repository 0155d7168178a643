package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"path"

	"github.com/ethereum/go-ethereum/common"

	"parcelmint/blobstore"
	"parcelmint/chain"
	"parcelmint/escrow"
	"parcelmint/progress"
	"parcelmint/workflow"
)

type imagesUpload struct {
	cid       string
	filenames []string
}

type tokenMetadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image"`
	ParcelToken string            `json:"parcel_token"`
	Attributes  []json.RawMessage `json:"attributes"`
}

// Mint runs the create-collection workflow. It is idempotent: once a result
// is recorded further calls return it without touching any collaborator.
func (b *Bundle) Mint(ctx context.Context, svc escrow.Service, wallet chain.Wallet, blobs blobstore.Store) (*Result, error) {
	var recorded Result
	ok, err := b.ledger.Get(KeyResult, &recorded)
	if err != nil {
		return nil, err
	}
	if ok {
		b.logger.Info("mint already completed", slog.String("campaign", b.Namespace()), slog.String("nft", recorded.Address))
		return &recorded, nil
	}

	runner := workflow.NewRunner("bundle", b.Namespace(), b.logger)
	log := runner.Logger()

	var images imagesUpload
	if err := runner.Run(ctx, stepUploadImages, func(ctx context.Context) error {
		images, err = b.uploadPublicImages(ctx, blobs)
		return err
	}); err != nil {
		return nil, err
	}

	var revenueShare common.Address
	if err := runner.Run(ctx, stepRevenueShare, func(ctx context.Context) error {
		revenueShare, err = b.deployRevenueShare(ctx, runner, wallet)
		return err
	}); err != nil {
		return nil, err
	}

	var nft chain.NFT
	if err := runner.Run(ctx, stepNFT, func(ctx context.Context) error {
		nft, err = b.deployNFT(ctx, runner, wallet, revenueShare)
		return err
	}); err != nil {
		return nil, err
	}

	var tokens []*escrow.Token
	if err := runner.Run(ctx, stepCreateTokens, func(ctx context.Context) error {
		tokens, err = b.createParcelTokens(ctx, svc, wallet, nft)
		return err
	}); err != nil {
		return nil, err
	}

	var metadataCID string
	if err := runner.Run(ctx, stepUploadMetadata, func(ctx context.Context) error {
		metadataCID, err = b.uploadMetadata(ctx, blobs, images, tokens)
		return err
	}); err != nil {
		return nil, err
	}

	if err := runner.Run(ctx, stepTokenize, func(ctx context.Context) error {
		return b.uploadAndTokenizePrivateData(ctx, svc, tokens)
	}); err != nil {
		return nil, err
	}

	baseURI := blobstore.Link(metadataCID)
	if b.Manifest.IsBlindBox() {
		runner.Skip(ctx, stepFinalize, "blind box collection")
	} else if err := runner.Run(ctx, stepFinalize, func(ctx context.Context) error {
		return b.finalizeBaseURI(ctx, runner, nft, baseURI)
	}); err != nil {
		return nil, err
	}

	if b.HasPublicMint() {
		runner.Skip(ctx, stepPremint, "collection has a public mint")
	} else if err := runner.Run(ctx, stepPremint, func(ctx context.Context) error {
		return b.premint(ctx, runner, wallet, nft)
	}); err != nil {
		return nil, err
	}

	if err := b.airdropIfNeeded(ctx, runner, wallet, nft); err != nil {
		return nil, err
	}

	result := Result{Address: nft.Address().Hex(), BaseURI: baseURI}
	if err := b.ledger.Set(KeyResult, result); err != nil {
		return nil, err
	}
	log.Info("mint completed", slog.String("nft", result.Address), slog.String("base_uri", result.BaseURI))
	return &result, nil
}

// uploadPublicImages is not ledger tracked: content addressing makes the
// upload idempotent.
func (b *Bundle) uploadPublicImages(ctx context.Context, blobs blobstore.Store) (imagesUpload, error) {
	upload := imagesUpload{filenames: make([]string, len(b.Manifest.NFTs))}
	blobsToStore := make([]blobstore.NamedBlob, len(b.Manifest.NFTs))
	for i, descriptor := range b.Manifest.NFTs {
		file, ok := b.files.Get(descriptor.PublicImage)
		if !ok {
			return upload, fmt.Errorf("missing file %s", descriptor.PublicImage)
		}
		data, err := file.ReadAll()
		if err != nil {
			return upload, fmt.Errorf("read %s: %w", file.Name, err)
		}
		name := fmt.Sprintf("%d", i)
		if ext := file.Ext(); ext != "" {
			name += "." + ext
		}
		upload.filenames[i] = name
		blobsToStore[i] = blobstore.NamedBlob{
			Name:        name,
			ContentType: mime.TypeByExtension(path.Ext(file.Name)),
			Data:        data,
		}
	}
	cid, err := blobs.StoreDirectory(ctx, blobsToStore)
	if err != nil {
		return upload, err
	}
	upload.cid = cid
	return upload, nil
}

func (b *Bundle) deployRevenueShare(ctx context.Context, runner *workflow.Runner, wallet chain.Wallet) (common.Address, error) {
	var existing string
	ok, err := b.ledger.Get(KeyRevenueShare, &existing)
	if err != nil {
		return common.Address{}, err
	}
	if ok {
		runner.Skip(ctx, stepRevenueShare, "reusing "+existing)
		return common.HexToAddress(existing), nil
	}
	address, err := wallet.DeployRevenueShare(ctx, chain.RevenueShareParams{
		Artist:              wallet.Address(),
		Facilitator:         chain.FacilitatorAddress,
		MintFeeNumerator:    chain.MintFeeNumerator(),
		RoyaltyFeeNumerator: chain.RoyaltyFeeNumerator(b.TotalRoyaltyPercent(), b.HasPublicMint()),
	})
	if err != nil {
		return common.Address{}, err
	}
	if err := b.ledger.Set(KeyRevenueShare, address.Hex()); err != nil {
		return common.Address{}, err
	}
	return address, nil
}

func (b *Bundle) deployNFT(ctx context.Context, runner *workflow.Runner, wallet chain.Wallet, revenueShare common.Address) (chain.NFT, error) {
	var existing string
	ok, err := b.ledger.Get(KeyNFT, &existing)
	if err != nil {
		return nil, err
	}
	if ok {
		runner.Skip(ctx, stepNFT, "reusing "+existing)
		return wallet.NFTAt(common.HexToAddress(existing))
	}

	params := chain.NFTParams{
		Name:             b.Manifest.Title,
		Symbol:           b.Manifest.Symbol,
		BaseURI:          b.Manifest.InitialBaseURI,
		RevenueShare:     revenueShare,
		CollectionSize:   uint64(b.CollectionSize()),
		RoyaltyNumerator: chain.RoyaltyNumerator(b.TotalRoyaltyPercent()),
	}
	if minting := b.Manifest.Minting; minting != nil {
		params.PremintPrice = minting.PremintPrice
		params.MaxPremintCount = minting.MaxPremintCount
		params.MintPrice = minting.MintPrice
		params.MaxMintCount = minting.MaxMintCount
	}
	address, err := wallet.DeployNFT(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := b.ledger.Set(KeyNFT, address.Hex()); err != nil {
		return nil, err
	}
	return wallet.NFTAt(address)
}

func (b *Bundle) tokenName(i int) string {
	return fmt.Sprintf("%s #%d", b.Manifest.Title, i)
}

func (b *Bundle) createParcelTokens(ctx context.Context, svc escrow.Service, wallet chain.Wallet, nft chain.NFT) ([]*escrow.Token, error) {
	chainID, err := wallet.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	network, err := chain.NetworkForChainID(chainID)
	if err != nil {
		return nil, err
	}

	created := make(map[string]string)
	if _, err := b.ledger.Get(KeyParcelTokens, &created); err != nil {
		return nil, err
	}
	contract := nft.Address().Hex()
	return workflow.Gather(ctx, b.concurrency, b.CollectionSize(), func(ctx context.Context, i int) (*escrow.Token, error) {
		name := b.tokenName(i)
		if id, ok := created[name]; ok {
			return svc.GetToken(ctx, id)
		}
		token, err := svc.MintToken(ctx, escrow.BridgedTokenParams(name, network, contract, uint64(i)))
		if err != nil {
			return nil, err
		}
		if err := progress.Update(b.ledger, KeyParcelTokens, func(tokens *map[string]string) {
			if *tokens == nil {
				*tokens = make(map[string]string)
			}
			(*tokens)[name] = token.ID
		}); err != nil {
			return nil, err
		}
		return token, nil
	})
}

// uploadMetadata is not ledger tracked for the same reason as the images.
func (b *Bundle) uploadMetadata(ctx context.Context, blobs blobstore.Store, images imagesUpload, tokens []*escrow.Token) (string, error) {
	metadatas := make([]blobstore.NamedBlob, len(b.Manifest.NFTs))
	for i, descriptor := range b.Manifest.NFTs {
		name := descriptor.Title
		if name == "" {
			name = b.tokenName(i)
		}
		attributes := descriptor.Attributes
		if attributes == nil {
			attributes = []json.RawMessage{}
		}
		encoded, err := json.MarshalIndent(tokenMetadata{
			Name:        name,
			Description: descriptor.Description,
			Image:       blobstore.FileLink(images.cid, images.filenames[i]),
			ParcelToken: tokens[i].ID,
			Attributes:  attributes,
		}, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode metadata %d: %w", i, err)
		}
		metadatas[i] = blobstore.NamedBlob{
			Name:        fmt.Sprintf("%d", i),
			ContentType: "application/json",
			Data:        encoded,
		}
	}
	return blobs.StoreDirectory(ctx, metadatas)
}

func (b *Bundle) uploadAndTokenizePrivateData(ctx context.Context, svc escrow.Service, tokens []*escrow.Token) error {
	docs := make(map[string]tokenDoc)
	if _, err := b.ledger.Get(KeyTokenDocs, &docs); err != nil {
		return err
	}
	record := func(tokenID string, state tokenDoc) error {
		return progress.Update(b.ledger, KeyTokenDocs, func(all *map[string]tokenDoc) {
			if *all == nil {
				*all = make(map[string]tokenDoc)
			}
			(*all)[tokenID] = state
		})
	}

	return workflow.GatherEach(ctx, b.concurrency, len(tokens), func(ctx context.Context, i int) error {
		token := tokens[i]
		state := docs[token.ID]
		if state.ID == "" {
			descriptor := b.Manifest.NFTs[i]
			file, ok := b.files.Get(descriptor.PrivateData)
			if !ok {
				return fmt.Errorf("missing file %s", descriptor.PrivateData)
			}
			rc, err := file.Open()
			if err != nil {
				return fmt.Errorf("open %s: %w", file.Name, err)
			}
			doc, err := svc.UploadDocument(ctx, file.Name, rc, escrow.UploadParams{
				Owner:   escrow.OwnerEscrow,
				Details: escrow.DocumentDetails{Title: file.Name},
			})
			rc.Close()
			if err != nil {
				return fmt.Errorf("upload %s: %w", file.Name, err)
			}
			state.ID = doc.ID
			if err := record(token.ID, state); err != nil {
				return err
			}
		}
		if state.Tokenized {
			return nil
		}
		if err := svc.AddAsset(ctx, token.ID, state.ID); err != nil {
			return fmt.Errorf("failed to tokenize document: %w", err)
		}
		state.Tokenized = true
		return record(token.ID, state)
	})
}

func (b *Bundle) finalizeBaseURI(ctx context.Context, runner *workflow.Runner, nft chain.NFT, baseURI string) error {
	current, err := nft.BaseURI(ctx)
	if err != nil {
		return err
	}
	if current != "" {
		runner.Skip(ctx, stepFinalize, "base uri already set")
		return nil
	}
	return nft.SetFinalBaseURI(ctx, baseURI)
}

func (b *Bundle) premint(ctx context.Context, runner *workflow.Runner, wallet chain.Wallet, nft chain.NFT) error {
	supply, err := nft.TotalSupply(ctx)
	if err != nil {
		return err
	}
	size := uint64(b.CollectionSize())
	if supply >= size {
		runner.Skip(ctx, stepPremint, "collection fully minted")
		return nil
	}
	return nft.MintTo(ctx, []common.Address{wallet.Address()}, []uint64{size - supply})
}

func (b *Bundle) airdropIfNeeded(ctx context.Context, runner *workflow.Runner, wallet chain.Wallet, nft chain.NFT) error {
	var ids []uint64
	var recipients []common.Address
	for i, descriptor := range b.Manifest.NFTs {
		if descriptor.Owner == "" {
			continue
		}
		ids = append(ids, uint64(i))
		recipients = append(recipients, common.HexToAddress(descriptor.Owner))
	}
	if len(ids) == 0 {
		return nil
	}
	if b.HasPublicMint() {
		runner.Skip(ctx, stepAirdrop, "owners are ignored for collections with a public mint")
		return nil
	}
	done, err := b.ledger.Has(KeyAirdrop)
	if err != nil {
		return err
	}
	if done {
		runner.Skip(ctx, stepAirdrop, "already airdropped")
		return nil
	}
	return runner.Run(ctx, stepAirdrop, func(ctx context.Context) error {
		creator := wallet.Address()
		var pendingIDs []uint64
		var pendingRecipients []common.Address
		for i, id := range ids {
			owner, err := nft.OwnerOf(ctx, id)
			if err != nil {
				return err
			}
			if owner != creator || recipients[i] == creator {
				continue
			}
			pendingIDs = append(pendingIDs, id)
			pendingRecipients = append(pendingRecipients, recipients[i])
		}
		if len(pendingIDs) > 0 {
			if err := nft.SafeTransferFromBatch(ctx, creator, pendingRecipients, pendingIDs); err != nil {
				return err
			}
		}
		return b.ledger.Set(KeyAirdrop, true)
	})
}
