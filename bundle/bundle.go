// Package bundle drives the create-collection workflow: it uploads public
// images, deploys the collection contracts, mints escrow tokens, uploads
// metadata, tokenizes private data and finalises the collection.
//
// Every step consults the campaign's progress ledger before producing an
// external side effect and records the outcome right after, so an
// interrupted Mint resumes where it stopped.
package bundle

import (
	"fmt"
	"log/slog"

	"parcelmint/chain"
	"parcelmint/fileset"
	"parcelmint/manifest"
	"parcelmint/progress"
	"parcelmint/workflow"
)

// Ledger keys.
const (
	KeyResult       = "result"
	KeyRevenueShare = "revenueShareContract"
	KeyNFT          = "nftContract"
	KeyParcelTokens = "parcelTokens"
	KeyTokenDocs    = "tokenDocs"
	KeyAirdrop      = "airdrop"
)

var (
	stepUploadImages   = workflow.Step{Name: "upload-public-images", Failure: "failed to upload public images"}
	stepRevenueShare   = workflow.Step{Name: "deploy-revenue-share", Failure: "failed to create revenue share contract"}
	stepNFT            = workflow.Step{Name: "deploy-nft", Failure: "failed to create NFT contract"}
	stepCreateTokens   = workflow.Step{Name: "create-parcel-tokens", Failure: "failed to create Parcel tokens"}
	stepUploadMetadata = workflow.Step{Name: "upload-metadata", Failure: "failed to upload token metadatas"}
	stepTokenize       = workflow.Step{Name: "tokenize-private-data", Failure: "failed to tokenize private data"}
	stepFinalize       = workflow.Step{Name: "finalize-base-uri", Failure: "failed to set token base uri"}
	stepPremint        = workflow.Step{Name: "premint", Failure: "failed to premint tokens"}
	stepAirdrop        = workflow.Step{Name: "airdrop", Failure: "failed to airdrop tokens"}
)

// Result is the outcome of a completed mint.
type Result struct {
	Address string `json:"address"`
	BaseURI string `json:"baseUri"`
}

type tokenDoc struct {
	ID        string `json:"id,omitempty"`
	Tokenized bool   `json:"tokenized,omitempty"`
}

// Option customises a Bundle.
type Option func(*Bundle)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bundle) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConcurrency bounds fan-out against the escrow service.
func WithConcurrency(limit int) Option {
	return func(b *Bundle) {
		if limit > 0 {
			b.concurrency = limit
		}
	}
}

// Bundle is a validated collection ready to mint.
type Bundle struct {
	Manifest *manifest.Manifest

	files       fileset.Set
	ledger      *progress.Ledger
	logger      *slog.Logger
	concurrency int
}

// Create validates the manifest found in files against the rest of the
// files. Validation problems are returned as manifest.ValidationErrors.
func Create(files fileset.Set, store *progress.Store, opts ...Option) (*Bundle, error) {
	if store == nil {
		return nil, fmt.Errorf("bundle: progress store required")
	}
	file, ok := files.Get(manifest.FileName)
	if !ok {
		return nil, manifest.ValidationErrors{"Missing " + manifest.FileName}
	}
	raw, err := file.ReadAll()
	if err != nil {
		return nil, manifest.ValidationErrors{fmt.Sprintf("Failed to load %s: %v", manifest.FileName, err)}
	}
	m, err := manifest.Validate(raw, files)
	if err != nil {
		return nil, err
	}
	b := &Bundle{
		Manifest:    m,
		files:       files,
		ledger:      store.Namespace(progress.CampaignNamespace(m.Title, m.Symbol)),
		logger:      slog.Default(),
		concurrency: workflow.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// CollectionSize is the number of items in the collection.
func (b *Bundle) CollectionSize() int { return b.Manifest.CollectionSize() }

// HasPublicMint reports whether anyone other than the creator may mint.
func (b *Bundle) HasPublicMint() bool { return b.Manifest.HasPublicMint() }

// TotalRoyaltyPercent is the creator royalty plus the facilitator's royalty
// for collections without a public mint.
func (b *Bundle) TotalRoyaltyPercent() float64 {
	return chain.TotalRoyaltyPercent(b.Manifest.CreatorRoyalty, b.HasPublicMint())
}

// Namespace is the campaign's progress ledger namespace.
func (b *Bundle) Namespace() string { return b.ledger.Namespace() }

// Ledger exposes the campaign's progress ledger.
func (b *Bundle) Ledger() *progress.Ledger { return b.ledger }
