package appendle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"parcelmint/chain"
	"parcelmint/escrow"
	"parcelmint/fileset"
	"parcelmint/workflow"
)

var stepPlan = workflow.Step{Name: "plan", Failure: "failed to plan append"}

// Target is an on-chain token whose escrow token already exists.
type Target struct {
	Token *escrow.Token
	Files []*fileset.File
}

// Plan splits the requested files by what has to happen on the escrow side.
type Plan struct {
	// Create holds token indices without an escrow token.
	Create map[uint64][]*fileset.File
	// Append holds every token index with an escrow token. Files is
	// restricted to what the token does not hold yet and is empty when the
	// token is already complete.
	Append map[uint64]*Target
}

// CreateIndices returns the keys of Create in ascending order.
func (p *Plan) CreateIndices() []uint64 { return slices.Sorted(maps.Keys(p.Create)) }

// AppendIndices returns the keys of Append in ascending order.
func (p *Plan) AppendIndices() []uint64 { return slices.Sorted(maps.Keys(p.Append)) }

// Files calls fn for every planned file, ordered by token index.
func (p *Plan) Files(fn func(index uint64, file *fileset.File)) {
	for _, index := range p.CreateIndices() {
		for _, file := range p.Create[index] {
			fn(index, file)
		}
	}
	for _, index := range p.AppendIndices() {
		for _, file := range p.Append[index].Files {
			fn(index, file)
		}
	}
}

// Len counts the planned files.
func (p *Plan) Len() int {
	n := 0
	p.Files(func(uint64, *fileset.File) { n++ })
	return n
}

type indexPlan struct {
	token *escrow.Token
	files []*fileset.File
}

// Plan resolves every token index to either a new escrow token or the
// existing one. Calling it again after it succeeded does nothing.
func (a *Appendle) Plan(ctx context.Context, svc escrow.Service) error {
	if a.state >= StatePlanned {
		return nil
	}
	runner := workflow.NewRunner("append", a.Namespace(), a.logger)
	indices := a.TokenIndices()

	var resolved []indexPlan
	err := runner.Run(ctx, stepPlan, func(ctx context.Context) error {
		var err error
		resolved, err = workflow.Gather(ctx, a.concurrency, len(indices), func(ctx context.Context, i int) (indexPlan, error) {
			return a.planIndex(ctx, svc, indices[i])
		})
		return err
	})
	if err != nil {
		return err
	}

	plan := &Plan{
		Create: make(map[uint64][]*fileset.File),
		Append: make(map[uint64]*Target),
	}
	for i, index := range indices {
		entry := resolved[i]
		if entry.token == nil {
			plan.Create[index] = entry.files
			continue
		}
		plan.Append[index] = &Target{Token: entry.token, Files: entry.files}
	}
	a.plan = plan
	a.state = StatePlanned
	runner.Logger().Info("append planned",
		slog.Int("create", len(plan.Create)),
		slog.Int("append", len(plan.Append)),
		slog.Int("files", plan.Len()),
	)
	return nil
}

func (a *Appendle) planIndex(ctx context.Context, svc escrow.Service, index uint64) (indexPlan, error) {
	files := a.files[index]
	encoded, err := a.nft.GetParcelToken(ctx, index)
	if err != nil {
		return indexPlan{}, fmt.Errorf("failed to fetch existing Parcel token mapping: %w", err)
	}
	tokenID, mapped := chain.DecodeTokenID(encoded)
	if !mapped {
		return indexPlan{files: files}, nil
	}

	token, err := svc.GetToken(ctx, tokenID)
	if err != nil {
		return indexPlan{}, fmt.Errorf("failed to fetch Parcel token %s: %w", tokenID, err)
	}
	existing, err := assetTitles(ctx, svc, tokenID)
	if err != nil {
		return indexPlan{}, fmt.Errorf("failed to fetch assets for Parcel token %s: %w", tokenID, err)
	}
	var missing []*fileset.File
	for _, file := range files {
		if _, ok := existing[file.Name]; !ok {
			missing = append(missing, file)
		}
	}
	return indexPlan{token: token, files: missing}, nil
}

func assetTitles(ctx context.Context, svc escrow.Service, tokenID string) (map[string]struct{}, error) {
	assets, err := svc.SearchAssets(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]struct{}, len(assets))
	for _, asset := range assets {
		if asset.Type != escrow.AssetTypeDocument {
			continue
		}
		doc, err := svc.GetDocument(ctx, asset.ID)
		if err != nil {
			return nil, err
		}
		titles[doc.Details.Title] = struct{}{}
	}
	return titles, nil
}
