package appendle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/holiman/uint256"

	"parcelmint/chain"
	"parcelmint/escrow"
	"parcelmint/fileset"
	"parcelmint/workflow"
)

var (
	stepCreateTokens = workflow.Step{Name: "create-parcel-tokens", Failure: "failed to create Parcel tokens"}
	stepLinkTokens   = workflow.Step{Name: "link-parcel-tokens", Failure: "failed to set Parcel tokens on NFT contract"}
	stepAddFiles     = workflow.Step{Name: "add-files", Failure: "failed to add files to Parcel tokens"}
)

func tokenKey(index uint64) string  { return fmt.Sprintf("token-%d", index) }
func linkedKey(index uint64) string { return fmt.Sprintf("linked-%d", index) }

func docKey(index uint64, file *fileset.File) string {
	return fmt.Sprintf("doc-id-%d-%s", index, file.Name)
}

func tokenizedKey(index uint64, file *fileset.File) string {
	return fmt.Sprintf("tokenized-%d-%s", index, file.Name)
}

type pendingFile struct {
	index   uint64
	tokenID string
	file    *fileset.File
}

// Append creates the missing escrow tokens, links them on chain and adds
// every planned file to its token. Each external effect is recorded in the
// ledger so a failed Append can simply be called again.
func (a *Appendle) Append(ctx context.Context, svc escrow.Service) error {
	if err := a.requireState(StatePaid); err != nil {
		return fmt.Errorf("append: %w", err)
	}
	if a.state >= StateAppended {
		return nil
	}
	runner := workflow.NewRunner("append", a.Namespace(), a.logger)
	creates := a.plan.CreateIndices()

	var created []string
	if err := runner.Run(ctx, stepCreateTokens, func(ctx context.Context) error {
		var err error
		created, err = workflow.Gather(ctx, a.concurrency, len(creates), func(ctx context.Context, i int) (string, error) {
			return a.createToken(ctx, svc, creates[i])
		})
		return err
	}); err != nil {
		return err
	}

	if err := runner.Run(ctx, stepLinkTokens, func(ctx context.Context) error {
		return a.linkTokens(ctx, runner, creates, created)
	}); err != nil {
		return err
	}

	var pending []pendingFile
	for i, index := range creates {
		for _, file := range a.plan.Create[index] {
			pending = append(pending, pendingFile{index: index, tokenID: created[i], file: file})
		}
	}
	for _, index := range a.plan.AppendIndices() {
		target := a.plan.Append[index]
		for _, file := range target.Files {
			pending = append(pending, pendingFile{index: index, tokenID: target.Token.ID, file: file})
		}
	}
	if err := runner.Run(ctx, stepAddFiles, func(ctx context.Context) error {
		return workflow.GatherEach(ctx, a.concurrency, len(pending), func(ctx context.Context, i int) error {
			return a.addFile(ctx, svc, pending[i])
		})
	}); err != nil {
		return err
	}

	a.state = StateAppended
	runner.Logger().Info("append completed", slog.Int("tokens_created", len(creates)), slog.Int("files", len(pending)))
	return nil
}

func (a *Appendle) createToken(ctx context.Context, svc escrow.Service, index uint64) (string, error) {
	var tokenID string
	ok, err := a.ledger.Get(tokenKey(index), &tokenID)
	if err != nil {
		return "", err
	}
	if ok {
		return tokenID, nil
	}
	token, err := svc.MintToken(ctx, escrow.BridgedTokenParams("", a.network, a.Contract(), index))
	if err != nil {
		return "", fmt.Errorf("failed to create Parcel token for NFT ID %d: %w", index, err)
	}
	if err := a.ledger.Set(tokenKey(index), token.ID); err != nil {
		return "", err
	}
	return token.ID, nil
}

// linkTokens registers new escrow tokens with the NFT contract in a single
// transaction, ordered by token index.
func (a *Appendle) linkTokens(ctx context.Context, runner *workflow.Runner, indices []uint64, tokenIDs []string) error {
	var ids []uint64
	var encoded []*uint256.Int
	for i, index := range indices {
		linked, err := a.ledger.Has(linkedKey(index))
		if err != nil {
			return err
		}
		if linked {
			continue
		}
		value, err := chain.EncodeTokenID(tokenIDs[i])
		if err != nil {
			return err
		}
		ids = append(ids, index)
		encoded = append(encoded, value)
	}
	if len(ids) == 0 {
		runner.Skip(ctx, stepLinkTokens, "no unlinked tokens")
		return nil
	}
	if err := a.nft.SetParcelTokens(ctx, ids, encoded); err != nil {
		return err
	}
	for _, index := range ids {
		if err := a.ledger.Set(linkedKey(index), true); err != nil {
			return err
		}
	}
	return nil
}

func (a *Appendle) addFile(ctx context.Context, svc escrow.Service, p pendingFile) error {
	done, err := a.ledger.Has(tokenizedKey(p.index, p.file))
	if err != nil || done {
		return err
	}
	docID, err := a.uploadOnce(ctx, svc, p)
	if err != nil {
		return fmt.Errorf("failed to add %s to Parcel token %s: %w", p.file.Name, p.tokenID, err)
	}
	if err := svc.AddAsset(ctx, p.tokenID, docID); err != nil {
		return fmt.Errorf("failed to add %s to Parcel token %s: %w", p.file.Name, p.tokenID, err)
	}
	return a.ledger.Set(tokenizedKey(p.index, p.file), true)
}

func (a *Appendle) uploadOnce(ctx context.Context, svc escrow.Service, p pendingFile) (string, error) {
	var docID string
	ok, err := a.ledger.Get(docKey(p.index, p.file), &docID)
	if err != nil || ok {
		return docID, err
	}
	rc, err := p.file.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	doc, err := svc.UploadDocument(ctx, p.file.Name, rc, escrow.UploadParams{
		Owner:   escrow.OwnerEscrow,
		Details: escrow.DocumentDetails{Title: p.file.Name},
	})
	if err != nil {
		return "", err
	}
	if err := a.ledger.Set(docKey(p.index, p.file), doc.ID); err != nil {
		return "", err
	}
	return doc.ID, nil
}
