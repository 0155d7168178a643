// Package download retrieves the private data behind a collection token.
// The NFT is locked into the bridge adapter so the escrow side grants its
// holder access, the document is streamed out and the NFT is returned.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"parcelmint/chain"
	"parcelmint/escrow"
	"parcelmint/workflow"
)

// ErrBridgeTimeout is returned when the escrow side does not observe the
// locked NFT within the polling budget.
var ErrBridgeTimeout = errors.New("timed out")

// ErrNoAssets is returned for tokens that hold nothing to download.
var ErrNoAssets = errors.New("there are no assets")

const (
	DefaultPollAttempts = 15
	DefaultPollInterval = time.Second
)

var (
	stepLock     = workflow.Step{Name: "lock", Failure: "failed to lock token into Parcel bridge adapter"}
	stepIdentity = workflow.Step{Name: "identity", Failure: "failed to obtain Parcel identity"}
	stepToken    = workflow.Step{Name: "fetch-token", Failure: "failed to fetch Parcel token"}
	stepAssets   = workflow.Step{Name: "fetch-assets", Failure: "failed to fetch Parcel token assets"}
	stepBridge   = workflow.Step{Name: "wait-bridge", Failure: "failed to wait for token to be bridged"}
	stepDownload = workflow.Step{Name: "download", Failure: "failed to download private asset"}
	stepUnlock   = workflow.Step{Name: "unlock", Failure: "failed to unlock token from Parcel bridge adapter"}
)

// Request identifies the token to download.
type Request struct {
	NFT        chain.NFT
	Adapter    chain.BridgeAdapter
	TokenIndex uint64
	// EscrowTokenID is the escrow token bridged to TokenIndex.
	EscrowTokenID string
}

type options struct {
	attempts int
	interval time.Duration
	logger   *slog.Logger
}

// Option customises Run.
type Option func(*options)

// WithPolling overrides how often and how long the bridge is polled.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if interval > 0 {
			o.interval = interval
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Run downloads the first document of the request's escrow token into w.
func Run(ctx context.Context, svc escrow.Service, signer chain.Signer, req Request, w io.Writer, opts ...Option) error {
	o := options{attempts: DefaultPollAttempts, interval: DefaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	campaign := fmt.Sprintf("%s/%d", req.NFT.Address().Hex(), req.TokenIndex)
	runner := workflow.NewRunner("download", campaign, o.logger)
	log := runner.Logger()
	holder := signer.Address()
	adapter := req.Adapter.Address()

	if err := runner.Run(ctx, stepLock, func(ctx context.Context) error {
		owner, err := req.NFT.OwnerOf(ctx, req.TokenIndex)
		if err != nil {
			return err
		}
		if owner == adapter {
			runner.Skip(ctx, stepLock, "already held by the bridge adapter")
			return nil
		}
		return req.NFT.SafeTransferFrom(ctx, holder, adapter, req.TokenIndex)
	}); err != nil {
		return err
	}

	unlock := func(ctx context.Context) error {
		return runner.Run(ctx, stepUnlock, func(ctx context.Context) error {
			return req.Adapter.UnlockERC721(ctx, holder, req.NFT.Address(), req.TokenIndex)
		})
	}

	var identity *escrow.Identity
	if err := runner.Run(ctx, stepIdentity, func(ctx context.Context) error {
		var err error
		identity, err = escrow.GetOrCreateIdentity(ctx, svc, signer)
		return err
	}); err != nil {
		return err
	}

	var token *escrow.Token
	if err := runner.Run(ctx, stepToken, func(ctx context.Context) error {
		var err error
		token, err = svc.GetToken(ctx, req.EscrowTokenID)
		return err
	}); err != nil {
		return err
	}

	var asset escrow.Asset
	if err := runner.Run(ctx, stepAssets, func(ctx context.Context) error {
		assets, err := svc.SearchAssets(ctx, token.ID)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			if err := unlock(ctx); err != nil {
				return err
			}
			return ErrNoAssets
		}
		if len(assets) > 1 {
			log.Warn("token has more than one asset, downloading the first", slog.Int("assets", len(assets)))
		}
		asset = assets[0]
		return nil
	}); err != nil {
		return err
	}

	if err := runner.Run(ctx, stepBridge, func(ctx context.Context) error {
		return waitForBalance(ctx, svc, identity.ID, token.ID, o.attempts, o.interval)
	}); err != nil {
		return err
	}

	if err := runner.Run(ctx, stepDownload, func(ctx context.Context) error {
		return svc.DownloadDocument(ctx, asset.ID, w)
	}); err != nil {
		return err
	}
	return unlock(ctx)
}

func waitForBalance(ctx context.Context, svc escrow.Service, identityID, tokenID string, attempts int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		balance, err := svc.GetTokenBalance(ctx, identityID, tokenID)
		if err != nil {
			return err
		}
		if balance > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return ErrBridgeTimeout
}
