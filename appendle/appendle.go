// Package appendle adds private files to the tokens of an existing
// collection. Files are laid out as <root>/<token index>/<file name>; the
// workflow plans which on-chain tokens need a new escrow token and which
// only need new assets, collects payment and then uploads.
package appendle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"

	"parcelmint/chain"
	"parcelmint/fileset"
	"parcelmint/manifest"
	"parcelmint/progress"
	"parcelmint/workflow"
)

var (
	// ErrNotPlanned is returned by operations that need Plan to have run.
	ErrNotPlanned = errors.New("not yet planned")
	// ErrNotPaid is returned by Append before RequestPayment succeeded.
	ErrNotPaid = errors.New("not yet paid")
)

// State is the position of an Appendle in its lifecycle.
type State int

const (
	StateCreated State = iota
	StatePlanned
	StatePaid
	StateAppended
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StatePlanned:
		return "planned"
	case StatePaid:
		return "paid"
	case StateAppended:
		return "appended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option customises an Appendle.
type Option func(*Appendle)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Appendle) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithConcurrency bounds fan-out against the escrow service and the chain.
func WithConcurrency(limit int) Option {
	return func(a *Appendle) {
		if limit > 0 {
			a.concurrency = limit
		}
	}
}

// Appendle is a validated append request against one NFT contract.
type Appendle struct {
	signer  chain.Signer
	nft     chain.NFT
	network chain.Network
	files   map[uint64][]*fileset.File

	ledger      *progress.Ledger
	logger      *slog.Logger
	concurrency int

	state State
	plan  *Plan
}

// Create checks the signer's network, verifies that nft implements the
// bridgeable NFT interface and parses the file layout. Every problem found is returned
// together as manifest.ValidationErrors.
func Create(ctx context.Context, signer chain.Signer, nft chain.NFT, files fileset.Set, store *progress.Store, opts ...Option) (*Appendle, error) {
	if store == nil {
		return nil, fmt.Errorf("appendle: progress store required")
	}
	var errs manifest.ValidationErrors

	chainID, err := signer.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	network, err := chain.NetworkForChainID(chainID)
	if err != nil {
		errs = append(errs, err.Error())
	}

	contract := nft.Address().Hex()
	supported, err := nft.SupportsInterface(ctx, chain.ParcelNFTInterfaceID)
	switch {
	case err != nil:
		errs = append(errs, fmt.Sprintf("contract at %s could not be determined to be an IFutureParcelNFT", contract))
	case !supported:
		errs = append(errs, fmt.Sprintf("contract at %s does not implement IFutureParcelNFT", contract))
	}

	byIndex, layoutErrs := groupByTokenIndex(files)
	errs = append(errs, layoutErrs...)
	if len(errs) > 0 {
		return nil, errs
	}

	a := &Appendle{
		signer:      signer,
		nft:         nft,
		network:     network,
		files:       byIndex,
		ledger:      store.Namespace(progress.AppendNamespace(string(network), contract)),
		logger:      slog.Default(),
		concurrency: workflow.DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// groupByTokenIndex expects every path to be <root>/<token index>/<name>.
// Hidden files are ignored.
func groupByTokenIndex(files fileset.Set) (map[uint64][]*fileset.File, []string) {
	out := make(map[uint64][]*fileset.File)
	var errs []string
	for _, file := range files {
		if fileset.IsHidden(file.Path) {
			continue
		}
		segments := strings.Split(file.Path, "/")
		if len(segments) != 3 || segments[2] == "" {
			errs = append(errs, "unexpected file: "+file.Path)
			continue
		}
		index, err := strconv.ParseUint(segments[1], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s in %s is not an NFT ID", segments[1], file.Path))
			continue
		}
		out[index] = append(out[index], file)
	}
	return out, errs
}

// State reports the lifecycle position.
func (a *Appendle) State() State { return a.state }

// Network is the escrow network of the target contract.
func (a *Appendle) Network() chain.Network { return a.network }

// Contract is the target NFT contract address.
func (a *Appendle) Contract() string { return a.nft.Address().Hex() }

// Namespace is the progress ledger namespace of this contract.
func (a *Appendle) Namespace() string { return a.ledger.Namespace() }

// Ledger exposes the progress ledger.
func (a *Appendle) Ledger() *progress.Ledger { return a.ledger }

// TokenIndices lists the on-chain token indices present in the file set.
func (a *Appendle) TokenIndices() []uint64 {
	return slices.Sorted(maps.Keys(a.files))
}

// Planned returns the plan built by Plan, or nil before planning.
func (a *Appendle) Planned() *Plan { return a.plan }

func (a *Appendle) requireState(min State) error {
	if a.state >= min {
		return nil
	}
	if a.state < StatePlanned {
		return ErrNotPlanned
	}
	return ErrNotPaid
}
