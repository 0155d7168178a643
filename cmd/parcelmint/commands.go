package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"parcelmint/appendle"
	"parcelmint/bundle"
	"parcelmint/download"
	"parcelmint/fileset"
	"parcelmint/manifest"
	"parcelmint/progress"
	"parcelmint/storage"
)

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// reportError prints validation problems one per line and anything else as
// a single error line.
func reportError(stderr io.Writer, err error) int {
	var verrs manifest.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintln(stderr, "Validation failed:")
		for _, msg := range verrs {
			fmt.Fprintf(stderr, "  - %s\n", msg)
		}
		return 1
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: parcelmint validate <dir>")
		return 1
	}
	files, err := fileset.LoadDir(args[0])
	if err != nil {
		return reportError(stderr, err)
	}
	b, err := bundle.Create(files, progress.NewStore(storage.NewMemDB()))
	if err != nil {
		return reportError(stderr, err)
	}
	fmt.Fprintf(stdout, "%s (%s): %d items, public mint: %t, royalty: %.2f%%\n",
		b.Manifest.Title, b.Manifest.Symbol, b.CollectionSize(), b.HasPublicMint(), b.TotalRoyaltyPercent())
	return 0
}

func (a *app) runMint(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: parcelmint mint <dir>")
		return 1
	}
	files, err := fileset.LoadDir(args[0])
	if err != nil {
		return reportError(stderr, err)
	}
	store, err := a.store()
	if err != nil {
		return reportError(stderr, err)
	}
	b, err := bundle.Create(files, store,
		bundle.WithLogger(a.logger),
		bundle.WithConcurrency(a.cfg.Workflow.Concurrency),
	)
	if err != nil {
		return reportError(stderr, err)
	}
	wallet, err := a.wallet(ctx, true)
	if err != nil {
		return reportError(stderr, err)
	}
	svc, err := a.escrow()
	if err != nil {
		return reportError(stderr, err)
	}
	blobs, err := a.blobs()
	if err != nil {
		return reportError(stderr, err)
	}
	result, err := b.Mint(ctx, svc, wallet, blobs)
	if err != nil {
		return reportError(stderr, err)
	}
	printJSON(stdout, result)
	return 0
}

type planOutput struct {
	Create map[uint64][]string `json:"create"`
	Append map[uint64][]string `json:"append"`
	Cost   *float64            `json:"cost,omitempty"`
}

func describePlan(plan *appendle.Plan) planOutput {
	out := planOutput{Create: map[uint64][]string{}, Append: map[uint64][]string{}}
	for index, files := range plan.Create {
		for _, f := range files {
			out.Create[index] = append(out.Create[index], f.Name)
		}
	}
	for index, target := range plan.Append {
		out.Append[index] = []string{}
		for _, f := range target.Files {
			out.Append[index] = append(out.Append[index], f.Name)
		}
	}
	return out
}

func (a *app) runAppend(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 3 {
		fmt.Fprintln(stderr, "Usage: parcelmint append plan|cost|pay|run <nft> <dir>")
		return 1
	}
	stage, contract, dir := args[0], args[1], args[2]
	switch stage {
	case "plan", "cost", "pay", "run":
	default:
		fmt.Fprintf(stderr, "Unknown append stage: %s\n", stage)
		return 1
	}
	if !common.IsHexAddress(contract) {
		fmt.Fprintf(stderr, "Error: %q is not an address\n", contract)
		return 1
	}
	files, err := fileset.LoadDir(dir)
	if err != nil {
		return reportError(stderr, err)
	}
	store, err := a.store()
	if err != nil {
		return reportError(stderr, err)
	}
	wallet, err := a.wallet(ctx, false)
	if err != nil {
		return reportError(stderr, err)
	}
	nft, err := wallet.NFTAt(common.HexToAddress(contract))
	if err != nil {
		return reportError(stderr, err)
	}
	svc, err := a.escrow()
	if err != nil {
		return reportError(stderr, err)
	}

	ap, err := appendle.Create(ctx, wallet, nft, files, store,
		appendle.WithLogger(a.logger),
		appendle.WithConcurrency(a.cfg.Workflow.Concurrency),
	)
	if err != nil {
		return reportError(stderr, err)
	}
	if err := ap.Plan(ctx, svc); err != nil {
		return reportError(stderr, err)
	}
	out := describePlan(ap.Planned())
	if stage != "plan" {
		cost, err := ap.CalculateCost()
		if err != nil {
			return reportError(stderr, err)
		}
		out.Cost = &cost
	}
	if stage == "pay" || stage == "run" {
		if err := ap.RequestPayment(ctx); err != nil {
			return reportError(stderr, err)
		}
	}
	if stage == "run" {
		if err := ap.Append(ctx, svc); err != nil {
			return reportError(stderr, err)
		}
	}
	printJSON(stdout, out)
	return 0
}

func (a *app) runDownload(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) != 4 {
		fmt.Fprintln(stderr, "Usage: parcelmint download <nft> <token index> <escrow token> <out>")
		return 1
	}
	if a.cfg.Chain.BridgeAdapter == "" {
		fmt.Fprintln(stderr, "Error: chain.bridge_adapter must be configured")
		return 1
	}
	if !common.IsHexAddress(args[0]) {
		fmt.Fprintf(stderr, "Error: %q is not an address\n", args[0])
		return 1
	}
	index, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s is not an NFT ID\n", args[1])
		return 1
	}
	wallet, err := a.wallet(ctx, false)
	if err != nil {
		return reportError(stderr, err)
	}
	nft, err := wallet.NFTAt(common.HexToAddress(args[0]))
	if err != nil {
		return reportError(stderr, err)
	}
	adapter, err := wallet.BridgeAdapterAt(common.HexToAddress(a.cfg.Chain.BridgeAdapter))
	if err != nil {
		return reportError(stderr, err)
	}
	svc, err := a.escrow()
	if err != nil {
		return reportError(stderr, err)
	}

	out, err := os.Create(args[3])
	if err != nil {
		return reportError(stderr, err)
	}
	err = download.Run(ctx, svc, wallet, download.Request{
		NFT:           nft,
		Adapter:       adapter,
		TokenIndex:    index,
		EscrowTokenID: args[2],
	}, out,
		download.WithPolling(a.cfg.Download.PollAttempts, a.cfg.Download.PollInterval.Duration),
		download.WithLogger(a.logger),
	)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return reportError(stderr, err)
	}
	fmt.Fprintf(stdout, "wrote %s\n", args[3])
	return 0
}

func (a *app) runLedger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	args = fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: parcelmint ledger list|show <namespace>|reset <namespace>")
		return 1
	}
	store, err := a.store()
	if err != nil {
		return reportError(stderr, err)
	}
	switch args[0] {
	case "list":
		namespaces, err := store.Namespaces()
		if err != nil {
			return reportError(stderr, err)
		}
		sort.Strings(namespaces)
		for _, ns := range namespaces {
			fmt.Fprintln(stdout, ns)
		}
		return 0
	case "show", "reset":
		if len(args) != 2 {
			fmt.Fprintf(stderr, "Usage: parcelmint ledger %s <namespace>\n", args[0])
			return 1
		}
		ledger := store.Namespace(args[1])
		if args[0] == "reset" {
			if err := ledger.Reset(); err != nil {
				return reportError(stderr, err)
			}
			fmt.Fprintf(stdout, "reset %s\n", args[1])
			return 0
		}
		entries, err := ledger.Entries()
		if err != nil {
			return reportError(stderr, err)
		}
		printJSON(stdout, entries)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", args[0])
		return 1
	}
}
