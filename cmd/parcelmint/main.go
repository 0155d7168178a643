package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

const defaultConfigPath = "parcelmint.toml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("parcelmint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", envOr("PARCELMINT_CONFIG", defaultConfigPath), "path to the TOML or YAML configuration")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	args = fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	// validate works without any configuration.
	if args[0] == "validate" {
		return runValidate(args[1:], stdout, stderr)
	}

	a, err := newApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	switch args[0] {
	case "mint":
		return a.runMint(ctx, args[1:], stdout, stderr)
	case "append":
		return a.runAppend(ctx, args[1:], stdout, stderr)
	case "download":
		return a.runDownload(ctx, args[1:], stdout, stderr)
	case "ledger":
		return a.runLedger(args[1:], stdout, stderr)
	case "serve":
		return a.runServe(ctx, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return `Usage: parcelmint [-config path] <command>

Commands:
  validate <dir>                                  validate a collection directory
  mint <dir>                                      mint the collection in <dir>
  append plan|cost|pay|run <nft> <dir>            add files laid out as <dir>/<token index>/<file>
  download <nft> <token index> <escrow token> <out>
                                                  download a token's private data
  ledger list|show <namespace>|reset <namespace>  inspect or clear workflow progress
  serve                                           run the status and metrics server`
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
