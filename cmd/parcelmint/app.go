package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"parcelmint/blobstore"
	"parcelmint/chain"
	"parcelmint/cmd/internal/passphrase"
	"parcelmint/config"
	"parcelmint/escrow"
	"parcelmint/observability/logging"
	telemetry "parcelmint/observability/otel"
	"parcelmint/progress"
	"parcelmint/storage"
)

// app wires configured collaborators. Collaborators are built on first use
// so that commands only need the credentials they actually exercise.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	shutdown telemetry.Shutdown

	dbOnce sync.Once
	db     storage.Database
	dbErr  error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "parcelmint",
		Env:        cfg.Logging.Env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "parcelmint",
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	logger.Debug("configuration loaded",
		slog.String("config", configPath),
		slog.String("ledger_backend", cfg.Ledger.Backend),
		slog.String("private_key", logging.MaskValue(cfg.Chain.PrivateKey)),
		slog.String("escrow_access_token", logging.MaskValue(cfg.Escrow.AccessToken)),
	)
	return &app{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func (a *app) Close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("close ledger", slog.Any("error", err))
		}
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown", slog.Any("error", err))
	}
}

func (a *app) store() (*progress.Store, error) {
	a.dbOnce.Do(func() {
		a.db, a.dbErr = storage.Open(a.cfg.Ledger.Backend, a.cfg.Ledger.Path)
	})
	if a.dbErr != nil {
		return nil, fmt.Errorf("open ledger: %w", a.dbErr)
	}
	return progress.NewStore(a.db), nil
}

// wallet dials the configured chain. Deployment artifacts are loaded only
// when withArtifacts is set.
func (a *app) wallet(ctx context.Context, withArtifacts bool) (*chain.EVMWallet, error) {
	var opts []chain.WalletOption
	opts = append(opts, chain.WithLogger(a.logger))
	if withArtifacts {
		nft, err := chain.LoadArtifact(a.cfg.Chain.NFTArtifact)
		if err != nil {
			return nil, err
		}
		revenueShare, err := chain.LoadArtifact(a.cfg.Chain.RevenueArtifact)
		if err != nil {
			return nil, err
		}
		opts = append(opts, chain.WithArtifacts(nft, revenueShare))
	}
	switch {
	case a.cfg.Chain.PrivateKey != "":
		key, err := chain.ParsePrivateKey(a.cfg.Chain.PrivateKey)
		if err != nil {
			return nil, err
		}
		return chain.Dial(ctx, a.cfg.Chain.RPCURL, key, opts...)
	case a.cfg.Chain.Keystore != "":
		pass, err := passphrase.NewSource(a.cfg.Chain.KeystorePassphrase).Get()
		if err != nil {
			return nil, err
		}
		key, err := chain.LoadKeystore(a.cfg.Chain.Keystore, pass)
		if err != nil {
			return nil, err
		}
		return chain.Dial(ctx, a.cfg.Chain.RPCURL, key, opts...)
	default:
		return nil, fmt.Errorf("chain.private_key or chain.keystore must be configured")
	}
}

func (a *app) escrow() (*escrow.Client, error) {
	httpClient := telemetry.NewHTTPClient(a.cfg.Escrow.Timeout.Duration)
	var tokens escrow.TokenProvider = escrow.StaticToken(a.cfg.Escrow.AccessToken)
	if a.cfg.Escrow.UsesClientAssertion() {
		pemData, err := os.ReadFile(a.cfg.Escrow.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read escrow key_file: %w", err)
		}
		key, err := escrow.ParseClientKey(pemData)
		if err != nil {
			return nil, err
		}
		provider, err := escrow.NewClientAssertionProvider(escrow.ClientAssertionConfig{
			ClientID: a.cfg.Escrow.ClientID,
			KeyID:    a.cfg.Escrow.KeyID,
			TokenURL: a.cfg.Escrow.TokenURL,
			Audience: a.cfg.Escrow.Audience,
			Scopes:   a.cfg.Escrow.Scopes,
			Key:      key,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		tokens = provider
	}
	return escrow.NewClient(a.cfg.Escrow.BaseURL, tokens,
		escrow.WithHTTPClient(httpClient),
		escrow.WithRateLimit(a.cfg.Escrow.RateLimit, a.cfg.Escrow.Burst),
		escrow.WithClientLogger(a.logger),
	)
}

func (a *app) blobs() (blobstore.Store, error) {
	store, err := blobstore.NewNFTStorage(a.cfg.Blobstore.Endpoint, a.cfg.Blobstore.APIKey)
	if err != nil {
		return nil, err
	}
	return store, nil
}
