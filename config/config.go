// Package config loads the parcelmint CLI configuration from TOML or YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support human readable TOML and YAML values.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.parse(value.Value)
}

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config is the runtime configuration of the parcelmint CLI.
type Config struct {
	Chain     ChainConfig     `toml:"chain" yaml:"chain"`
	Escrow    EscrowConfig    `toml:"escrow" yaml:"escrow"`
	Blobstore BlobstoreConfig `toml:"blobstore" yaml:"blobstore"`
	Ledger    LedgerConfig    `toml:"ledger" yaml:"ledger"`
	Workflow  WorkflowConfig  `toml:"workflow" yaml:"workflow"`
	Download  DownloadConfig  `toml:"download" yaml:"download"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
}

// ChainConfig selects the EVM endpoint and the signing key. The key may be
// given inline, from a file, from an environment variable or as a keystore.
type ChainConfig struct {
	RPCURL             string `toml:"rpc_url" yaml:"rpc_url"`
	PrivateKey         string `toml:"private_key" yaml:"private_key"`
	PrivateKeyFile     string `toml:"private_key_file" yaml:"private_key_file"`
	PrivateKeyEnv      string `toml:"private_key_env" yaml:"private_key_env"`
	Keystore           string `toml:"keystore" yaml:"keystore"`
	KeystorePassphrase string `toml:"keystore_passphrase" yaml:"keystore_passphrase"`
	KeystorePassEnv    string `toml:"keystore_passphrase_env" yaml:"keystore_passphrase_env"`
	NFTArtifact        string `toml:"nft_artifact" yaml:"nft_artifact"`
	RevenueArtifact    string `toml:"revenue_share_artifact" yaml:"revenue_share_artifact"`
	BridgeAdapter      string `toml:"bridge_adapter" yaml:"bridge_adapter"`
}

// EscrowConfig configures the escrow REST client. Either a static access
// token or client assertion credentials must be supplied.
type EscrowConfig struct {
	BaseURL     string   `toml:"base_url" yaml:"base_url"`
	AccessToken string   `toml:"access_token" yaml:"access_token"`
	TokenFile   string   `toml:"access_token_file" yaml:"access_token_file"`
	TokenEnv    string   `toml:"access_token_env" yaml:"access_token_env"`
	ClientID    string   `toml:"client_id" yaml:"client_id"`
	KeyID       string   `toml:"key_id" yaml:"key_id"`
	KeyFile     string   `toml:"key_file" yaml:"key_file"`
	TokenURL    string   `toml:"token_url" yaml:"token_url"`
	Audience    string   `toml:"audience" yaml:"audience"`
	Scopes      []string `toml:"scopes" yaml:"scopes"`
	RateLimit   float64  `toml:"rate_limit" yaml:"rate_limit"`
	Burst       int      `toml:"burst" yaml:"burst"`
	// Timeout bounds the wait for response headers. Bodies are bounded by
	// the caller context so document downloads can stream.
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// UsesClientAssertion reports whether client assertion credentials are set.
func (e EscrowConfig) UsesClientAssertion() bool {
	return e.ClientID != "" || e.KeyFile != ""
}

// BlobstoreConfig configures the content addressed store.
type BlobstoreConfig struct {
	Endpoint   string `toml:"endpoint" yaml:"endpoint"`
	APIKey     string `toml:"api_key" yaml:"api_key"`
	APIKeyFile string `toml:"api_key_file" yaml:"api_key_file"`
	APIKeyEnv  string `toml:"api_key_env" yaml:"api_key_env"`
}

// LedgerConfig selects the progress ledger backend.
type LedgerConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
}

// WorkflowConfig tunes the orchestrators.
type WorkflowConfig struct {
	Concurrency int `toml:"concurrency" yaml:"concurrency"`
}

// DownloadConfig bounds the wait for a token to cross the bridge.
type DownloadConfig struct {
	PollAttempts int      `toml:"poll_attempts" yaml:"poll_attempts"`
	PollInterval Duration `toml:"poll_interval" yaml:"poll_interval"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Env        string `toml:"env" yaml:"env"`
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// TelemetryConfig mirrors otel.Config.
type TelemetryConfig struct {
	Endpoint    string            `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool              `toml:"insecure" yaml:"insecure"`
	Headers     map[string]string `toml:"headers,omitempty" yaml:"headers,omitempty"`
	Traces      bool              `toml:"traces" yaml:"traces"`
	Metrics     bool              `toml:"metrics" yaml:"metrics"`
	SampleRatio float64           `toml:"sample_ratio" yaml:"sample_ratio"`
}

// ServerConfig configures `parcelmint serve`.
type ServerConfig struct {
	ListenAddress string `toml:"listen" yaml:"listen"`
}

// Load reads the configuration at path, decoding .yaml and .yml files with
// yaml.v3 and anything else as TOML. A missing file is created with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if err := decode(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.normalise(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}
	return nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Chain.RPCURL == "" {
		cfg.Chain.RPCURL = "https://testnet.emerald.oasis.dev"
	}
	if cfg.Chain.NFTArtifact == "" {
		cfg.Chain.NFTArtifact = "artifacts/NFT.json"
	}
	if cfg.Chain.RevenueArtifact == "" {
		cfg.Chain.RevenueArtifact = "artifacts/RevenueShare.json"
	}
	if cfg.Escrow.BaseURL == "" {
		cfg.Escrow.BaseURL = "https://api.oasislabs.com/parcel/v1"
	}
	if cfg.Escrow.RateLimit <= 0 {
		cfg.Escrow.RateLimit = 10
	}
	if cfg.Escrow.Burst <= 0 {
		cfg.Escrow.Burst = 20
	}
	if cfg.Escrow.Timeout.Duration == 0 {
		cfg.Escrow.Timeout.Duration = 30 * time.Second
	}
	if cfg.Blobstore.Endpoint == "" {
		cfg.Blobstore.Endpoint = "https://api.nft.storage"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "leveldb"
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./parcelmint-data/ledger"
	}
	if cfg.Workflow.Concurrency <= 0 {
		cfg.Workflow.Concurrency = 8
	}
	if cfg.Download.PollAttempts <= 0 {
		cfg.Download.PollAttempts = 15
	}
	if cfg.Download.PollInterval.Duration == 0 {
		cfg.Download.PollInterval.Duration = time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = ":7090"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	default:
		return toml.NewEncoder(f).Encode(cfg)
	}
}
