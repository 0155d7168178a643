package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"parcelmint/storage"
)

// secret resolves a value given inline, through an environment variable or
// in a file, in that order of precedence.
func secret(name, inline, env, file string) (string, error) {
	if value := strings.TrimSpace(inline); value != "" {
		return value, nil
	}
	if env = strings.TrimSpace(env); env != "" {
		value := strings.TrimSpace(os.Getenv(env))
		if value == "" {
			return "", fmt.Errorf("%s_env %s is empty", name, env)
		}
		return value, nil
	}
	if file = strings.TrimSpace(file); file != "" {
		contents, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read %s_file: %w", name, err)
		}
		return strings.TrimSpace(string(contents)), nil
	}
	return "", nil
}

func (c *Config) normalise() error {
	var err error
	if c.Chain.PrivateKey, err = secret("private_key", c.Chain.PrivateKey, c.Chain.PrivateKeyEnv, c.Chain.PrivateKeyFile); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if c.Chain.KeystorePassphrase, err = secret("keystore_passphrase", c.Chain.KeystorePassphrase, c.Chain.KeystorePassEnv, ""); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if c.Escrow.AccessToken, err = secret("access_token", c.Escrow.AccessToken, c.Escrow.TokenEnv, c.Escrow.TokenFile); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	if c.Blobstore.APIKey, err = secret("api_key", c.Blobstore.APIKey, c.Blobstore.APIKeyEnv, c.Blobstore.APIKeyFile); err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	c.Chain.Keystore = strings.TrimSpace(c.Chain.Keystore)
	c.Escrow.KeyFile = strings.TrimSpace(c.Escrow.KeyFile)
	c.Ledger.Backend = strings.ToLower(strings.TrimSpace(c.Ledger.Backend))
	return nil
}

// Validate checks settings that every command depends on. Credentials are
// checked lazily by the commands that need them.
func (c *Config) Validate() error {
	if err := validateURL("chain.rpc_url", c.Chain.RPCURL); err != nil {
		return err
	}
	if c.Chain.PrivateKey != "" && c.Chain.Keystore != "" {
		return fmt.Errorf("chain: configure either private_key or keystore, not both")
	}
	if c.Chain.BridgeAdapter != "" && !common.IsHexAddress(c.Chain.BridgeAdapter) {
		return fmt.Errorf("chain.bridge_adapter %q is not an address", c.Chain.BridgeAdapter)
	}
	if err := validateURL("escrow.base_url", c.Escrow.BaseURL); err != nil {
		return err
	}
	if c.Escrow.UsesClientAssertion() {
		if c.Escrow.ClientID == "" || c.Escrow.KeyFile == "" || c.Escrow.TokenURL == "" {
			return fmt.Errorf("escrow: client assertion requires client_id, key_file and token_url")
		}
		if c.Escrow.AccessToken != "" {
			return fmt.Errorf("escrow: configure either access_token or client assertion, not both")
		}
	}
	if err := validateURL("blobstore.endpoint", c.Blobstore.Endpoint); err != nil {
		return err
	}
	switch c.Ledger.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt, storage.BackendSQLite:
	default:
		return fmt.Errorf("ledger.backend %q is not one of memory, leveldb, bolt, sqlite", c.Ledger.Backend)
	}
	if c.Ledger.Backend != storage.BackendMemory && strings.TrimSpace(c.Ledger.Path) == "" {
		return fmt.Errorf("ledger.path must be configured")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0,1]")
	}
	return nil
}

func validateURL(field, raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s %q is not an absolute URL", field, raw)
	}
	return nil
}

// HasSigner reports whether a signing key is configured.
func (c *Config) HasSigner() bool {
	return c.Chain.PrivateKey != "" || c.Chain.Keystore != ""
}
