// Package manifest defines the declarative collection manifest and its
// validation rules.
package manifest

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// FileName is the name under which the manifest travels with the collection files.
const FileName = "manifest.json"

// Manifest describes an NFT collection.
type Manifest struct {
	// Title and Symbol identify the collection and namespace its progress ledger.
	Title  string `json:"title"`
	Symbol string `json:"symbol"`

	// InitialBaseURI marks a blind box collection whose metadata URI is not
	// finalised at mint time.
	InitialBaseURI string `json:"initialBaseUri,omitempty"`

	// Minting holds the public sale configuration. When absent the collection
	// has no public mint and is pre-minted to the creator.
	Minting *MintingOptions `json:"minting,omitempty"`

	// CreatorRoyalty is the percentage (0-20) of secondary sales paid to the creator.
	CreatorRoyalty float64 `json:"creatorRoyalty"`

	AllowDuplicates DuplicatePolicy `json:"allowDuplicates,omitempty"`

	NFTs []NFTDescriptor `json:"nfts"`
}

// MintingOptions configures premint and public mint parameters.
type MintingOptions struct {
	// PremintPrice is paid for one token by premint-listed accounts.
	PremintPrice uint64 `json:"premintPrice"`
	// MaxPremintCount is the number of items a premint-listed account may mint.
	MaxPremintCount uint64 `json:"maxPremintCount"`
	// MintPrice is paid for one token by the general public.
	MintPrice uint64 `json:"mintPrice"`
	// MaxMintCount is the maximum number of tokens mintable by one account.
	MaxMintCount uint64 `json:"maxMintCount"`
}

// UnmarshalJSON accepts any integral JSON number that fits in a uint64,
// including forms such as 1.0 or 1e2.
func (o *MintingOptions) UnmarshalJSON(data []byte) error {
	var raw struct {
		PremintPrice    json.Number `json:"premintPrice"`
		MaxPremintCount json.Number `json:"maxPremintCount"`
		MintPrice       json.Number `json:"mintPrice"`
		MaxMintCount    json.Number `json:"maxMintCount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	fields := []struct {
		name string
		num  json.Number
		dst  *uint64
	}{
		{"premintPrice", raw.PremintPrice, &o.PremintPrice},
		{"maxPremintCount", raw.MaxPremintCount, &o.MaxPremintCount},
		{"mintPrice", raw.MintPrice, &o.MintPrice},
		{"maxMintCount", raw.MaxMintCount, &o.MaxMintCount},
	}
	for _, f := range fields {
		v, err := integralUint64(f.num)
		if err != nil {
			return fmt.Errorf("minting.%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

func integralUint64(n json.Number) (uint64, error) {
	if n == "" {
		return 0, nil
	}
	r, ok := new(big.Rat).SetString(n.String())
	if !ok {
		return 0, fmt.Errorf("invalid number %q", n)
	}
	if !r.IsInt() || r.Sign() < 0 || !r.Num().IsUint64() {
		return 0, fmt.Errorf("%s is not a uint64", n)
	}
	return r.Num().Uint64(), nil
}

// NFTDescriptor configures a single collection item. Its position in
// Manifest.NFTs is the token index.
type NFTDescriptor struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	PublicImage string            `json:"publicImage"`
	PrivateData string            `json:"privateData"`
	Attributes  []json.RawMessage `json:"attributes,omitempty"`
	// Owner forces the item to be airdropped to this address.
	Owner string `json:"owner,omitempty"`
}

// DuplicatePolicy relaxes the rule that every referenced file is used once.
type DuplicatePolicy string

const (
	AllowNoDuplicates      DuplicatePolicy = "no"
	AllowPublicDuplicates  DuplicatePolicy = "public"
	AllowPrivateDuplicates DuplicatePolicy = "private"
	AllowAllDuplicates     DuplicatePolicy = "yes"
)

func (p DuplicatePolicy) allowsPublic() bool {
	return p == AllowPublicDuplicates || p == AllowAllDuplicates
}

func (p DuplicatePolicy) allowsPrivate() bool {
	return p == AllowPrivateDuplicates || p == AllowAllDuplicates
}

// CollectionSize is the number of items in the collection.
func (m *Manifest) CollectionSize() int {
	return len(m.NFTs)
}

// HasPublicMint reports whether any account other than the creator may mint.
func (m *Manifest) HasPublicMint() bool {
	if m.Minting == nil {
		return false
	}
	return m.Minting.MaxPremintCount > 0 || m.Minting.MaxMintCount > 0
}

// IsBlindBox reports whether the collection ships with a placeholder base URI.
func (m *Manifest) IsBlindBox() bool {
	return strings.TrimSpace(m.InitialBaseURI) != ""
}

// ValidationErrors aggregates every problem found while validating user input.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return "validation failed: " + v[0]
	}
	return "validation failed: " + strings.Join(v, "; ")
}

// Appending returns a copy of v extended with errs.
func (v ValidationErrors) Appending(errs ...string) ValidationErrors {
	out := make(ValidationErrors, 0, len(v)+len(errs))
	out = append(out, v...)
	return append(out, errs...)
}
