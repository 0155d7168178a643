// Package escrow talks to the token escrow service that tokenizes private
// collection data and bridges it to the collection's chain.
package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"parcelmint/chain"
)

// OwnerEscrow uploads a document owned by the escrow service itself.
const OwnerEscrow = "escrow"

// ErrNotFound matches API errors with a 404 status.
var ErrNotFound = errors.New("not found")

// Identity is an escrow service account.
type Identity struct {
	ID string `json:"id"`
}

// CreateIdentityParams links a new identity to an Ethereum address.
type CreateIdentityParams struct {
	EthAddress string `json:"ethAddress"`
	Proof      string `json:"proof"`
}

// Token is an escrow token that owns assets and can be bridged.
type Token struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// Grant controls access to a token's assets. A nil condition grants
// unrestricted access to the holder.
type Grant struct {
	Condition json.RawMessage `json:"condition"`
}

// RemoteTransferability binds a token to an NFT on a bridged network.
type RemoteTransferability struct {
	Network chain.Network `json:"network"`
	Address string        `json:"address"`
	TokenID uint64        `json:"tokenId"`
}

// Transferability describes how a token may move.
type Transferability struct {
	Remote *RemoteTransferability `json:"remote,omitempty"`
}

// MintTokenParams describes a token to mint.
type MintTokenParams struct {
	Name            string          `json:"name,omitempty"`
	Grant           Grant           `json:"grant"`
	ConsumesAssets  bool            `json:"consumesAssets"`
	Transferability Transferability `json:"transferability"`
}

// BridgedTokenParams returns mint parameters for an unrestricted token that
// follows NFT tokenID of contract on network.
func BridgedTokenParams(name string, network chain.Network, contract string, tokenID uint64) MintTokenParams {
	return MintTokenParams{
		Name:           name,
		Grant:          Grant{Condition: json.RawMessage("null")},
		ConsumesAssets: true,
		Transferability: Transferability{Remote: &RemoteTransferability{
			Network: network,
			Address: contract,
			TokenID: tokenID,
		}},
	}
}

// Asset is an item held by a token.
type Asset struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AssetTypeDocument marks document assets.
const AssetTypeDocument = "document"

// DocumentDetails is descriptive document metadata.
type DocumentDetails struct {
	Title string `json:"title,omitempty"`
}

// Document is an uploaded blob.
type Document struct {
	ID      string          `json:"id"`
	Owner   string          `json:"owner,omitempty"`
	Details DocumentDetails `json:"details"`
}

// UploadParams configures a document upload.
type UploadParams struct {
	Owner   string          `json:"owner"`
	Details DocumentDetails `json:"details"`
	ToApp   string          `json:"toApp,omitempty"`
}

// Service is the token escrow API used by workflows.
type Service interface {
	GetCurrentIdentity(ctx context.Context) (*Identity, error)
	CreateIdentity(ctx context.Context, params CreateIdentityParams) (*Identity, error)

	MintToken(ctx context.Context, params MintTokenParams) (*Token, error)
	GetToken(ctx context.Context, id string) (*Token, error)
	SearchAssets(ctx context.Context, tokenID string) ([]Asset, error)
	AddAsset(ctx context.Context, tokenID, assetID string) error
	GetTokenBalance(ctx context.Context, identityID, tokenID string) (uint64, error)

	// UploadDocument returns once the upload has finished.
	UploadDocument(ctx context.Context, name string, data io.Reader, params UploadParams) (*Document, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	DownloadDocument(ctx context.Context, id string, w io.Writer) error
}

// APIError is a non-2xx response from the escrow service.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("escrow %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("escrow %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
