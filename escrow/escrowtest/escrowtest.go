// Package escrowtest provides an in-memory escrow.Service with call counters
// and failure injection.
package escrowtest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"parcelmint/escrow"
)

// Service is an in-memory escrow.Service. Zero value is not usable; call New.
type Service struct {
	mu sync.Mutex

	identity  *escrow.Identity
	tokens    map[string]*escrow.Token
	mintSpecs map[string]escrow.MintTokenParams
	assets    map[string][]escrow.Asset
	documents map[string]*escrow.Document
	contents  map[string][]byte
	balances  map[string]uint64
	nextID    int

	// MintErr, when non-nil, is consulted before minting each token.
	MintErr func(params escrow.MintTokenParams) error
	// UploadErr, when non-nil, is consulted before each upload.
	UploadErr func(name string) error
	// AddAssetErr, when non-nil, is consulted before each AddAsset.
	AddAssetErr func(tokenID, assetID string) error
	// BalanceAfter makes GetTokenBalance report 0 until it has been polled this many times.
	BalanceAfter int

	MintCalls           int
	GetTokenCalls       int
	UploadCalls         int
	AddAssetCalls       int
	CreateIdentityCalls int
	BalanceCalls        int
	DownloadCalls       int
}

var _ escrow.Service = (*Service)(nil)

// New returns an empty service without a current identity.
func New() *Service {
	return &Service{
		tokens:    make(map[string]*escrow.Token),
		mintSpecs: make(map[string]escrow.MintTokenParams),
		assets:    make(map[string][]escrow.Asset),
		documents: make(map[string]*escrow.Document),
		contents:  make(map[string][]byte),
		balances:  make(map[string]uint64),
	}
}

func (s *Service) id(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s%06d", prefix, s.nextID)
}

// SetIdentity installs the current identity.
func (s *Service) SetIdentity(identity *escrow.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

// AddToken installs an existing token.
func (s *Service) AddToken(token escrow.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := token
	s.tokens[token.ID] = &copied
}

// AddDocumentAsset installs a document titled title as an asset of tokenID.
func (s *Service) AddDocumentAsset(tokenID, title string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID := s.id("D")
	s.documents[docID] = &escrow.Document{ID: docID, Owner: escrow.OwnerEscrow, Details: escrow.DocumentDetails{Title: title}}
	s.contents[docID] = append([]byte(nil), content...)
	s.assets[tokenID] = append(s.assets[tokenID], escrow.Asset{ID: docID, Type: escrow.AssetTypeDocument})
	return docID
}

// Assets returns the assets attached to tokenID.
func (s *Service) Assets(tokenID string) []escrow.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]escrow.Asset(nil), s.assets[tokenID]...)
}

// MintSpec returns the parameters tokenID was minted with.
func (s *Service) MintSpec(tokenID string) (escrow.MintTokenParams, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	params, ok := s.mintSpecs[tokenID]
	return params, ok
}

// Document returns an uploaded document and its content.
func (s *Service) Document(id string) (*escrow.Document, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil, false
	}
	return doc, s.contents[id], true
}

// Tokens lists all tokens.
func (s *Service) Tokens() []escrow.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]escrow.Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		out = append(out, *token)
	}
	return out
}

func notFound(op string) error {
	return &escrow.APIError{Op: op, StatusCode: http.StatusNotFound, Message: "not found"}
}

func (s *Service) GetCurrentIdentity(context.Context) (*escrow.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, notFound("get-identity")
	}
	copied := *s.identity
	return &copied, nil
}

func (s *Service) CreateIdentity(_ context.Context, params escrow.CreateIdentityParams) (*escrow.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateIdentityCalls++
	if params.EthAddress == "" || params.Proof == "" {
		return nil, &escrow.APIError{Op: "create-identity", StatusCode: http.StatusBadRequest, Message: "missing proof"}
	}
	s.identity = &escrow.Identity{ID: s.id("I")}
	copied := *s.identity
	return &copied, nil
}

func (s *Service) MintToken(_ context.Context, params escrow.MintTokenParams) (*escrow.Token, error) {
	s.mu.Lock()
	s.MintCalls++
	hook := s.MintErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(params); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	token := &escrow.Token{ID: s.id("T"), Name: params.Name}
	s.tokens[token.ID] = token
	s.mintSpecs[token.ID] = params
	copied := *token
	return &copied, nil
}

func (s *Service) GetToken(_ context.Context, id string) (*escrow.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetTokenCalls++
	token, ok := s.tokens[id]
	if !ok {
		return nil, notFound("get-token")
	}
	copied := *token
	return &copied, nil
}

func (s *Service) SearchAssets(_ context.Context, tokenID string) ([]escrow.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tokenID]; !ok {
		return nil, notFound("search-assets")
	}
	return append([]escrow.Asset(nil), s.assets[tokenID]...), nil
}

func (s *Service) AddAsset(_ context.Context, tokenID, assetID string) error {
	s.mu.Lock()
	s.AddAssetCalls++
	hook := s.AddAssetErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(tokenID, assetID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[tokenID]; !ok {
		return notFound("add-asset")
	}
	if _, ok := s.documents[assetID]; !ok {
		return notFound("add-asset")
	}
	s.assets[tokenID] = append(s.assets[tokenID], escrow.Asset{ID: assetID, Type: escrow.AssetTypeDocument})
	return nil
}

// SetBalance sets the balance of tokenID held by identityID.
func (s *Service) SetBalance(identityID, tokenID string, balance uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[identityID+"/"+tokenID] = balance
}

func (s *Service) GetTokenBalance(_ context.Context, identityID, tokenID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BalanceCalls++
	if s.BalanceCalls <= s.BalanceAfter {
		return 0, nil
	}
	return s.balances[identityID+"/"+tokenID], nil
}

func (s *Service) UploadDocument(_ context.Context, name string, data io.Reader, params escrow.UploadParams) (*escrow.Document, error) {
	s.mu.Lock()
	s.UploadCalls++
	hook := s.UploadErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(name); err != nil {
			return nil, err
		}
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := &escrow.Document{ID: s.id("D"), Owner: params.Owner, Details: params.Details}
	s.documents[doc.ID] = doc
	s.contents[doc.ID] = content
	copied := *doc
	return &copied, nil
}

func (s *Service) GetDocument(_ context.Context, id string) (*escrow.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, notFound("get-document")
	}
	copied := *doc
	return &copied, nil
}

func (s *Service) DownloadDocument(_ context.Context, id string, w io.Writer) error {
	s.mu.Lock()
	s.DownloadCalls++
	content, ok := s.contents[id]
	s.mu.Unlock()
	if !ok {
		return notFound("download-document")
	}
	_, err := io.Copy(w, bytes.NewReader(content))
	return err
}
