package escrow

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// TokenProvider supplies bearer tokens for API requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-issued access token.
type StaticToken string

// Token implements TokenProvider.
func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", fmt.Errorf("escrow access token not configured")
	}
	return string(s), nil
}

// ClientAssertionConfig configures the OAuth client credentials exchange.
type ClientAssertionConfig struct {
	ClientID string
	KeyID    string
	TokenURL string
	// Audience defaults to TokenURL.
	Audience string
	Scopes   []string
	Key      *ecdsa.PrivateKey
}

// ClientAssertionProvider exchanges ES256 signed client assertions for
// access tokens and caches them until shortly before expiry.
type ClientAssertionProvider struct {
	cfg  ClientAssertionConfig
	http *http.Client
	now  func() time.Time

	mu      sync.Mutex
	current string
	expiry  time.Time
}

// NewClientAssertionProvider validates cfg and returns a provider.
func NewClientAssertionProvider(cfg ClientAssertionConfig, httpClient *http.Client) (*ClientAssertionProvider, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("escrow client id required")
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return nil, fmt.Errorf("escrow token url required")
	}
	if cfg.Key == nil {
		return nil, fmt.Errorf("escrow client key required")
	}
	if cfg.Audience == "" {
		cfg.Audience = cfg.TokenURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ClientAssertionProvider{cfg: cfg, http: httpClient, now: time.Now}, nil
}

// ParseClientKey decodes a PEM encoded EC private key.
func ParseClientKey(pemData []byte) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("parse escrow client key: %w", err)
	}
	return key, nil
}

// Token implements TokenProvider.
func (p *ClientAssertionProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != "" && p.now().Before(p.expiry) {
		return p.current, nil
	}

	assertion, err := p.assertion()
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)
	if len(p.cfg.Scopes) > 0 {
		form.Set("scope", strings.Join(p.cfg.Scopes, " "))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("escrow token exchange: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &APIError{Op: "token", StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("escrow token exchange returned no access token")
	}
	lifetime := time.Duration(payload.ExpiresIn) * time.Second
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	p.current = payload.AccessToken
	p.expiry = p.now().Add(lifetime - lifetime/10)
	return p.current, nil
}

func (p *ClientAssertionProvider) assertion() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.cfg.ClientID,
		Subject:   p.cfg.ClientID,
		Audience:  jwt.ClaimStrings{p.cfg.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		ID:        uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	if p.cfg.KeyID != "" {
		token.Header["kid"] = p.cfg.KeyID
	}
	signed, err := token.SignedString(p.cfg.Key)
	if err != nil {
		return "", fmt.Errorf("sign client assertion: %w", err)
	}
	return signed, nil
}
