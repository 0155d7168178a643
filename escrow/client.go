package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"parcelmint/observability"
	telemetry "parcelmint/observability/otel"
)

const defaultHeaderTimeout = 60 * time.Second

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

// WithRateLimit bounds the request rate. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithClientLogger overrides the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client implements Service against the escrow REST API.
type Client struct {
	baseURL string
	tokens  TokenProvider
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *observability.EscrowMetrics
}

var _ Service = (*Client)(nil)

// NewClient constructs a client for the API rooted at baseURL.
func NewClient(baseURL string, tokens TokenProvider, opts ...ClientOption) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("escrow api url required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("escrow token provider required")
	}
	c := &Client{
		baseURL: trimmed,
		tokens:  tokens,
		http:    telemetry.NewHTTPClient(defaultHeaderTimeout),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
		logger:  slog.Default(),
		metrics: observability.Escrow(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) GetCurrentIdentity(ctx context.Context) (*Identity, error) {
	var out Identity
	if err := c.doJSON(ctx, "get-identity", http.MethodGet, "/identities/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateIdentity(ctx context.Context, params CreateIdentityParams) (*Identity, error) {
	body := map[string]any{
		"tokenVerifiers": []map[string]string{{"ethAddress": params.EthAddress, "proof": params.Proof}},
	}
	var out Identity
	if err := c.doJSON(ctx, "create-identity", http.MethodPost, "/identities", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) MintToken(ctx context.Context, params MintTokenParams) (*Token, error) {
	var out Token
	if err := c.doJSON(ctx, "mint-token", http.MethodPost, "/tokens", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetToken(ctx context.Context, id string) (*Token, error) {
	var out Token
	if err := c.doJSON(ctx, "get-token", http.MethodGet, "/tokens/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchAssets(ctx context.Context, tokenID string) ([]Asset, error) {
	var out struct {
		Results []Asset `json:"results"`
	}
	path := "/tokens/" + url.PathEscape(tokenID) + "/assets"
	if err := c.doJSON(ctx, "search-assets", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) AddAsset(ctx context.Context, tokenID, assetID string) error {
	path := "/tokens/" + url.PathEscape(tokenID) + "/assets"
	return c.doJSON(ctx, "add-asset", http.MethodPost, path, map[string]string{"assetId": assetID}, nil)
}

func (c *Client) GetTokenBalance(ctx context.Context, identityID, tokenID string) (uint64, error) {
	var out struct {
		Balance uint64 `json:"balance"`
	}
	path := "/identities/" + url.PathEscape(identityID) + "/tokens/" + url.PathEscape(tokenID)
	if err := c.doJSON(ctx, "token-balance", http.MethodGet, path, nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) UploadDocument(ctx context.Context, name string, data io.Reader, params UploadParams) (*Document, error) {
	metadata, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("metadata", string(metadata)); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("data", name)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, data); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, "upload-document", http.MethodPost, "/documents", writer.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode upload response: %w", err)
	}
	return &doc, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (*Document, error) {
	var out Document
	if err := c.doJSON(ctx, "get-document", http.MethodGet, "/documents/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DownloadDocument(ctx context.Context, id string, w io.Writer) error {
	resp, err := c.do(ctx, "download-document", http.MethodGet, "/documents/"+url.PathEscape(id)+"/download", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download document %s: %w", id, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
		contentType = "application/json"
	}
	resp, err := c.do(ctx, op, method, path, contentType, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("escrow %s: decode response: %w", op, err)
	}
	return nil
}

// do performs an authenticated request. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader) (*http.Response, error) {
	if c.limiter != nil {
		if c.limiter.Tokens() < 1 {
			c.metrics.RecordThrottle()
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("escrow %s: %w", op, err)
		}
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", op, err)
	}
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Observe(op, 0, time.Since(start))
		return nil, fmt.Errorf("escrow %s: %w", op, err)
	}
	c.metrics.Observe(op, resp.StatusCode, time.Since(start))
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
		c.logger.Debug("escrow request failed", slog.String("op", op), slog.Int("status", resp.StatusCode))
		return nil, apiErr
	}
	return resp, nil
}

func readMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
