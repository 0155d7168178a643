package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"parcelmint/observability"
	telemetry "parcelmint/observability/otel"
)

// uploadHeaderTimeout covers the gateway pinning a directory before it replies.
const uploadHeaderTimeout = 5 * time.Minute

// DefaultNFTStorageEndpoint is the nft.storage API root.
const DefaultNFTStorageEndpoint = "https://api.nft.storage"

// NFTStorage uploads directories through the nft.storage HTTP API.
type NFTStorage struct {
	endpoint string
	apiKey   string
	http     *http.Client
	metrics  *observability.WorkflowMetrics
}

var _ Store = (*NFTStorage)(nil)

// NewNFTStorage constructs a client. An empty endpoint selects the public API.
func NewNFTStorage(endpoint, apiKey string) (*NFTStorage, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("nft.storage api key required")
	}
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultNFTStorageEndpoint
	}
	return &NFTStorage{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     telemetry.NewHTTPClient(uploadHeaderTimeout),
		metrics:  observability.Workflow(),
	}, nil
}

// StoreDirectory uploads files as a single directory.
func (s *NFTStorage) StoreDirectory(ctx context.Context, files []NamedBlob) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("blobstore: empty directory")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	var total int64
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
		total += int64(len(f.Data))
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("nft.storage upload: %w", err)
	}
	defer resp.Body.Close()

	var payload struct {
		OK    bool `json:"ok"`
		Value struct {
			CID string `json:"cid"`
		} `json:"value"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("nft.storage upload: read response: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("nft.storage upload: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || !payload.OK {
		msg := payload.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("nft.storage upload failed: status=%d: %s", resp.StatusCode, msg)
	}
	s.metrics.RecordUpload("nft.storage", total)
	return payload.Value.CID, nil
}
