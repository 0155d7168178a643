// Package blobstore uploads batches of named blobs to content addressed
// storage.
package blobstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"lukechampine.com/blake3"
)

// GatewayURL is the public gateway used to link uploaded directories.
const GatewayURL = "https://nftstorage.link/ipfs/"

// NamedBlob is a file within an uploaded directory.
type NamedBlob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store uploads a directory of blobs and returns its content identifier.
type Store interface {
	StoreDirectory(ctx context.Context, files []NamedBlob) (string, error)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, files []NamedBlob) (string, error)

// StoreDirectory implements Store.
func (f StoreFunc) StoreDirectory(ctx context.Context, files []NamedBlob) (string, error) {
	return f(ctx, files)
}

// Link returns the gateway URL of a directory, with a trailing slash.
func Link(cid string) string {
	return GatewayURL + cid + "/"
}

// FileLink returns the gateway URL of name inside directory cid.
func FileLink(cid, name string) string {
	return strings.TrimSuffix(Link(cid), "/") + "/" + name
}

// MemoryStore keeps uploaded directories in memory. Identical directories
// yield identical identifiers.
type MemoryStore struct {
	mu    sync.Mutex
	dirs  map[string][]NamedBlob
	Calls int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{dirs: make(map[string][]NamedBlob)}
}

// StoreDirectory implements Store.
func (m *MemoryStore) StoreDirectory(_ context.Context, files []NamedBlob) (string, error) {
	if len(files) == 0 {
		return "", fmt.Errorf("blobstore: empty directory")
	}
	sorted := append([]NamedBlob(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	hasher := blake3.New(32, nil)
	for _, f := range sorted {
		_, _ = hasher.Write([]byte(f.Name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(f.Data)
		_, _ = hasher.Write([]byte{0})
	}
	cid := "bafk" + hex.EncodeToString(hasher.Sum(nil))[:48]

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.dirs[cid] = sorted
	return cid, nil
}

// Directory returns the blobs stored under cid.
func (m *MemoryStore) Directory(cid string) ([]NamedBlob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	files, ok := m.dirs[cid]
	return files, ok
}
