// Package progress records workflow progress so that interrupted minting
// campaigns resume instead of repeating paid-for or on-chain work.
//
// Entries live under a caller supplied namespace. They are written once the
// corresponding external side effect is confirmed and are never removed by
// the workflows themselves; Reset exists for operators only.
package progress

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"lukechampine.com/blake3"

	"parcelmint/storage"
)

const separator = "\x00"

// Store hands out namespaced ledgers backed by a single database.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Namespace returns the ledger for ns.
func (s *Store) Namespace(ns string) *Ledger {
	return &Ledger{db: s.db, namespace: ns}
}

// Namespaces lists every namespace with at least one entry.
func (s *Store) Namespaces() ([]string, error) {
	keys, err := s.db.Keys(nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, key := range keys {
		ns, _, ok := strings.Cut(string(key), separator)
		if !ok {
			continue
		}
		if _, dup := seen[ns]; dup {
			continue
		}
		seen[ns] = struct{}{}
		out = append(out, ns)
	}
	return out, nil
}

// CampaignNamespace derives the ledger namespace of a mint campaign from the
// collection identity.
func CampaignNamespace(title, symbol string) string {
	identity, _ := json.Marshal([]string{title, symbol})
	sum := blake3.Sum256(identity)
	return "bundle-" + hex.EncodeToString(sum[:16])
}

// AppendNamespace derives the ledger namespace of an append campaign.
func AppendNamespace(network, contract string) string {
	return "append-" + network + "-" + strings.ToLower(contract)
}

// Ledger is a namespaced JSON key/value view. Concurrent use from the fan-out
// branches of a single workflow step is safe.
type Ledger struct {
	mu        sync.Mutex
	db        storage.Database
	namespace string
}

// Namespace reports the ledger's namespace.
func (l *Ledger) Namespace() string { return l.namespace }

func (l *Ledger) key(key string) []byte {
	return []byte(l.namespace + separator + key)
}

// Get decodes the entry stored under key into out. It reports false when the
// entry does not exist.
func (l *Ledger) Get(key string, out any) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	raw, err := l.db.Get(l.key(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("progress: load %s: %w", key, err)
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("progress: decode %s: %w", key, err)
	}
	return true, nil
}

// Has reports whether key has been recorded.
func (l *Ledger) Has(key string) (bool, error) {
	return l.Get(key, nil)
}

// Set durably records value under key.
func (l *Ledger) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", key, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Put(l.key(key), raw); err != nil {
		return fmt.Errorf("progress: store %s: %w", key, err)
	}
	return nil
}

// Update loads the entry under key into a fresh value, applies fn and stores
// the result, all while holding the ledger lock.
func Update[T any](l *Ledger, key string, fn func(*T)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var value T
	raw, err := l.db.Get(l.key(key))
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("progress: load %s: %w", key, err)
	default:
		if err := json.Unmarshal(raw, &value); err != nil {
			return fmt.Errorf("progress: decode %s: %w", key, err)
		}
	}
	fn(&value)
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("progress: encode %s: %w", key, err)
	}
	if err := l.db.Put(l.key(key), encoded); err != nil {
		return fmt.Errorf("progress: store %s: %w", key, err)
	}
	return nil
}

// Entries returns the raw JSON of every entry in the namespace.
func (l *Ledger) Entries() (map[string]json.RawMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := l.namespace + separator
	keys, err := l.db.Keys([]byte(prefix))
	if err != nil {
		return nil, fmt.Errorf("progress: list: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		raw, err := l.db.Get(key)
		if err != nil {
			return nil, fmt.Errorf("progress: load %s: %w", key, err)
		}
		out[strings.TrimPrefix(string(key), prefix)] = json.RawMessage(raw)
	}
	return out, nil
}

// Reset deletes every entry in the namespace.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys, err := l.db.Keys([]byte(l.namespace + separator))
	if err != nil {
		return fmt.Errorf("progress: list: %w", err)
	}
	for _, key := range keys {
		if err := l.db.Delete(key); err != nil {
			return fmt.Errorf("progress: delete %s: %w", key, err)
		}
	}
	return nil
}
