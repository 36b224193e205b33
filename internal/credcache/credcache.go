// Package credcache persists the streaming-service credentials and the audio
// fetched for them in a size-bounded badger store.
//
// The cache is opaque to the rest of the application: it stores an OAuth2
// token and raw audio blobs keyed by track id. When no directory is
// configured the store lives in memory and is lost on exit.
package credcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/oauth2"
)

// DefaultMaxBytes is the default size bound of the cache (4 GiB).
const DefaultMaxBytes int64 = 4 << 30

// AudioTTL is how long cached audio stays valid.
const AudioTTL = 7 * 24 * time.Hour

// Sentinel errors.
var (
	// ErrCacheFull is returned when a write would grow the cache past its
	// bound.
	ErrCacheFull = errors.New("credcache: cache full")

	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("credcache: not found")
)

const (
	tokenKeyPrefix = "token/"
	audioKeyPrefix = "audio/"
)

// Cache is a size-bounded key/value store. All methods are safe for
// concurrent use.
type Cache struct {
	db       *badger.DB
	maxBytes int64

	mu   sync.Mutex
	used int64
}

// Open opens the cache in dir, creating it if needed. An empty dir keeps the
// cache in memory. maxBytes <= 0 selects [DefaultMaxBytes].
func Open(dir string, maxBytes int64) (*Cache, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("credcache: open %q: %w", dir, err)
	}
	lsm, vlog := db.Size()
	c := &Cache{db: db, maxBytes: maxBytes, used: lsm + vlog}
	slog.Debug("credcache: opened", "dir", dir, "size", c.used, "max", maxBytes)
	return c, nil
}

// Close flushes and closes the store.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("credcache: close: %w", err)
	}
	return nil
}

// Size returns the number of bytes the cache accounts for.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	lsm, vlog := c.db.Size()
	return max(c.used, lsm+vlog)
}

// Token returns the cached token of the given account kind (e.g. "spotify").
// Returns [ErrNotFound] when none is cached.
func (c *Cache) Token(kind string) (*oauth2.Token, error) {
	raw, err := c.get(tokenKeyPrefix + kind)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("credcache: decode token %q: %w", kind, err)
	}
	return &tok, nil
}

// SaveToken stores tok for the given account kind.
func (c *Cache) SaveToken(kind string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("credcache: encode token %q: %w", kind, err)
	}
	return c.put(badger.NewEntry([]byte(tokenKeyPrefix+kind), raw))
}

// Audio returns cached audio for id. Returns [ErrNotFound] when absent or
// expired.
func (c *Cache) Audio(id string) ([]byte, error) {
	return c.get(audioKeyPrefix + id)
}

// PutAudio caches data for id for [AudioTTL].
func (c *Cache) PutAudio(id string, data []byte) error {
	return c.put(badger.NewEntry([]byte(audioKeyPrefix+id), data).WithTTL(AudioTTL))
}

func (c *Cache) get(key string) ([]byte, error) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credcache: get %q: %w", key, err)
	}
	return val, nil
}

func (c *Cache) put(e *badger.Entry) error {
	n := int64(len(e.Key) + len(e.Value))

	c.mu.Lock()
	defer c.mu.Unlock()
	lsm, vlog := c.db.Size()
	if max(c.used, lsm+vlog)+n > c.maxBytes {
		return fmt.Errorf("credcache: put %q (%d bytes): %w", e.Key, n, ErrCacheFull)
	}
	if err := c.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("credcache: put %q: %w", e.Key, err)
	}
	c.used += n
	return nil
}
