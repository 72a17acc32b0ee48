// Package embedcache provides a content-hash-keyed cache of embedding
// vectors, layered as an in-process LRU in front of a BadgerDB store so
// cache contents survive process restarts. It is keyed on
// contenthash.CacheKey(model, content), never on the raw content, so
// whitespace-only edits hit the cache.
package embedcache

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/memcore/memcore/internal/contenthash"
)

// entry is the on-disk and in-memory cache record.
type entry struct {
	Vector    []float32 `json:"vector"`
	StoredAt  time.Time `json:"stored_at"`
}

// Cache is a two-tier (LRU + Badger) embedding cache. All methods are safe
// for concurrent use.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, entry]
	db  *badger.DB
	ttl time.Duration
}

// Open creates or reopens a cache at path with the given in-memory entry
// capacity and expiry. A zero ttl disables expiry.
func Open(path string, capacity int, ttl time.Duration) (*Cache, error) {
	if capacity <= 0 {
		capacity = 10000
	}

	opts := badger.DefaultOptions(filepath.Clean(path)).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedcache: open badger: %w", err)
	}

	l, err := lru.New[string, entry](capacity)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("embedcache: init lru: %w", err)
	}

	return &Cache{lru: l, db: db, ttl: ttl}, nil
}

// Close releases the underlying BadgerDB handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the cache key for a (model, content) pair.
func Key(model, content string) string {
	return contenthash.CacheKey(model, content)
}

// Get returns the cached vector for key, reaping it if expired. The second
// return value is false on a miss.
func (c *Cache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.lru.Get(key); ok {
		if c.expired(e) {
			c.lru.Remove(key)
			c.deleteDisk(key)
			return nil, false
		}
		return e.Vector, true
	}

	e, ok := c.readDisk(key)
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.deleteDisk(key)
		return nil, false
	}
	c.lru.Add(key, e)
	return e.Vector, true
}

// Put stores a vector under key, updating both tiers.
func (c *Cache) Put(key string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := entry{Vector: vector, StoredAt: time.Now().UTC()}
	c.lru.Add(key, e)
	return c.writeDisk(key, e)
}

func (c *Cache) expired(e entry) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(e.StoredAt) > c.ttl
}

func (c *Cache) diskKey(key string) []byte {
	return []byte("embedcache:" + key)
}

func (c *Cache) readDisk(key string) (entry, bool) {
	var e entry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.diskKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if err != nil {
		return entry{}, false
	}
	return e, true
}

func (c *Cache) writeDisk(key string, e entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("embedcache: marshal entry: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if c.ttl > 0 {
			return txn.SetEntry(badger.NewEntry(c.diskKey(key), data).WithTTL(c.ttl))
		}
		return txn.Set(c.diskKey(key), data)
	})
}

func (c *Cache) deleteDisk(key string) {
	_ = c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.diskKey(key))
	})
}

// Len returns the number of entries currently resident in the in-memory
// tier. It does not reflect entries that have been evicted to disk only.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
