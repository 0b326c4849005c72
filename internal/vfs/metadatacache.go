package vfs

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/prusa3d/connect-sdk-go/internal/interfaces"
)

// metadataKey identifies a cached metadata record by the triple spec
// §4.3 requires for invalidation: storage, path, and the (mtime, size)
// pair observed when it was extracted. A changed file produces a new
// key, so a stale entry is simply never looked up again rather than
// needing active eviction on every write.
type metadataKey struct {
	storage string
	path    string
	mtimeNs int64
	size    int64
}

// MetadataCache is the hot in-memory layer in front of
// interfaces.MetadataExtractor, keyed by (storage, path, mtime, size)
// per spec §4.3. A hashicorp/golang-lru cache bounds memory use;
// explicit Invalidate calls (wired from FilesystemWatcher events)
// additionally drop entries for a path regardless of which
// (mtime, size) variant is cached, since a rename/delete should hide
// all prior variants immediately rather than waiting for LRU eviction.
type MetadataCache struct {
	lru       *lru.Cache[metadataKey, map[string]any]
	extractor interfaces.MetadataExtractor

	mu      sync.Mutex
	byPath  map[string][]metadataKey // storage/path -> keys currently cached, for Invalidate
}

// NewMetadataCache creates a cache holding up to capacity entries,
// backed by extractor for misses.
func NewMetadataCache(capacity int, extractor interfaces.MetadataExtractor) (*MetadataCache, error) {
	c, err := lru.New[metadataKey, map[string]any](capacity)
	if err != nil {
		return nil, err
	}
	return &MetadataCache{
		lru:       c,
		extractor: extractor,
		byPath:    make(map[string][]metadataKey),
	}, nil
}

// Get returns the metadata record for (storage, path, mtimeNs, size),
// extracting and caching it on a miss.
func (c *MetadataCache) Get(ctx context.Context, storage, path string, mtimeNs, size int64) (map[string]any, error) {
	key := metadataKey{storage: storage, path: path, mtimeNs: mtimeNs, size: size}

	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}

	meta, err := c.extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return meta, nil // nothing extracted: no cache entry
	}

	c.lru.Add(key, meta)

	c.mu.Lock()
	pathKey := storage + "/" + path
	c.byPath[pathKey] = append(c.byPath[pathKey], key)
	c.mu.Unlock()

	return meta, nil
}

// Invalidate drops every cached variant for (storage, path), regardless
// of which (mtime, size) it was keyed under.
func (c *MetadataCache) Invalidate(storage, path string) {
	c.mu.Lock()
	pathKey := storage + "/" + path
	keys := c.byPath[pathKey]
	delete(c.byPath, pathKey)
	c.mu.Unlock()

	for _, k := range keys {
		c.lru.Remove(k)
	}
}

// InvalidateStorage drops every cached entry belonging to storage, used
// when a storage is unmounted.
func (c *MetadataCache) InvalidateStorage(storage string) {
	c.mu.Lock()
	var toDelete []string
	for pathKey := range c.byPath {
		if len(pathKey) > len(storage) && pathKey[:len(storage)+1] == storage+"/" {
			toDelete = append(toDelete, pathKey)
		}
	}
	keys := make([]metadataKey, 0)
	for _, pk := range toDelete {
		keys = append(keys, c.byPath[pk]...)
		delete(c.byPath, pk)
	}
	c.mu.Unlock()

	for _, k := range keys {
		c.lru.Remove(k)
	}
}
