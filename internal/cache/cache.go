// Package cache provides caching for backend query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"
)

// Config contains cache configuration.
type Config struct {
	GraphicsCacheSizeMB int
	GraphicsTTL         time.Duration
	QueryCacheSize      int
}

// Manager manages the graphics and summary query caches.
type Manager struct {
	graphicsCache *bigcache.BigCache
	queryCache    *lru.Cache[string, []byte]
	encoder       *zstd.Encoder
	decoder       *zstd.Decoder
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.GraphicsTTL <= 0 {
		cfg.GraphicsTTL = 10 * time.Minute
	}
	if cfg.QueryCacheSize <= 0 {
		cfg.QueryCacheSize = 1000
	}

	// Graphics sets are stored zstd-compressed; one entry per predicate.
	graphicsCacheConfig := bigcache.Config{
		Shards:             16,
		LifeWindow:         cfg.GraphicsTTL,
		CleanWindow:        cfg.GraphicsTTL / 2,
		MaxEntriesInWindow: 256,
		MaxEntrySize:       64 * 1024, // compressed hexbin set
		HardMaxCacheSize:   cfg.GraphicsCacheSizeMB,
		Verbose:            false,
	}

	graphicsCache, err := bigcache.New(context.Background(), graphicsCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create graphics cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		graphicsCache.Close()
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		graphicsCache.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		graphicsCache.Close()
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Manager{
		graphicsCache: graphicsCache,
		queryCache:    queryCache,
		encoder:       encoder,
		decoder:       decoder,
	}, nil
}

// GetGraphics retrieves a decompressed graphics payload from cache.
func (m *Manager) GetGraphics(key string) ([]byte, bool) {
	compressed, err := m.graphicsCache.Get(key)
	if err != nil {
		return nil, false
	}
	data, err := m.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetGraphics compresses and stores a graphics payload.
func (m *Manager) SetGraphics(key string, data []byte) error {
	return m.graphicsCache.Set(key, m.encoder.EncodeAll(data, nil))
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Purge drops every cached entry, e.g. after new observations were imported.
func (m *Manager) Purge() error {
	m.queryCache.Purge()
	return m.graphicsCache.Reset()
}

// GraphicsKey generates a cache key for the hexbin set of a predicate.
func GraphicsKey(predicate string) string {
	return "hexbins:" + predicateHash(predicate)
}

// QueryKey generates a cache key for one summary query of a hexbin.
func QueryKey(kind, h3, predicate string) string {
	return fmt.Sprintf("%s:%s:%s", kind, h3, predicateHash(predicate))
}

// predicateHash keeps keys short for long filter expressions.
func predicateHash(predicate string) string {
	h := sha256.Sum256([]byte(predicate))
	return hex.EncodeToString(h[:])[:16]
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"graphics_cache_len": m.graphicsCache.Len(),
		"graphics_cache_cap": m.graphicsCache.Capacity(),
		"query_cache_len":    m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	m.decoder.Close()
	if err := m.encoder.Close(); err != nil {
		return err
	}
	return m.graphicsCache.Close()
}
