package dataservice

import (
	"context"
	"encoding/json"
	"log"

	"github.com/dsc-hexbins/server/internal/cache"
	"github.com/dsc-hexbins/server/internal/hexbin"
)

// Backend is everything the inspector needs from the data service.
type Backend interface {
	hexbin.SummaryQuerier
	hexbin.GraphicsSource
}

// Cached memoises backend results: summary parts in the LRU query cache and
// hexbin sets in the compressed graphics cache. Errors are never cached.
type Cached struct {
	next  Backend
	cache *cache.Manager
}

// NewCached wraps next with c.
func NewCached(next Backend, c *cache.Manager) *Cached {
	return &Cached{next: next, cache: c}
}

// DepthRange implements hexbin.SummaryQuerier.
func (c *Cached) DepthRange(ctx context.Context, hex hexbin.HexID, predicate string) (hexbin.DepthRange, error) {
	key := cache.QueryKey("depth", string(hex), predicate)
	var out hexbin.DepthRange
	if c.lookup(key, &out) {
		return out, nil
	}
	out, err := c.next.DepthRange(ctx, hex, predicate)
	if err != nil {
		return out, err
	}
	c.store(key, out)
	return out, nil
}

// PhylumCounts implements hexbin.SummaryQuerier.
func (c *Cached) PhylumCounts(ctx context.Context, hex hexbin.HexID, predicate string) ([]hexbin.PhylumCount, error) {
	key := cache.QueryKey("phylum", string(hex), predicate)
	var out []hexbin.PhylumCount
	if c.lookup(key, &out) {
		return out, nil
	}
	out, err := c.next.PhylumCounts(ctx, hex, predicate)
	if err != nil {
		return nil, err
	}
	c.store(key, out)
	return out, nil
}

// ScientificNameCounts implements hexbin.SummaryQuerier.
func (c *Cached) ScientificNameCounts(ctx context.Context, hex hexbin.HexID, predicate string) ([]hexbin.ScientificNameCount, error) {
	key := cache.QueryKey("names", string(hex), predicate)
	var out []hexbin.ScientificNameCount
	if c.lookup(key, &out) {
		return out, nil
	}
	out, err := c.next.ScientificNameCounts(ctx, hex, predicate)
	if err != nil {
		return nil, err
	}
	c.store(key, out)
	return out, nil
}

// Hexbins implements hexbin.GraphicsSource.
func (c *Cached) Hexbins(ctx context.Context, predicate string) ([]hexbin.Graphic, error) {
	key := cache.GraphicsKey(predicate)
	if data, ok := c.cache.GetGraphics(key); ok {
		var out []hexbin.Graphic
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
	}
	out, err := c.next.Hexbins(ctx, predicate)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err == nil {
		err = c.cache.SetGraphics(key, data)
	}
	if err != nil {
		log.Printf("[Cached] failed to cache hexbins for %q: %v", predicate, err)
	}
	return out, nil
}

func (c *Cached) lookup(key string, v any) bool {
	data, ok := c.cache.GetQuery(key)
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (c *Cached) store(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[Cached] failed to encode %s: %v", key, err)
		return
	}
	c.cache.SetQuery(key, data)
}
