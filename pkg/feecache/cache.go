// Package feecache caches per-asset network fees for a bounded time.
package feecache

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/linkrunner/pkg/clock"
	"github.com/speedrun-hq/linkrunner/pkg/metrics"
)

// Fetcher loads current fees for a batch of assets.
// It must return a fee for every requested asset or an error.
type Fetcher interface {
	FetchFees(ctx context.Context, assets []string) (map[string]*big.Int, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, assets []string) (map[string]*big.Int, error)

func (f FetcherFunc) FetchFees(ctx context.Context, assets []string) (map[string]*big.Int, error) {
	return f(ctx, assets)
}

// Cache holds fees keyed by asset. An entry is valid while now - updatedAt < ttl.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cachedFee
	ttl     uint64
	fetcher Fetcher
	clock   clock.Clock
}

type cachedFee struct {
	fee       *big.Int
	updatedAt uint64
}

// Stats describes the cache for the status endpoint
type Stats struct {
	Entries int           `json:"entries"`
	TTL     time.Duration `json:"ttl"`
}

// New creates a cache backed by fetcher
func New(fetcher Fetcher, ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{
		entries: make(map[string]*cachedFee),
		ttl:     uint64(ttl),
		fetcher: fetcher,
		clock:   clk,
	}
}

// Get returns a cached fee if it is still valid
func (c *Cache) Get(asset string) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lookup(asset, c.clock.NowNs())
}

func (c *Cache) lookup(asset string, now uint64) (*big.Int, bool) {
	cached, exists := c.entries[asset]
	if !exists {
		return nil, false
	}
	if now < cached.updatedAt || now-cached.updatedAt >= c.ttl {
		return nil, false
	}
	return new(big.Int).Set(cached.fee), true
}

// Set stores a fee with the current timestamp
func (c *Cache) Set(asset string, fee *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[asset] = &cachedFee{fee: new(big.Int).Set(fee), updatedAt: c.clock.NowNs()}
}

// GetFees returns a fee for every asset, fetching the missing or stale ones in one batch.
// A failed fetch fails the whole call; no partial result is returned.
func (c *Cache) GetFees(ctx context.Context, assets []string) (map[string]*big.Int, error) {
	result := make(map[string]*big.Int, len(assets))
	var missing []string

	c.mu.RLock()
	now := c.clock.NowNs()
	for _, asset := range assets {
		if _, done := result[asset]; done {
			continue
		}
		if fee, ok := c.lookup(asset, now); ok {
			result[asset] = fee
			metrics.FeeCacheHits.Inc()
			continue
		}
		result[asset] = nil
		missing = append(missing, asset)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}
	metrics.FeeCacheMisses.Add(float64(len(missing)))

	fetched, err := c.fetcher.FetchFees(ctx, missing)
	if err != nil {
		metrics.FeeFetchErrors.Inc()
		return nil, fmt.Errorf("failed to fetch fees for %v: %w", missing, err)
	}
	for _, asset := range missing {
		fee, ok := fetched[asset]
		if !ok || fee == nil || fee.Sign() < 0 {
			metrics.FeeFetchErrors.Inc()
			return nil, fmt.Errorf("no valid fee returned for asset %s", asset)
		}
	}

	c.mu.Lock()
	now = c.clock.NowNs()
	for _, asset := range missing {
		fee := new(big.Int).Set(fetched[asset])
		c.entries[asset] = &cachedFee{fee: fee, updatedAt: now}
		result[asset] = new(big.Int).Set(fee)
	}
	c.mu.Unlock()

	return result, nil
}

// Clear removes all cached entries
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cachedFee)
}

// Invalidate removes a single asset, returning whether it was cached
func (c *Cache) Invalidate(asset string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[asset]
	delete(c.entries, asset)
	return ok
}

// Assets lists the cached assets in sorted order
func (c *Cache) Assets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	assets := make([]string, 0, len(c.entries))
	for asset := range c.entries {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Stats returns basic statistics about the cache
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{Entries: len(c.entries), TTL: time.Duration(c.ttl)}
}

// Refresh fetches all given assets regardless of cache validity and stores the results
func (c *Cache) Refresh(ctx context.Context, assets []string) error {
	if len(assets) == 0 {
		return nil
	}
	fetched, err := c.fetcher.FetchFees(ctx, assets)
	if err != nil {
		metrics.FeeFetchErrors.Inc()
		return fmt.Errorf("failed to refresh fees: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.NowNs()
	for _, asset := range assets {
		if fee, ok := fetched[asset]; ok && fee != nil && fee.Sign() >= 0 {
			c.entries[asset] = &cachedFee{fee: new(big.Int).Set(fee), updatedAt: now}
		}
	}
	return nil
}
