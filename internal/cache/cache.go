// Package cache serves coin catalog reads from a ristretto TTL cache. Only
// the HTTP catalog endpoints read through it; trades always read prices
// from the store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/xtrntr/papertrade/internal/models"
)

// CoinStore is the uncached catalog.
type CoinStore interface {
	GetCoin(ctx context.Context, coinID string) (*models.Coin, error)
	ListCoins(ctx context.Context) ([]models.Coin, error)
	TopCoins(ctx context.Context, n int) ([]models.Coin, error)
}

// Cache is a ristretto cache whose entries all share one TTL.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func New(maxCost int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func (c *Cache) Get(key string) (any, bool) { return c.c.Get(key) }

func (c *Cache) Set(key string, val any, cost int64) { c.c.SetWithTTL(key, val, cost, c.ttl) }

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() { c.c.Wait() }

func (c *Cache) Close() { c.c.Close() }

const (
	keyAll    = "coins:all"
	keyTopFmt = "coins:top:%d"
	keyCoin   = "coin:"
)

// CoinCatalog reads coins through the cache.
type CoinCatalog struct {
	store CoinStore
	cache *Cache
}

func NewCoinCatalog(store CoinStore, cache *Cache) *CoinCatalog {
	return &CoinCatalog{store: store, cache: cache}
}

func (c *CoinCatalog) ListCoins(ctx context.Context) ([]models.Coin, error) {
	if v, ok := c.cache.Get(keyAll); ok {
		return v.([]models.Coin), nil
	}
	coins, err := c.store.ListCoins(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(keyAll, coins, int64(len(coins))+1)
	return coins, nil
}

func (c *CoinCatalog) TopCoins(ctx context.Context, n int) ([]models.Coin, error) {
	key := fmt.Sprintf(keyTopFmt, n)
	if v, ok := c.cache.Get(key); ok {
		return v.([]models.Coin), nil
	}
	coins, err := c.store.TopCoins(ctx, n)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, coins, int64(len(coins))+1)
	return coins, nil
}

// GetCoin returns a cached coin. Lookup failures, not-found included, are
// never cached.
func (c *CoinCatalog) GetCoin(ctx context.Context, coinID string) (*models.Coin, error) {
	if v, ok := c.cache.Get(keyCoin + coinID); ok {
		coin := v.(models.Coin)
		return &coin, nil
	}
	coin, err := c.store.GetCoin(ctx, coinID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(keyCoin+coinID, *coin, 1)
	return coin, nil
}
