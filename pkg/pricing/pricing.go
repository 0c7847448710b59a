package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// Fetcher resolves USD token prices, either as of a historical day-aligned
// timestamp or the freshest known value.
type Fetcher interface {
	PricesAt(ctx context.Context, c chain.Chain, timestamp int64) (map[string]float64, error)
	CurrentPrices(ctx context.Context, c chain.Chain) (map[string]float64, error)
}

// DefaultCacheTTL bounds redundant current-price fetches under snapshot
// fan-out.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	prices    map[string]float64
	fetchedAt time.Time
}

// CachedFetcher is a time-boxed read-through cache in front of another
// Fetcher. It is never authoritative; the store is.
type CachedFetcher struct {
	inner Fetcher
	ttl   time.Duration
	now   func() time.Time
	cache *xsync.Map[string, cacheEntry]
}

// NewCachedFetcher wraps inner with a TTL cache keyed per chain+timestamp.
func NewCachedFetcher(inner Fetcher, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedFetcher{
		inner: inner,
		ttl:   ttl,
		now:   time.Now,
		cache: xsync.NewMap[string, cacheEntry](),
	}
}

// PricesAt returns prices as of a historical timestamp. Historical prices are
// immutable, so they are cached under the same TTL policy for simplicity.
func (f *CachedFetcher) PricesAt(ctx context.Context, c chain.Chain, timestamp int64) (map[string]float64, error) {
	key := fmt.Sprintf("%s-%d", c, timestamp)
	return f.lookup(key, func() (map[string]float64, error) {
		return f.inner.PricesAt(ctx, c, timestamp)
	})
}

// CurrentPrices returns the freshest known prices for a chain, cached per
// chain under the "current" key.
func (f *CachedFetcher) CurrentPrices(ctx context.Context, c chain.Chain) (map[string]float64, error) {
	key := fmt.Sprintf("%s-current", c)
	return f.lookup(key, func() (map[string]float64, error) {
		return f.inner.CurrentPrices(ctx, c)
	})
}

func (f *CachedFetcher) lookup(key string, fetch func() (map[string]float64, error)) (map[string]float64, error) {
	if entry, ok := f.cache.Load(key); ok {
		if f.now().Sub(entry.fetchedAt) < f.ttl {
			return entry.prices, nil
		}
	}

	prices, err := fetch()
	if err != nil {
		return nil, err
	}

	f.cache.Store(key, cacheEntry{prices: prices, fetchedAt: f.now()})
	return prices, nil
}
