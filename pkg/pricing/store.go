package pricing

import (
	"context"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/store"
)

// StoreFetcher resolves prices from the persisted token_prices table.
type StoreFetcher struct {
	DB *store.DB
}

func (f *StoreFetcher) PricesAt(ctx context.Context, c chain.Chain, timestamp int64) (map[string]float64, error) {
	return f.DB.TokenPricesAt(ctx, c, timestamp)
}

func (f *StoreFetcher) CurrentPrices(ctx context.Context, c chain.Chain) (map[string]float64, error) {
	return f.DB.CurrentTokenPrices(ctx, c)
}
