package pooldata

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

type fakeStore struct {
	pools   []*models.Pool
	tokens  []*models.PoolToken
	dynamic []*models.PoolDynamicData

	dynamicWrites []*models.PoolDynamicData
	tokenWrites   []*models.PoolToken
}

func (f *fakeStore) GetPools(context.Context, chain.Chain, []string) ([]*models.Pool, error) {
	return f.pools, nil
}

func (f *fakeStore) GetPoolTokens(context.Context, chain.Chain, []string) ([]*models.PoolToken, error) {
	return f.tokens, nil
}

func (f *fakeStore) GetPoolDynamicData(context.Context, chain.Chain, []string) ([]*models.PoolDynamicData, error) {
	return f.dynamic, nil
}

func (f *fakeStore) UpsertPoolDynamicData(_ context.Context, data []*models.PoolDynamicData) error {
	f.dynamicWrites = append(f.dynamicWrites, data...)
	return nil
}

func (f *fakeStore) UpdatePoolTokens(_ context.Context, tokens []*models.PoolToken) error {
	f.tokenWrites = append(f.tokenWrites, tokens...)
	return nil
}

type fakeFetcher struct {
	data map[string]*OnchainPoolData
	err  error
}

func (f *fakeFetcher) FetchPoolData(context.Context, chain.Config, []*models.Pool, map[string][]*models.PoolToken) (map[string]*OnchainPoolData, error) {
	return f.data, f.err
}

func strPtr(s string) *string { return &s }

func weightedPool(id string) *models.Pool {
	return &models.Pool{
		ID:                id,
		Chain:             chain.Fantom,
		Address:           "0xpool" + id,
		Type:              models.PoolTypeWeighted,
		ShareTokenAddress: "0xbpt" + id,
	}
}

func onchain(swapFee, totalShares string) *OnchainPoolData {
	return &OnchainPoolData{
		SwapFee:     swapFee,
		TotalShares: totalShares,
		SwapEnabled: true,
		BlockNumber: 100,
	}
}

func testSyncer(store *fakeStore, fetcher *fakeFetcher, cache RateCache) *Syncer {
	return NewSyncer(zap.NewNop(), store, fetcher, cache, chain.Config{Chain: chain.Fantom})
}

func TestSyncEnqueuesNothingWhenUnchanged(t *testing.T) {
	store := &fakeStore{
		pools: []*models.Pool{weightedPool("p1")},
		tokens: []*models.PoolToken{{
			PoolID: "p1", Chain: chain.Fantom, Address: "0xt1",
			Balance: "10", PriceRate: "1",
		}},
		dynamic: []*models.PoolDynamicData{{
			PoolID: "p1", Chain: chain.Fantom,
			SwapFee: "0.003", TotalShares: "100", TotalSharesNum: 100,
			SwapEnabled: true, BlockNumber: 90,
		}},
	}
	data := onchain("0.003", "100")
	data.TokenBalances = map[string]string{"0xt1": "10"}
	data.TokenRates = map[string]string{"0xt1": "1"}
	fetcher := &fakeFetcher{data: map[string]*OnchainPoolData{"p1": data}}

	changed, err := testSyncer(store, fetcher, nil).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Zero(t, changed)
	assert.Empty(t, store.dynamicWrites)
	assert.Empty(t, store.tokenWrites)
}

func TestSyncWritesChangedFieldsOnly(t *testing.T) {
	store := &fakeStore{
		pools: []*models.Pool{weightedPool("p1")},
		tokens: []*models.PoolToken{{
			PoolID: "p1", Chain: chain.Fantom, Address: "0xt1",
			Balance: "10", PriceRate: "1",
		}},
		dynamic: []*models.PoolDynamicData{{
			PoolID: "p1", Chain: chain.Fantom,
			SwapFee: "0.003", TotalShares: "100",
			SwapEnabled: true,
		}},
	}
	data := onchain("0.005", "100")
	data.TokenBalances = map[string]string{"0xt1": "10"}
	data.TokenRates = map[string]string{"0xt1": "1"}
	fetcher := &fakeFetcher{data: map[string]*OnchainPoolData{"p1": data}}

	changed, err := testSyncer(store, fetcher, nil).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, changed)
	require.Len(t, store.dynamicWrites, 1)
	assert.Equal(t, "0.005", store.dynamicWrites[0].SwapFee)
	assert.Empty(t, store.tokenWrites)
}

func TestSyncIsolatesPerPoolFailures(t *testing.T) {
	stable := &models.Pool{ID: "broken", Chain: chain.Fantom, Type: models.PoolTypeStable}
	store := &fakeStore{
		pools: []*models.Pool{stable, weightedPool("ok")},
	}
	// The stable pool's data lacks amp, which is fatal for that pool only.
	fetcher := &fakeFetcher{data: map[string]*OnchainPoolData{
		"broken": onchain("0.001", "50"),
		"ok":     onchain("0.002", "60"),
	}}

	changed, err := testSyncer(store, fetcher, nil).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, changed)
	require.Len(t, store.dynamicWrites, 1)
	assert.Equal(t, "ok", store.dynamicWrites[0].PoolID)
}

func TestSyncFetcherFailureAbortsPass(t *testing.T) {
	store := &fakeStore{pools: []*models.Pool{weightedPool("p1")}}
	fetcher := &fakeFetcher{err: errors.New("rpc down")}

	_, err := testSyncer(store, fetcher, nil).Sync(context.Background(), nil)
	require.Error(t, err)
	assert.Empty(t, store.dynamicWrites)
}

func TestResolvePriceRateCascade(t *testing.T) {
	cache := StaticRateCache{chain.Fantom: {"0xt1": "1.02"}}

	t.Run("onchain rate wins by default", func(t *testing.T) {
		pool := weightedPool("p1")
		token := &models.PoolToken{PoolID: "p1", Address: "0xt1", PriceRate: "1"}
		data := &OnchainPoolData{TokenRates: map[string]string{"0xt1": "1.01"}}

		assert.Equal(t, "1.01", ResolvePriceRate(pool, token, data, cache))
	})

	t.Run("metastable cache overrides onchain", func(t *testing.T) {
		pool := weightedPool("p1")
		pool.Type = models.PoolTypeMetaStable
		token := &models.PoolToken{PoolID: "p1", Address: "0xt1", PriceRate: "1"}
		data := &OnchainPoolData{TokenRates: map[string]string{"0xt1": "1.01"}}

		assert.Equal(t, "1.02", ResolvePriceRate(pool, token, data, cache))
	})

	t.Run("bpt self rate overrides cache", func(t *testing.T) {
		pool := weightedPool("p1")
		pool.Type = models.PoolTypePhantomStable
		pool.ShareTokenAddress = "0xt1"
		token := &models.PoolToken{PoolID: "p1", Address: "0xt1", PriceRate: "1"}
		data := &OnchainPoolData{
			TokenRates: map[string]string{"0xt1": "1.01"},
			PoolRate:   "1.05",
		}

		assert.Equal(t, "1.05", ResolvePriceRate(pool, token, data, cache))
	})

	t.Run("linear wrapped rate is most specific", func(t *testing.T) {
		pool := weightedPool("p1")
		pool.Type = models.PoolTypeLinear
		pool.ShareTokenAddress = "0xt1"
		token := &models.PoolToken{PoolID: "p1", Address: "0xt1", PriceRate: "1"}
		data := &OnchainPoolData{
			TokenRates:        map[string]string{"0xt1": "1.01"},
			PoolRate:          "1.05",
			WrappedTokenRates: map[string]string{"0xt1": "1.10"},
		}

		assert.Equal(t, "1.10", ResolvePriceRate(pool, token, data, cache))
	})

	t.Run("falls back to persisted rate", func(t *testing.T) {
		pool := weightedPool("p1")
		token := &models.PoolToken{PoolID: "p1", Address: "0xother", PriceRate: "1"}
		data := &OnchainPoolData{}

		assert.Equal(t, "1", ResolvePriceRate(pool, token, data, cache))
	})
}

func TestSyncDecodesStablePoolAmp(t *testing.T) {
	stable := &models.Pool{ID: "s1", Chain: chain.Fantom, Type: models.PoolTypeStable}
	store := &fakeStore{pools: []*models.Pool{stable}}

	data := onchain("0.001", "50")
	data.Amp = strPtr("200")
	fetcher := &fakeFetcher{data: map[string]*OnchainPoolData{"s1": data}}

	changed, err := testSyncer(store, fetcher, nil).Sync(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 1, changed)
	require.Len(t, store.dynamicWrites, 1)
	require.NotNil(t, store.dynamicWrites[0].Amp)
	assert.Equal(t, "200", *store.dynamicWrites[0].Amp)
}
