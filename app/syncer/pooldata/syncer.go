package pooldata

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/metrics"
)

// OnchainPoolData is the authoritative on-chain state of one pool, as returned
// by the multicall fetcher.
type OnchainPoolData struct {
	SwapFee          string
	TotalShares      string
	SwapEnabled      bool
	ProtocolYieldFee string

	// PoolRate is the pool-level rate, used as the BPT self-rate for pools
	// holding their own share token.
	PoolRate string

	// Amp is set for stable pools.
	Amp *string
	// LowerTarget and UpperTarget are set for linear pools.
	LowerTarget *string
	UpperTarget *string

	// Per-token state keyed by lowercase token address.
	TokenBalances     map[string]string
	TokenRates        map[string]string
	WrappedTokenRates map[string]string
	TokenWeights      map[string]string

	BlockNumber uint64
}

// OnchainFetcher reads pool state from the chain, multicall-batched. Token
// slots are passed in so balances can be scaled by token decimals.
type OnchainFetcher interface {
	FetchPoolData(ctx context.Context, cfg chain.Config, pools []*models.Pool, tokensByPool map[string][]*models.PoolToken) (map[string]*OnchainPoolData, error)
}

// Store is the persistence surface the pool state syncer consumes.
type Store interface {
	GetPools(ctx context.Context, c chain.Chain, ids []string) ([]*models.Pool, error)
	GetPoolTokens(ctx context.Context, c chain.Chain, poolIDs []string) ([]*models.PoolToken, error)
	GetPoolDynamicData(ctx context.Context, c chain.Chain, poolIDs []string) ([]*models.PoolDynamicData, error)
	UpsertPoolDynamicData(ctx context.Context, data []*models.PoolDynamicData) error
	UpdatePoolTokens(ctx context.Context, tokens []*models.PoolToken) error
}

// Syncer refreshes mutable pool fields from chain state. It runs on a tight
// schedule across thousands of pools, so a write is only enqueued when at
// least one field actually changed.
type Syncer struct {
	logger  *zap.Logger
	store   Store
	fetcher OnchainFetcher
	cache   RateCache
	cfg     chain.Config
}

func NewSyncer(logger *zap.Logger, store Store, fetcher OnchainFetcher, cache RateCache, cfg chain.Config) *Syncer {
	return &Syncer{
		logger:  logger.With(zap.String("chain", string(cfg.Chain))),
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		cfg:     cfg,
	}
}

// Sync refreshes the given pools (all pools for the chain when ids is empty)
// and returns how many pools had at least one changed field. A failure in one
// pool is logged and skipped; it cannot block the rest of the batch.
func (s *Syncer) Sync(ctx context.Context, poolIDs []string) (int, error) {
	c := s.cfg.Chain

	pools, err := s.store.GetPools(ctx, c, poolIDs)
	if err != nil {
		return 0, err
	}
	if len(pools) == 0 {
		return 0, nil
	}

	ids := make([]string, len(pools))
	for i, p := range pools {
		ids[i] = p.ID
	}

	tokens, err := s.store.GetPoolTokens(ctx, c, ids)
	if err != nil {
		return 0, err
	}
	tokensByPool := make(map[string][]*models.PoolToken)
	for _, t := range tokens {
		tokensByPool[t.PoolID] = append(tokensByPool[t.PoolID], t)
	}

	dynamic, err := s.store.GetPoolDynamicData(ctx, c, ids)
	if err != nil {
		return 0, err
	}
	dynamicByPool := make(map[string]*models.PoolDynamicData, len(dynamic))
	for _, d := range dynamic {
		dynamicByPool[d.PoolID] = d
	}

	onchain, err := s.fetcher.FetchPoolData(ctx, s.cfg, pools, tokensByPool)
	if err != nil {
		return 0, fmt.Errorf("fetch on-chain pool data: %w", err)
	}

	var dynamicWrites []*models.PoolDynamicData
	var tokenWrites []*models.PoolToken
	changedPools := 0

	for _, pool := range pools {
		data, ok := onchain[pool.ID]
		if !ok {
			s.logger.Warn("No on-chain data returned for pool", zap.String("pool", pool.ID))
			continue
		}

		dw, tw, err := s.diffPool(pool, dynamicByPool[pool.ID], tokensByPool[pool.ID], data)
		if err != nil {
			s.logger.Error("Failed to diff pool state",
				zap.String("pool", pool.ID),
				zap.Error(err))
			continue
		}

		if dw != nil {
			dynamicWrites = append(dynamicWrites, dw)
		}
		tokenWrites = append(tokenWrites, tw...)
		if dw != nil || len(tw) > 0 {
			changedPools++
		}
	}

	if err := s.store.UpsertPoolDynamicData(ctx, dynamicWrites); err != nil {
		return 0, err
	}
	if err := s.store.UpdatePoolTokens(ctx, tokenWrites); err != nil {
		return 0, err
	}
	metrics.RowsUpserted.WithLabelValues(string(c), "pool_dynamic_data").Add(float64(len(dynamicWrites)))
	metrics.RowsUpserted.WithLabelValues(string(c), "pool_tokens").Add(float64(len(tokenWrites)))

	s.logger.Info("Pool state sync pass complete",
		zap.Int("pools", len(pools)),
		zap.Int("changed", changedPools))
	return changedPools, nil
}

// diffPool compares fetched state against persisted rows and returns only the
// rows that need writing. Both return values are nil/empty when nothing
// changed.
func (s *Syncer) diffPool(pool *models.Pool, persisted *models.PoolDynamicData, tokens []*models.PoolToken, data *OnchainPoolData) (*models.PoolDynamicData, []*models.PoolToken, error) {
	next := &models.PoolDynamicData{
		PoolID:           pool.ID,
		Chain:            pool.Chain,
		SwapFee:          data.SwapFee,
		TotalShares:      data.TotalShares,
		TotalSharesNum:   parseFloat(data.TotalShares),
		SwapEnabled:      data.SwapEnabled,
		ProtocolYieldFee: data.ProtocolYieldFee,
		BlockNumber:      data.BlockNumber,
	}

	switch pool.Type {
	case models.PoolTypeStable, models.PoolTypeMetaStable, models.PoolTypePhantomStable:
		if data.Amp == nil {
			return nil, nil, fmt.Errorf("stable pool %s missing amp", pool.ID)
		}
		next.Amp = data.Amp
	case models.PoolTypeLinear:
		if data.LowerTarget == nil || data.UpperTarget == nil {
			return nil, nil, fmt.Errorf("linear pool %s missing targets", pool.ID)
		}
		next.LowerTarget = data.LowerTarget
		next.UpperTarget = data.UpperTarget
	}

	var dynamicWrite *models.PoolDynamicData
	if persisted == nil || dynamicChanged(persisted, next) {
		dynamicWrite = next
	}

	var tokenWrites []*models.PoolToken
	for _, token := range tokens {
		updated := *token
		if balance, ok := data.TokenBalances[strings.ToLower(token.Address)]; ok {
			updated.Balance = balance
		}
		updated.PriceRate = ResolvePriceRate(pool, token, data, s.cache)
		if weight, ok := data.TokenWeights[strings.ToLower(token.Address)]; ok {
			updated.Weight = &weight
		}
		if rate, ok := data.WrappedTokenRates[strings.ToLower(token.Address)]; ok {
			updated.WrappedTokenRate = &rate
		}

		if tokenChanged(token, &updated) {
			tokenWrites = append(tokenWrites, &updated)
		}
	}

	return dynamicWrite, tokenWrites, nil
}

func dynamicChanged(a, b *models.PoolDynamicData) bool {
	return a.SwapFee != b.SwapFee ||
		a.TotalShares != b.TotalShares ||
		a.SwapEnabled != b.SwapEnabled ||
		a.ProtocolYieldFee != b.ProtocolYieldFee ||
		!strPtrEqual(a.Amp, b.Amp) ||
		!strPtrEqual(a.LowerTarget, b.LowerTarget) ||
		!strPtrEqual(a.UpperTarget, b.UpperTarget)
}

func tokenChanged(a, b *models.PoolToken) bool {
	return a.Balance != b.Balance ||
		a.PriceRate != b.PriceRate ||
		!strPtrEqual(a.Weight, b.Weight) ||
		!strPtrEqual(a.WrappedTokenRate, b.WrappedTokenRate)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
