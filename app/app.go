package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/app/syncer/apr"
	"github.com/beetslabs/poolsync/app/syncer/balance"
	"github.com/beetslabs/poolsync/app/syncer/pooldata"
	"github.com/beetslabs/poolsync/app/syncer/snapshot"
	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/store"
	"github.com/beetslabs/poolsync/pkg/evm"
	"github.com/beetslabs/poolsync/pkg/logging"
	"github.com/beetslabs/poolsync/pkg/pricing"
	"github.com/beetslabs/poolsync/pkg/redis"
	"github.com/beetslabs/poolsync/pkg/subgraph"
	"github.com/beetslabs/poolsync/pkg/utils"
)

// App wires the per-chain clients and syncers behind the worker and API
// processes.
type App struct {
	Logger   *zap.Logger
	DB       *store.DB
	Redis    *redis.Client
	Registry *chain.Registry
	Aprs     *apr.Registry

	subgraphs map[chain.Chain]*subgraph.Client
	chains    map[chain.Chain]*evm.Client

	snapshots   map[chain.Chain]*snapshot.Syncer
	reconcilers map[chain.Chain]*balance.Reconciler
	pooldata    map[chain.Chain]*pooldata.Syncer
}

// Initialize builds the full dependency graph. Redis is optional; everything
// else is fatal when absent.
func Initialize(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, err
	}

	registry, err := LoadRegistry()
	if err != nil {
		return nil, err
	}

	db, err := store.New(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize store: %w", err)
	}

	var rdb *redis.Client
	if utils.Env("REDIS_ENABLED", "true") == "true" {
		rdb, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Redis unavailable, real-time events disabled", zap.Error(err))
			rdb = nil
		}
	}

	prices := pricing.NewCachedFetcher(&pricing.StoreFetcher{DB: db}, pricing.DefaultCacheTTL)
	normalizer := snapshot.NewNormalizer(logger, prices)
	rateCache := pooldata.StaticRateCache{}
	vault := utils.Env("VAULT_ADDRESS", "0x20dd72Ed959b6147912C2e529F0a0C651c33c9ce")

	a := &App{
		Logger:      logger,
		DB:          db,
		Redis:       rdb,
		Registry:    registry,
		Aprs:        defaultAprRegistry(logger),
		subgraphs:   make(map[chain.Chain]*subgraph.Client),
		chains:      make(map[chain.Chain]*evm.Client),
		snapshots:   make(map[chain.Chain]*snapshot.Syncer),
		reconcilers: make(map[chain.Chain]*balance.Reconciler),
		pooldata:    make(map[chain.Chain]*pooldata.Syncer),
	}

	for _, cfg := range registry.All() {
		sg := subgraph.NewClient(logger, cfg.SubgraphURL)
		rpc, err := evm.Dial(ctx, logger, cfg)
		if err != nil {
			return nil, err
		}

		a.subgraphs[cfg.Chain] = sg
		a.chains[cfg.Chain] = rpc
		a.snapshots[cfg.Chain] = snapshot.NewSyncer(logger, db, sg, normalizer, cfg)
		a.reconcilers[cfg.Chain] = balance.NewReconciler(logger, db, sg, rpc, cfg)
		a.pooldata[cfg.Chain] = pooldata.NewSyncer(logger, db,
			pooldata.NewVaultFetcher(logger, rpc, vault), rateCache, cfg)
	}

	return a, nil
}

// defaultAprRegistry holds the statically registered yield sources.
func defaultAprRegistry(logger *zap.Logger) *apr.Registry {
	var sources []apr.Source

	if url := utils.Env("STAKED_NATIVE_APR_URL", ""); url != "" {
		sources = append(sources, apr.NewStakedNativeSource(
			"staked-native",
			url,
			utils.Env("STAKED_NATIVE_TOKEN", ""),
			chain.Fantom, chain.Sonic,
		))
	}
	if url := utils.Env("YIELD_TABLE_APR_URL_OPTIMISM", ""); url != "" {
		sources = append(sources, apr.NewYieldTableSource("yield-table", "IB",
			map[chain.Chain]string{chain.Optimism: url}))
	}

	return apr.NewRegistry(logger, sources...)
}

// SyncSnapshots runs one snapshot sync pass for a chain.
func (a *App) SyncSnapshots(ctx context.Context, cfg chain.Config) (int, error) {
	return a.snapshots[cfg.Chain].Sync(ctx, snapshot.Options{StartFromLastSyncedBlock: true})
}

// SyncBalances reconciles unstaked pool share balances for a chain.
func (a *App) SyncBalances(ctx context.Context, cfg chain.Config) (int, error) {
	return a.reconcilers[cfg.Chain].Sync(ctx, chain.CategoryBptBalances)
}

// SyncStakedBalances reconciles staked pool share balances for a chain.
func (a *App) SyncStakedBalances(ctx context.Context, cfg chain.Config) (int, error) {
	return a.reconcilers[cfg.Chain].Sync(ctx, chain.CategoryStakedBptBalances)
}

// SyncPoolData refreshes mutable on-chain pool state for a chain.
func (a *App) SyncPoolData(ctx context.Context, cfg chain.Config) (int, error) {
	return a.pooldata[cfg.Chain].Sync(ctx, nil)
}

// Close releases chain and store connections.
func (a *App) Close() {
	for _, rpc := range a.chains {
		rpc.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}
