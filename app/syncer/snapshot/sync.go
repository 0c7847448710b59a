package snapshot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/metrics"
	"github.com/beetslabs/poolsync/pkg/subgraph"
)

// deltaSeedDepth is how many recent persisted snapshots per pool are loaded
// before an incremental pass, so the normalizer sees enough history to compute
// correct deltas at the sync boundary.
const deltaSeedDepth = 2

// Source is the subgraph surface the syncer consumes.
type Source interface {
	Meta(ctx context.Context) (subgraph.Meta, error)
	Snapshots(ctx context.Context, filter subgraph.SnapshotFilter) ([]*subgraph.RawSnapshot, error)
}

// Store is the persistence surface the syncer consumes.
type Store interface {
	PoolIDsForChain(ctx context.Context, c chain.Chain) ([]string, error)
	FilterExistingPoolIDs(ctx context.Context, c chain.Chain, candidates []string) ([]string, error)
	GetPoolTokens(ctx context.Context, c chain.Chain, poolIDs []string) ([]*models.PoolToken, error)
	LatestSnapshotsPerPool(ctx context.Context, c chain.Chain, poolIDs []string, n int) ([]*models.PoolSnapshot, error)
	UpsertPoolSnapshots(ctx context.Context, snapshots []*models.PoolSnapshot) error
	GetWatermark(ctx context.Context, c chain.Chain, category chain.Category) (uint64, error)
	SetWatermark(ctx context.Context, c chain.Chain, category chain.Category, blockNumber uint64) error
}

// Options narrow a sync pass.
type Options struct {
	// PoolIDs restricts the pass to the given pools; empty means every pool
	// known for the chain.
	PoolIDs []string
	// StartFromLastSyncedBlock enables incremental mode: only entities changed
	// since the persisted watermark are fetched.
	StartFromLastSyncedBlock bool
}

// Syncer drives snapshot synchronization passes for one chain.
type Syncer struct {
	logger     *zap.Logger
	store      Store
	source     Source
	normalizer *Normalizer
	cfg        chain.Config
}

func NewSyncer(logger *zap.Logger, store Store, source Source, normalizer *Normalizer, cfg chain.Config) *Syncer {
	return &Syncer{
		logger:     logger.With(zap.String("chain", string(cfg.Chain))),
		store:      store,
		source:     source,
		normalizer: normalizer,
		cfg:        cfg,
	}
}

// Sync runs one snapshot synchronization pass and returns the number of rows
// written. The watermark is advanced to the source's indexed block, never to
// "now", and only after every batch committed.
func (s *Syncer) Sync(ctx context.Context, opts Options) (int, error) {
	c := s.cfg.Chain

	meta, err := s.source.Meta(ctx)
	if err != nil {
		return 0, fmt.Errorf("source metadata: %w", err)
	}

	var watermark uint64
	if opts.StartFromLastSyncedBlock {
		watermark, err = s.store.GetWatermark(ctx, c, chain.CategoryPoolSnapshots)
		if err != nil {
			return 0, err
		}
	}

	poolIDs, err := s.resolvePools(ctx, opts.PoolIDs)
	if err != nil {
		return 0, err
	}
	if len(poolIDs) == 0 {
		s.logger.Info("No pools to sync snapshots for")
		return 0, nil
	}

	raw, err := s.source.Snapshots(ctx, subgraph.SnapshotFilter{
		PoolIDs:  poolIDs,
		BlockGTE: watermark,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch snapshots: %w", err)
	}
	if len(raw) == 0 {
		s.logger.Info("No snapshot changes since watermark",
			zap.Uint64("watermark", watermark))
		return 0, s.store.SetWatermark(ctx, c, chain.CategoryPoolSnapshots, meta.Block.Number)
	}

	snapshots := make([]*models.PoolSnapshot, 0, len(raw))
	for _, r := range raw {
		snapshots = append(snapshots, fromRaw(c, r))
	}

	if watermark > 0 {
		snapshots, err = s.seedHistory(ctx, snapshots)
		if err != nil {
			return 0, err
		}
	}

	tokensByPool, err := s.loadTokens(ctx, snapshots)
	if err != nil {
		return 0, err
	}

	normalized, err := s.normalizer.Run(ctx, c, snapshots, tokensByPool)
	if err != nil {
		return 0, fmt.Errorf("normalize snapshots: %w", err)
	}

	if err := s.store.UpsertPoolSnapshots(ctx, normalized); err != nil {
		return 0, err
	}
	metrics.RowsUpserted.WithLabelValues(string(c), "pool_snapshots").Add(float64(len(normalized)))

	if err := s.store.SetWatermark(ctx, c, chain.CategoryPoolSnapshots, meta.Block.Number); err != nil {
		return 0, err
	}

	s.logger.Info("Snapshot sync pass complete",
		zap.Int("rows", len(normalized)),
		zap.Uint64("indexedBlock", meta.Block.Number))
	return len(normalized), nil
}

// resolvePools narrows the explicit pool set to pools the store knows, or
// returns every pool for the chain.
func (s *Syncer) resolvePools(ctx context.Context, explicit []string) ([]string, error) {
	if len(explicit) > 0 {
		ids, err := s.store.FilterExistingPoolIDs(ctx, s.cfg.Chain, explicit)
		if err != nil {
			return nil, err
		}
		return ids, nil
	}
	return s.store.PoolIDsForChain(ctx, s.cfg.Chain)
}

// seedHistory merges the most recent persisted snapshots under the incoming
// raw rows, raw values overwriting persisted ones on id collision.
func (s *Syncer) seedHistory(ctx context.Context, snapshots []*models.PoolSnapshot) ([]*models.PoolSnapshot, error) {
	poolSet := make(map[string]struct{})
	var poolIDs []string
	for _, snap := range snapshots {
		if _, ok := poolSet[snap.PoolID]; !ok {
			poolSet[snap.PoolID] = struct{}{}
			poolIDs = append(poolIDs, snap.PoolID)
		}
	}

	persisted, err := s.store.LatestSnapshotsPerPool(ctx, s.cfg.Chain, poolIDs, deltaSeedDepth)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]*models.PoolSnapshot, len(persisted)+len(snapshots))
	var order []string
	for _, snap := range persisted {
		if _, ok := merged[snap.ID]; !ok {
			order = append(order, snap.ID)
		}
		merged[snap.ID] = snap
	}
	for _, snap := range snapshots {
		if _, ok := merged[snap.ID]; !ok {
			order = append(order, snap.ID)
		}
		merged[snap.ID] = snap
	}

	out := make([]*models.PoolSnapshot, 0, len(order))
	for _, id := range order {
		out = append(out, merged[id])
	}
	return out, nil
}

func (s *Syncer) loadTokens(ctx context.Context, snapshots []*models.PoolSnapshot) (map[string][]*models.PoolToken, error) {
	seen := make(map[string]struct{})
	var poolIDs []string
	for _, snap := range snapshots {
		if _, ok := seen[snap.PoolID]; !ok {
			seen[snap.PoolID] = struct{}{}
			poolIDs = append(poolIDs, snap.PoolID)
		}
	}

	tokens, err := s.store.GetPoolTokens(ctx, s.cfg.Chain, poolIDs)
	if err != nil {
		return nil, fmt.Errorf("load pool tokens: %w", err)
	}

	byPool := make(map[string][]*models.PoolToken)
	for _, t := range tokens {
		byPool[t.PoolID] = append(byPool[t.PoolID], t)
	}
	return byPool, nil
}

// fromRaw converts a subgraph row to the persisted snapshot shape. String
// cumulative fields parse to zero when absent or malformed.
func fromRaw(c chain.Chain, r *subgraph.RawSnapshot) *models.PoolSnapshot {
	return &models.PoolSnapshot{
		ID:              r.ID,
		PoolID:          r.PoolID,
		Chain:           c,
		Timestamp:       r.Timestamp,
		DailyVolumes:    r.DailyVolumes,
		DailySwapFees:   r.DailySwapFees,
		DailySurpluses:  r.DailySurpluses,
		Amounts:         r.Amounts,
		TotalSharesNum:  parseFloat(r.TotalShares),
		TotalSwapVolume: parseFloat(r.TotalSwapVolume),
		TotalSwapFee:    parseFloat(r.TotalSwapFee),
		TotalSurplus:    parseFloat(r.TotalSurplus),
	}
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
