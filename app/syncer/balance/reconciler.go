package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/evm"
	"github.com/beetslabs/poolsync/pkg/metrics"
	"github.com/beetslabs/poolsync/pkg/subgraph"
)

// ErrSubgraphLagging signals that the subgraph trails the chain head beyond
// the configured threshold. Callers fall back to the RPC path on it rather
// than silently serving stale balances.
var ErrSubgraphLagging = errors.New("subgraph lagging behind chain head")

// rpcWindowFactor bounds one RPC catch-up pass to this many max-log-range
// chunks. Catching up further happens across successive passes.
const rpcWindowFactor = 5

// shareTokenDecimals is the fixed decimal scale of pool share tokens.
const shareTokenDecimals = 18

// Source is the subgraph surface the reconciler consumes.
type Source interface {
	Meta(ctx context.Context) (subgraph.Meta, error)
	PoolShares(ctx context.Context, filter subgraph.ShareFilter) ([]*subgraph.PoolShare, error)
}

// ChainClient is the RPC surface the reconciler consumes, for the lag check
// and the log-replay fallback.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	TransferLogs(ctx context.Context, tokens []common.Address, fromBlock, toBlock uint64) ([]evm.Transfer, error)
	Multicall(ctx context.Context, calls []evm.Call) ([]evm.Result, error)
}

// Store is the persistence surface the reconciler consumes.
type Store interface {
	GetWatermark(ctx context.Context, c chain.Chain, category chain.Category) (uint64, error)
	SetWatermark(ctx context.Context, c chain.Chain, category chain.Category, blockNumber uint64) error
	GetPools(ctx context.Context, c chain.Chain, ids []string) ([]*models.Pool, error)
	EnsureUsers(ctx context.Context, users []*models.User) error
	UpsertPoolShareBalances(ctx context.Context, balances []*models.PoolShareBalance) error
	DeletePoolShareBalances(ctx context.Context, c chain.Chain, ids []string) error
}

// Reconciler keeps wallet balances of pool share tokens in sync with chain
// truth, preferring the indexed subgraph and falling back to raw log replay.
type Reconciler struct {
	logger *zap.Logger
	store  Store
	source Source
	rpc    ChainClient
	cfg    chain.Config
}

func NewReconciler(logger *zap.Logger, store Store, source Source, rpc ChainClient, cfg chain.Config) *Reconciler {
	return &Reconciler{
		logger: logger.With(zap.String("chain", string(cfg.Chain))),
		store:  store,
		source: source,
		rpc:    rpc,
		cfg:    cfg,
	}
}

// Sync runs the subgraph path and falls back to RPC log replay when the
// subgraph lags beyond the configured threshold.
func (r *Reconciler) Sync(ctx context.Context, category chain.Category) (int, error) {
	n, err := r.SyncFromSubgraph(ctx, category)
	if errors.Is(err, ErrSubgraphLagging) {
		r.logger.Warn("Falling back to RPC balance sync", zap.Error(err))
		return r.SyncFromRPC(ctx, category)
	}
	return n, err
}

// SyncFromSubgraph reconciles balances from the subgraph. The fetch window
// re-reads a trailing margin below the watermark to hedge against subgraph
// re-orgs and late indexing.
func (r *Reconciler) SyncFromSubgraph(ctx context.Context, category chain.Category) (int, error) {
	c := r.cfg.Chain

	watermark, err := r.store.GetWatermark(ctx, c, category)
	if err != nil {
		return 0, err
	}
	fromBlock := uint64(0)
	if watermark > r.cfg.ReorgMargin {
		fromBlock = watermark - r.cfg.ReorgMargin
	}

	meta, err := r.source.Meta(ctx)
	if err != nil {
		return 0, fmt.Errorf("source metadata: %w", err)
	}
	head, err := r.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain head: %w", err)
	}

	if head > meta.Block.Number {
		lag := head - meta.Block.Number
		metrics.SubgraphLagBlocks.WithLabelValues(string(c)).Set(float64(lag))
		if lag > r.cfg.SubgraphLagThreshold {
			return 0, fmt.Errorf("%w: indexed %d, head %d, lag %d > %d",
				ErrSubgraphLagging, meta.Block.Number, head, lag, r.cfg.SubgraphLagThreshold)
		}
	}

	shares, err := r.source.PoolShares(ctx, subgraph.ShareFilter{BlockGTE: fromBlock})
	if err != nil {
		return 0, fmt.Errorf("fetch pool shares: %w", err)
	}

	balances := make([]*models.PoolShareBalance, 0, len(shares))
	for _, share := range shares {
		tokenAddr := strings.ToLower(share.PoolID.Address)
		userAddr := strings.ToLower(share.UserAddress.ID)
		balances = append(balances, &models.PoolShareBalance{
			ID:           models.BalanceID(tokenAddr, userAddr),
			PoolID:       share.PoolID.ID,
			Chain:        c,
			UserAddress:  userAddr,
			TokenAddress: tokenAddr,
			Balance:      share.Balance,
			BalanceNum:   parseFloat(share.Balance),
		})
	}

	return r.balancesToDB(ctx, category, balances, meta.Block.Number)
}

// SyncFromRPC reconciles balances by replaying Transfer events over a bounded
// block window and reading authoritative balances via one multicall batch. It
// cannot bootstrap cold: log-scanning from genesis is not attempted.
func (r *Reconciler) SyncFromRPC(ctx context.Context, category chain.Category) (int, error) {
	c := r.cfg.Chain

	watermark, err := r.store.GetWatermark(ctx, c, category)
	if err != nil {
		return 0, err
	}
	if watermark == 0 {
		return 0, fmt.Errorf("rpc balance sync for %s/%s requires a prior watermark", c, category)
	}

	head, err := r.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain head: %w", err)
	}

	fromBlock := watermark - min(watermark, r.cfg.ReorgMargin)
	toBlock := min(fromBlock+rpcWindowFactor*r.cfg.MaxLogBlockRange, head)
	if fromBlock > toBlock {
		return 0, nil
	}

	pools, err := r.store.GetPools(ctx, c, nil)
	if err != nil {
		return 0, fmt.Errorf("load pools: %w", err)
	}
	poolByToken := make(map[common.Address]*models.Pool, len(pools))
	tokens := make([]common.Address, 0, len(pools))
	for _, p := range pools {
		addr := common.HexToAddress(p.ShareTokenAddress)
		poolByToken[addr] = p
		tokens = append(tokens, addr)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	transfers, err := r.rpc.TransferLogs(ctx, tokens, fromBlock, toBlock)
	if err != nil {
		return 0, fmt.Errorf("replay transfer logs: %w", err)
	}

	balances, err := r.resolveBalances(ctx, poolByToken, transfers)
	if err != nil {
		return 0, err
	}

	return r.balancesToDB(ctx, category, balances, toBlock)
}

type holder struct {
	token common.Address
	user  common.Address
}

// resolveBalances turns the transfer set into authoritative balances: every
// touched (token, holder) pair is read back via balanceOf in one multicall
// batch, never reconstructed by incremental +/- accounting.
func (r *Reconciler) resolveBalances(ctx context.Context, poolByToken map[common.Address]*models.Pool, transfers []evm.Transfer) ([]*models.PoolShareBalance, error) {
	seen := make(map[holder]struct{})
	var holders []holder
	add := func(token, user common.Address) {
		if user == (common.Address{}) {
			return
		}
		h := holder{token: token, user: user}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		holders = append(holders, h)
	}
	for _, t := range transfers {
		add(t.Token, t.From)
		add(t.Token, t.To)
	}
	if len(holders) == 0 {
		return nil, nil
	}

	calls := make([]evm.Call, len(holders))
	for i, h := range holders {
		data, err := evm.PackBalanceOf(h.user)
		if err != nil {
			return nil, err
		}
		calls[i] = evm.Call{Target: h.token, AllowFailure: true, CallData: data}
	}

	results, err := r.rpc.Multicall(ctx, calls)
	if err != nil {
		return nil, fmt.Errorf("balanceOf multicall: %w", err)
	}
	if len(results) != len(holders) {
		return nil, fmt.Errorf("multicall returned %d results for %d calls", len(results), len(holders))
	}

	balances := make([]*models.PoolShareBalance, 0, len(holders))
	for i, h := range holders {
		if !results[i].Success {
			r.logger.Warn("balanceOf call failed",
				zap.String("token", h.token.Hex()),
				zap.String("user", h.user.Hex()))
			continue
		}
		raw, err := evm.UnpackUint256(results[i].ReturnData)
		if err != nil {
			return nil, fmt.Errorf("decode balanceOf for %s: %w", h.token.Hex(), err)
		}

		pool := poolByToken[h.token]
		scaled := decimal.NewFromBigInt(raw, -shareTokenDecimals)
		tokenAddr := strings.ToLower(h.token.Hex())
		userAddr := strings.ToLower(h.user.Hex())

		balances = append(balances, &models.PoolShareBalance{
			ID:           models.BalanceID(tokenAddr, userAddr),
			PoolID:       pool.ID,
			Chain:        r.cfg.Chain,
			UserAddress:  userAddr,
			TokenAddress: tokenAddr,
			Balance:      scaled.String(),
			BalanceNum:   scaled.InexactFloat64(),
		})
	}
	return balances, nil
}

// balancesToDB is the shared persistence tail of both sync paths: ensure user
// rows exist, upsert non-zero balances, bulk-delete zero balances, then
// advance the watermark.
func (r *Reconciler) balancesToDB(ctx context.Context, category chain.Category, balances []*models.PoolShareBalance, newWatermark uint64) (int, error) {
	c := r.cfg.Chain

	// A batch mixing chains would silently corrupt another chain's rows.
	for _, b := range balances {
		if b.Chain != c {
			return 0, fmt.Errorf("balance %s belongs to chain %s, expected %s", b.ID, b.Chain, c)
		}
	}

	var upserts []*models.PoolShareBalance
	var deleteIDs []string
	userSet := make(map[string]struct{})
	var users []*models.User
	for _, b := range balances {
		if b.BalanceNum == 0 {
			deleteIDs = append(deleteIDs, b.ID)
			continue
		}
		upserts = append(upserts, b)
		if _, ok := userSet[b.UserAddress]; !ok {
			userSet[b.UserAddress] = struct{}{}
			users = append(users, &models.User{Address: b.UserAddress, Chain: c})
		}
	}

	if err := r.store.EnsureUsers(ctx, users); err != nil {
		return 0, err
	}
	if err := r.store.UpsertPoolShareBalances(ctx, upserts); err != nil {
		return 0, err
	}
	if err := r.store.DeletePoolShareBalances(ctx, c, deleteIDs); err != nil {
		return 0, err
	}
	metrics.RowsUpserted.WithLabelValues(string(c), "pool_share_balances").Add(float64(len(upserts)))

	if err := r.store.SetWatermark(ctx, c, category, newWatermark); err != nil {
		return 0, err
	}

	r.logger.Info("Balance reconciliation complete",
		zap.String("category", string(category)),
		zap.Int("upserted", len(upserts)),
		zap.Int("deleted", len(deleteIDs)),
		zap.Uint64("watermark", newWatermark))
	return len(upserts), nil
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
