package balance

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/evm"
	"github.com/beetslabs/poolsync/pkg/subgraph"
)

var testCfg = chain.Config{
	Chain:                chain.Fantom,
	MaxLogBlockRange:     2000,
	SubgraphLagThreshold: 60,
	ReorgMargin:          10,
}

type fakeSource struct {
	indexedBlock uint64
	shares       []*subgraph.PoolShare
	gotFilter    subgraph.ShareFilter
}

func (f *fakeSource) Meta(context.Context) (subgraph.Meta, error) {
	var m subgraph.Meta
	m.Block.Number = f.indexedBlock
	return m, nil
}

func (f *fakeSource) PoolShares(_ context.Context, filter subgraph.ShareFilter) ([]*subgraph.PoolShare, error) {
	f.gotFilter = filter
	return f.shares, nil
}

type fakeChain struct {
	head      uint64
	transfers []evm.Transfer
	gotFrom   uint64
	gotTo     uint64

	balances map[common.Address]map[common.Address]*big.Int
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeChain) TransferLogs(_ context.Context, _ []common.Address, from, to uint64) ([]evm.Transfer, error) {
	f.gotFrom, f.gotTo = from, to
	return f.transfers, nil
}

func (f *fakeChain) Multicall(_ context.Context, calls []evm.Call) ([]evm.Result, error) {
	results := make([]evm.Result, len(calls))
	for i, call := range calls {
		owner := common.BytesToAddress(call.CallData[16:36])
		bal, ok := f.balances[call.Target][owner]
		if !ok {
			results[i] = evm.Result{Success: false}
			continue
		}
		results[i] = evm.Result{
			Success:    true,
			ReturnData: common.LeftPadBytes(bal.Bytes(), 32),
		}
	}
	return results, nil
}

type fakeStore struct {
	watermarks map[chain.Category]uint64
	pools      []*models.Pool

	upserted []*models.PoolShareBalance
	deleted  []string
	users    []*models.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{watermarks: make(map[chain.Category]uint64)}
}

func (f *fakeStore) GetWatermark(_ context.Context, _ chain.Chain, category chain.Category) (uint64, error) {
	return f.watermarks[category], nil
}

func (f *fakeStore) SetWatermark(_ context.Context, _ chain.Chain, category chain.Category, blockNumber uint64) error {
	if blockNumber > f.watermarks[category] {
		f.watermarks[category] = blockNumber
	}
	return nil
}

func (f *fakeStore) GetPools(context.Context, chain.Chain, []string) ([]*models.Pool, error) {
	return f.pools, nil
}

func (f *fakeStore) EnsureUsers(_ context.Context, users []*models.User) error {
	f.users = append(f.users, users...)
	return nil
}

func (f *fakeStore) UpsertPoolShareBalances(_ context.Context, balances []*models.PoolShareBalance) error {
	f.upserted = append(f.upserted, balances...)
	return nil
}

func (f *fakeStore) DeletePoolShareBalances(_ context.Context, _ chain.Chain, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func share(pool, token, user, balance string) *subgraph.PoolShare {
	s := &subgraph.PoolShare{Balance: balance}
	s.ID = token + "-" + user
	s.UserAddress.ID = user
	s.PoolID.ID = pool
	s.PoolID.Address = token
	return s
}

func TestSubgraphSyncPrunesZeroBalances(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{
		indexedBlock: 1000,
		shares: []*subgraph.PoolShare{
			share("pool1", "0xaaa", "0x111", "5.5"),
			share("pool1", "0xaaa", "0x222", "0"),
		},
	}
	rpc := &fakeChain{head: 1010}

	r := NewReconciler(zap.NewNop(), store, source, rpc, testCfg)
	n, err := r.SyncFromSubgraph(context.Background(), chain.CategoryBptBalances)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, store.upserted, 1)
	assert.Equal(t, "0x111", store.upserted[0].UserAddress)
	assert.Equal(t, []string{models.BalanceID("0xaaa", "0x222")}, store.deleted)
	require.Len(t, store.users, 1)
	assert.Equal(t, "0x111", store.users[0].Address)
}

func TestSubgraphSyncRereadsReorgMargin(t *testing.T) {
	store := newFakeStore()
	store.watermarks[chain.CategoryBptBalances] = 500
	source := &fakeSource{indexedBlock: 1000}
	rpc := &fakeChain{head: 1000}

	r := NewReconciler(zap.NewNop(), store, source, rpc, testCfg)
	_, err := r.SyncFromSubgraph(context.Background(), chain.CategoryBptBalances)
	require.NoError(t, err)

	assert.Equal(t, uint64(490), source.gotFilter.BlockGTE)
}

func TestSubgraphSyncFailsLoudlyWhenLagging(t *testing.T) {
	store := newFakeStore()
	source := &fakeSource{indexedBlock: 900}
	rpc := &fakeChain{head: 1000}

	r := NewReconciler(zap.NewNop(), store, source, rpc, testCfg)
	_, err := r.SyncFromSubgraph(context.Background(), chain.CategoryBptBalances)
	require.ErrorIs(t, err, ErrSubgraphLagging)

	// Nothing persisted, watermark untouched.
	assert.Empty(t, store.upserted)
	assert.Zero(t, store.watermarks[chain.CategoryBptBalances])
}

func TestWatermarkAdvancesToIndexedBlock(t *testing.T) {
	store := newFakeStore()
	store.watermarks[chain.CategoryBptBalances] = 400
	source := &fakeSource{
		indexedBlock: 980,
		shares:       []*subgraph.PoolShare{share("pool1", "0xaaa", "0x111", "1")},
	}
	rpc := &fakeChain{head: 1000}

	r := NewReconciler(zap.NewNop(), store, source, rpc, testCfg)
	_, err := r.SyncFromSubgraph(context.Background(), chain.CategoryBptBalances)
	require.NoError(t, err)

	assert.Equal(t, uint64(980), store.watermarks[chain.CategoryBptBalances])
}

func TestBalancesToDBRejectsMixedChains(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(zap.NewNop(), store, &fakeSource{}, &fakeChain{}, testCfg)

	_, err := r.balancesToDB(context.Background(), chain.CategoryBptBalances, []*models.PoolShareBalance{
		{ID: "a", Chain: chain.Fantom, BalanceNum: 1},
		{ID: "b", Chain: chain.Mainnet, BalanceNum: 1},
	}, 100)
	require.Error(t, err)
	assert.Empty(t, store.upserted)
}

func TestRPCSyncRequiresPriorWatermark(t *testing.T) {
	store := newFakeStore()
	r := NewReconciler(zap.NewNop(), store, &fakeSource{}, &fakeChain{head: 1000}, testCfg)

	_, err := r.SyncFromRPC(context.Background(), chain.CategoryBptBalances)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watermark")
}

func TestRPCSyncReadsAuthoritativeBalances(t *testing.T) {
	token := common.HexToAddress("0xaaa0000000000000000000000000000000000001")
	alice := common.HexToAddress("0x1110000000000000000000000000000000000001")
	bob := common.HexToAddress("0x2220000000000000000000000000000000000002")

	store := newFakeStore()
	store.watermarks[chain.CategoryBptBalances] = 100
	store.pools = []*models.Pool{{
		ID:                "pool1",
		Chain:             chain.Fantom,
		ShareTokenAddress: token.Hex(),
	}}

	// Alice sent her whole balance to Bob; the multicall reports zero for her
	// and 3e18 for him.
	rpc := &fakeChain{
		head: 50000,
		transfers: []evm.Transfer{{
			Token: token,
			From:  alice,
			To:    bob,
			Value: big.NewInt(3),
			Block: 120,
		}},
		balances: map[common.Address]map[common.Address]*big.Int{
			token: {
				alice: big.NewInt(0),
				bob:   new(big.Int).Mul(big.NewInt(3), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)),
			},
		},
	}

	r := NewReconciler(zap.NewNop(), store, &fakeSource{}, rpc, testCfg)
	n, err := r.SyncFromRPC(context.Background(), chain.CategoryBptBalances)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Window starts behind the watermark by the reorg margin and is capped at
	// rpcWindowFactor chunks of the max log range.
	assert.Equal(t, uint64(90), rpc.gotFrom)
	assert.Equal(t, uint64(90+rpcWindowFactor*testCfg.MaxLogBlockRange), rpc.gotTo)

	require.Len(t, store.upserted, 1)
	assert.Equal(t, 3.0, store.upserted[0].BalanceNum)
	assert.Equal(t, "pool1", store.upserted[0].PoolID)
	require.Len(t, store.deleted, 1)

	assert.Equal(t, rpc.gotTo, store.watermarks[chain.CategoryBptBalances])
}

func TestRPCSyncSkipsMintBurnCounterparty(t *testing.T) {
	token := common.HexToAddress("0xaaa0000000000000000000000000000000000001")
	alice := common.HexToAddress("0x1110000000000000000000000000000000000001")

	store := newFakeStore()
	store.watermarks[chain.CategoryBptBalances] = 100
	store.pools = []*models.Pool{{ID: "pool1", Chain: chain.Fantom, ShareTokenAddress: token.Hex()}}

	rpc := &fakeChain{
		head: 200,
		transfers: []evm.Transfer{{
			Token: token,
			From:  common.Address{},
			To:    alice,
			Value: big.NewInt(1),
			Block: 150,
		}},
		balances: map[common.Address]map[common.Address]*big.Int{
			token: {alice: big.NewInt(1)},
		},
	}

	r := NewReconciler(zap.NewNop(), store, &fakeSource{}, rpc, testCfg)
	_, err := r.SyncFromRPC(context.Background(), chain.CategoryBptBalances)
	require.NoError(t, err)

	// Only Alice was resolved; the zero address never appears.
	require.Len(t, store.upserted, 1)
	assert.Empty(t, store.deleted)
}
