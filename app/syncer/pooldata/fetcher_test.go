package pooldata

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/evm"
)

type recordingClient struct {
	calls []evm.Call
	err   error
}

func (r *recordingClient) BlockNumber(context.Context) (uint64, error) { return 100, nil }

func (r *recordingClient) Multicall(_ context.Context, calls []evm.Call) ([]evm.Result, error) {
	r.calls = calls
	return nil, r.err
}

func intPtr(i int) *int { return &i }

func word(v uint64) []byte {
	b := make([]byte, 32)
	new(big.Int).SetUint64(v).FillBytes(b)
	return b
}

func words(vs ...uint64) []byte {
	var b []byte
	for _, v := range vs {
		b = append(b, word(v)...)
	}
	return b
}

func success(data []byte) evm.Result { return evm.Result{Success: true, ReturnData: data} }

// emptyPoolTokens encodes a getPoolTokens return holding no token slots.
func emptyPoolTokens() []byte { return words(0x60, 0x80, 0, 0, 0) }

func stableLayout(pool *models.Pool) *poolCallLayout {
	return &poolCallLayout{
		pool:       pool,
		poolTokens: 0, swapFee: 1, totalSupply: 2, swapEnabled: 3, rate: 4,
		weights: -1, amp: 5, targets: -1,
		wrappedRates: map[string]int{},
	}
}

func stableResults(ampReturn []byte) []evm.Result {
	return []evm.Result{
		success(emptyPoolTokens()),
		success(word(3_000_000_000_000_000)),
		success(word(0)),
		success(word(1)),
		success(word(0)),
		success(ampReturn),
	}
}

func TestDecodePoolScalesAmpByPrecision(t *testing.T) {
	f := NewVaultFetcher(zap.NewNop(), nil, "0xvault")
	pool := &models.Pool{ID: "s1", Chain: chain.Fantom, Type: models.PoolTypeStable}

	data, err := f.decodePool(stableLayout(pool), stableResults(words(200_000, 0, 1000)), nil, 100)
	require.NoError(t, err)
	require.NotNil(t, data.Amp)
	assert.Equal(t, "200", *data.Amp)
}

func TestDecodePoolRejectsZeroAmpPrecision(t *testing.T) {
	f := NewVaultFetcher(zap.NewNop(), nil, "0xvault")
	pool := &models.Pool{ID: "s1", Chain: chain.Fantom, Type: models.PoolTypeStable}

	// A successful call reporting precision 0 must fail this pool, not crash
	// the pass.
	data, err := f.decodePool(stableLayout(pool), stableResults(words(100, 0, 0)), nil, 100)
	require.Error(t, err)
	assert.Nil(t, data)
	assert.Contains(t, err.Error(), "amp precision")
}

func TestFetchQueuesWrappedRateForUnseededLinearToken(t *testing.T) {
	rpc := &recordingClient{err: errors.New("halt")}
	f := NewVaultFetcher(zap.NewNop(), rpc, "0xvault")

	pool := &models.Pool{
		ID: "l1", Chain: chain.Fantom, Address: "0xpool", Type: models.PoolTypeLinear,
		ShareTokenAddress: "0xbpt", WrappedIndex: intPtr(1),
	}
	// The wrapped slot has no persisted rate yet; the call must still go out.
	tokens := map[string][]*models.PoolToken{"l1": {
		{PoolID: "l1", Address: "0xmain", Index: 0},
		{PoolID: "l1", Address: "0xwrapped", Index: 1},
		{PoolID: "l1", Address: "0xbpt", Index: 2},
	}}

	_, err := f.FetchPoolData(context.Background(), chain.Config{Chain: chain.Fantom}, []*models.Pool{pool}, tokens)
	require.Error(t, err)

	// getPoolTokens, swapFee, totalSupply, swapEnabled, rate, targets, wrapped rate.
	assert.Len(t, rpc.calls, 7)
}

func TestLinearWrappedTokenSelection(t *testing.T) {
	pool := &models.Pool{
		ID: "l1", Type: models.PoolTypeLinear,
		ShareTokenAddress: "0xbpt", WrappedIndex: intPtr(1),
	}
	tokens := []*models.PoolToken{
		{Address: "0xmain", Index: 0},
		{Address: "0xwrapped", Index: 1},
		{Address: "0xbpt", Index: 2},
	}

	picked := linearWrappedToken(pool, tokens)
	require.NotNil(t, picked)
	assert.Equal(t, "0xwrapped", picked.Address)

	// Legacy rows without a wrapped index fall back to the seeded slot.
	pool.WrappedIndex = nil
	assert.Nil(t, linearWrappedToken(pool, tokens))
	tokens[1].WrappedTokenRate = strPtr("1.1")
	picked = linearWrappedToken(pool, tokens)
	require.NotNil(t, picked)
	assert.Equal(t, "0xwrapped", picked.Address)
}
