package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

type fakePrices struct {
	historical map[string]float64
	current    map[string]float64
}

func (f *fakePrices) PricesAt(_ context.Context, _ chain.Chain, _ int64) (map[string]float64, error) {
	return f.historical, nil
}

func (f *fakePrices) CurrentPrices(_ context.Context, _ chain.Chain) (map[string]float64, error) {
	return f.current, nil
}

func day(n int64) int64 { return n * models.SecondsPerDay }

func snap(poolID string, ts int64) *models.PoolSnapshot {
	return &models.PoolSnapshot{
		ID:        models.SnapshotID(poolID, ts),
		PoolID:    poolID,
		Chain:     chain.Fantom,
		Timestamp: ts,
	}
}

func token(poolID, addr string, index int) *models.PoolToken {
	return &models.PoolToken{PoolID: poolID, Chain: chain.Fantom, Address: addr, Index: index}
}

func TestFillMissingTimestampsDensity(t *testing.T) {
	in := []*models.PoolSnapshot{snap("poolA", day(1)), snap("poolA", day(4))}
	in[0].Amounts = []string{"5"}

	out := FillMissingTimestamps(in)

	require.Len(t, out, 4)
	for i, s := range out {
		assert.Equal(t, day(int64(i+1)), s.Timestamp)
		assert.Equal(t, models.SnapshotID("poolA", s.Timestamp), s.ID)
	}
	// Synthetic entries carry the preceding snapshot's non-temporal fields.
	assert.Equal(t, []string{"5"}, out[1].Amounts)
	assert.Equal(t, []string{"5"}, out[2].Amounts)
}

func TestFillMissingTimestampsIdempotent(t *testing.T) {
	in := []*models.PoolSnapshot{snap("poolA", day(1)), snap("poolA", day(3)), snap("poolB", day(2))}

	once := FillMissingTimestamps(in)
	twice := FillMissingTimestamps(once)

	// Dense input comes back unchanged, no synthetic entries allocated.
	require.Equal(t, len(once), len(twice))
	for i := range once {
		assert.Same(t, once[i], twice[i])
	}
}

func TestFillMissingTimestampsEdgeGroups(t *testing.T) {
	single := snap("lonely", day(7))
	out := FillMissingTimestamps([]*models.PoolSnapshot{single})
	require.Len(t, out, 1)
	assert.Same(t, single, out[0])

	assert.Empty(t, FillMissingTimestamps(nil))
}

func TestFillMissingTimestampsDuplicateDay(t *testing.T) {
	// Two source rows sharing one day must not swallow the records behind them.
	dup := snap("poolA", day(1))
	dup.ID = "poolA-dup"
	in := []*models.PoolSnapshot{snap("poolA", day(1)), dup, snap("poolA", day(3))}

	out := FillMissingTimestamps(in)

	require.Len(t, out, 4)
	assert.Equal(t, day(1), out[0].Timestamp)
	assert.Equal(t, day(1), out[1].Timestamp)
	assert.Equal(t, day(2), out[2].Timestamp)
	assert.Equal(t, day(3), out[3].Timestamp)
	assert.Same(t, in[2], out[3])
}

func TestComputeDailyValuesDeltas(t *testing.T) {
	snaps := []*models.PoolSnapshot{snap("poolA", day(1)), snap("poolA", day(2)), snap("poolA", day(3))}
	snaps[0].TotalSwapVolume = 100
	snaps[1].TotalSwapVolume = 300
	snaps[2].TotalSwapVolume = 600

	ComputeDailyValues(snaps)

	assert.Equal(t, 100.0, snaps[0].Volume24h)
	assert.Equal(t, 200.0, snaps[1].Volume24h)
	assert.Equal(t, 300.0, snaps[2].Volume24h)
}

func TestComputeDailyValuesClampsRegressions(t *testing.T) {
	snaps := []*models.PoolSnapshot{snap("poolA", day(1)), snap("poolA", day(2))}
	snaps[0].TotalSwapVolume = 100
	snaps[0].TotalSwapFee = 50
	snaps[1].TotalSwapVolume = 40
	snaps[1].TotalSwapFee = 10

	ComputeDailyValues(snaps)

	assert.Zero(t, snaps[1].Volume24h)
	assert.Zero(t, snaps[1].Fees24h)
}

func TestApplyUSDValuesSharePriceZeroShares(t *testing.T) {
	n := NewNormalizer(zap.NewNop(), &fakePrices{historical: map[string]float64{"0xt1": 2}})
	n.now = func() time.Time { return time.Unix(day(100), 0) }

	s := snap("poolA", day(1))
	s.Amounts = []string{"10"}
	s.TotalSharesNum = 0

	err := n.ApplyUSDValues(context.Background(), chain.Fantom, []*models.PoolSnapshot{s},
		map[string][]*models.PoolToken{"poolA": {token("poolA", "0xt1", 0)}})
	require.NoError(t, err)

	assert.Equal(t, 20.0, s.TotalLiquidity)
	assert.Zero(t, s.SharePrice)
}

func TestApplyUSDValuesMissingTokensFatal(t *testing.T) {
	n := NewNormalizer(zap.NewNop(), &fakePrices{})

	err := n.ApplyUSDValues(context.Background(), chain.Fantom,
		[]*models.PoolSnapshot{snap("poolA", day(1))},
		map[string][]*models.PoolToken{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poolA")
}

func TestApplyUSDValuesSkipsUnpricedTokens(t *testing.T) {
	// Only the second token has a price: volume comes from it (first priced
	// token), liquidity counts it alone.
	n := NewNormalizer(zap.NewNop(), &fakePrices{historical: map[string]float64{"0xt2": 3}})
	n.now = func() time.Time { return time.Unix(day(100), 0) }

	s := snap("poolA", day(1))
	s.DailyVolumes = []string{"100", "200"}
	s.Amounts = []string{"10", "20"}
	s.TotalSharesNum = 100

	err := n.ApplyUSDValues(context.Background(), chain.Fantom, []*models.PoolSnapshot{s},
		map[string][]*models.PoolToken{"poolA": {
			token("poolA", "0xt1", 0),
			token("poolA", "0xt2", 1),
		}})
	require.NoError(t, err)

	assert.Equal(t, 600.0, s.Volume24h)
	assert.Equal(t, 60.0, s.TotalLiquidity)
}

func TestNormalizerWorkedExample(t *testing.T) {
	prices := &fakePrices{historical: map[string]float64{"0xt1": 2, "0xt2": 3}}
	n := NewNormalizer(zap.NewNop(), prices)
	n.now = func() time.Time { return time.Unix(day(100), 0) }

	mk := func(ts int64) *models.PoolSnapshot {
		s := snap("pool1", ts)
		s.DailyVolumes = []string{"100", "200"}
		s.DailySwapFees = []string{"10", "20"}
		s.DailySurpluses = []string{"1", "2"}
		s.Amounts = []string{"10", "20"}
		s.TotalSharesNum = 100
		return s
	}

	out, err := n.Run(context.Background(), chain.Fantom,
		[]*models.PoolSnapshot{mk(day(1)), mk(day(2))},
		map[string][]*models.PoolToken{"pool1": {
			token("pool1", "0xt1", 0),
			token("pool1", "0xt2", 1),
		}})
	require.NoError(t, err)
	require.Len(t, out, 2)

	for _, s := range out {
		// Volume is priced from the first token with a known price only.
		assert.Equal(t, 200.0, s.Volume24h, "ts %d", s.Timestamp)
		// Fees and surplus sum across all priced tokens.
		assert.Equal(t, 80.0, s.Fees24h, "ts %d", s.Timestamp)
		assert.Equal(t, 8.0, s.Surplus24h, "ts %d", s.Timestamp)
		assert.Equal(t, 80.0, s.TotalLiquidity, "ts %d", s.Timestamp)
		assert.Equal(t, 0.8, s.SharePrice, "ts %d", s.Timestamp)
	}

	// Cumulatives carry forward within the batch.
	assert.Equal(t, 200.0, out[0].TotalSwapVolume)
	assert.Equal(t, 400.0, out[1].TotalSwapVolume)
}
