package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
	"github.com/beetslabs/poolsync/pkg/pricing"
)

// Normalizer runs the snapshot transformation pipeline: fill missing daily
// timestamps, apply USD pricing to raw token-denominated values, then
// recompute daily deltas from cumulative totals.
type Normalizer struct {
	logger *zap.Logger
	prices pricing.Fetcher
	now    func() time.Time
}

// NewNormalizer builds a Normalizer over a price fetcher. Wrap the fetcher in
// pricing.NewCachedFetcher to bound redundant current-price lookups under
// fan-out.
func NewNormalizer(logger *zap.Logger, prices pricing.Fetcher) *Normalizer {
	return &Normalizer{
		logger: logger,
		prices: prices,
		now:    time.Now,
	}
}

// Run applies the full pipeline. tokensByPool must contain the token slots of
// every pool appearing in snapshots; a pool with snapshots but no tokens is a
// data-integrity violation and fails the whole batch.
func (n *Normalizer) Run(ctx context.Context, c chain.Chain, snapshots []*models.PoolSnapshot, tokensByPool map[string][]*models.PoolToken) ([]*models.PoolSnapshot, error) {
	out := FillMissingTimestamps(snapshots)
	if err := n.ApplyUSDValues(ctx, c, out, tokensByPool); err != nil {
		return nil, err
	}
	ComputeDailyValues(out)
	return out, nil
}

// FillMissingTimestamps makes every pool's snapshot sequence daily-dense over
// its [min, max] timestamp range by cloning the nearest preceding snapshot
// into each absent day slot. Already-dense input is returned unchanged.
func FillMissingTimestamps(snapshots []*models.PoolSnapshot) []*models.PoolSnapshot {
	groups, order := groupByPool(snapshots)

	needsFill := false
	for _, poolID := range order {
		g := groups[poolID]
		sortByTimestamp(g)
		span := (g[len(g)-1].Timestamp-g[0].Timestamp)/models.SecondsPerDay + 1
		distinct := int64(1)
		for k := 1; k < len(g); k++ {
			if g[k].Timestamp != g[k-1].Timestamp {
				distinct++
			}
		}
		if distinct != span {
			needsFill = true
		}
	}
	if !needsFill {
		return snapshots
	}

	var out []*models.PoolSnapshot
	for _, poolID := range order {
		g := groups[poolID]
		prev := g[0]
		i := 0
		for ts := g[0].Timestamp; ts <= g[len(g)-1].Timestamp; ts += models.SecondsPerDay {
			if i < len(g) && g[i].Timestamp == ts {
				// A timestamp can appear more than once when the source emits
				// duplicate rows for one day; keep them all so later days are
				// not dropped.
				for i < len(g) && g[i].Timestamp == ts {
					prev = g[i]
					out = append(out, g[i])
					i++
				}
				continue
			}
			clone := prev.Clone()
			clone.Timestamp = ts
			clone.ID = models.SnapshotID(poolID, ts)
			out = append(out, clone)
			prev = clone
		}
	}
	return out
}

// ApplyUSDValues prices each snapshot's raw token arrays in USD, in place.
//
// Volume24h is derived from the first token with a known price; fees, surplus
// and liquidity are summed across all priced tokens, skipping tokens without a
// price. Cumulative totals carry forward from the immediately preceding
// snapshot in the batch when one exists.
func (n *Normalizer) ApplyUSDValues(ctx context.Context, c chain.Chain, snapshots []*models.PoolSnapshot, tokensByPool map[string][]*models.PoolToken) error {
	groups, order := groupByPool(snapshots)
	today := n.now().UTC().Truncate(24*time.Hour).Unix()

	for _, poolID := range order {
		tokens := tokensByPool[poolID]
		if len(tokens) == 0 {
			return fmt.Errorf("no tokens found for pool %s on %s", poolID, c)
		}
		sort.Slice(tokens, func(i, j int) bool { return tokens[i].Index < tokens[j].Index })

		g := groups[poolID]
		sortByTimestamp(g)

		var prev *models.PoolSnapshot
		for _, s := range g {
			prices, err := n.pricesFor(ctx, c, s.Timestamp, today)
			if err != nil {
				return fmt.Errorf("prices for pool %s at %d: %w", poolID, s.Timestamp, err)
			}

			n.priceSnapshot(s, tokens, prices)

			if prev != nil {
				s.TotalSwapVolume = prev.TotalSwapVolume + s.Volume24h
				s.TotalSwapFee = prev.TotalSwapFee + s.Fees24h
				s.TotalSurplus = prev.TotalSurplus + s.Surplus24h
			} else {
				// First snapshot of the batch: keep the raw cumulative if the
				// source provided one, else seed from the fresh delta.
				if s.TotalSwapVolume == 0 {
					s.TotalSwapVolume = s.Volume24h
				}
				if s.TotalSwapFee == 0 {
					s.TotalSwapFee = s.Fees24h
				}
				if s.TotalSurplus == 0 {
					s.TotalSurplus = s.Surplus24h
				}
			}
			prev = s
		}
	}
	return nil
}

func (n *Normalizer) pricesFor(ctx context.Context, c chain.Chain, timestamp, today int64) (map[string]float64, error) {
	if timestamp >= today {
		return n.prices.CurrentPrices(ctx, c)
	}
	return n.prices.PricesAt(ctx, c, timestamp)
}

func (n *Normalizer) priceSnapshot(s *models.PoolSnapshot, tokens []*models.PoolToken, prices map[string]float64) {
	var fees, surplus, liquidity float64
	volume := 0.0
	volumePriced := false

	for i, token := range tokens {
		price, ok := prices[token.Address]
		if !ok {
			// Unpriced tokens are skipped, not zeroed. Multi-token pools with
			// partial price coverage undercount here.
			continue
		}

		if !volumePriced {
			volume = parseDecimal(s.DailyVolumes, i) * price
			volumePriced = true
		}
		fees += parseDecimal(s.DailySwapFees, i) * price
		surplus += parseDecimal(s.DailySurpluses, i) * price
		liquidity += parseDecimal(s.Amounts, i) * price
	}

	s.Volume24h = volume
	s.Fees24h = fees
	s.Surplus24h = surplus
	s.TotalLiquidity = liquidity

	if s.TotalSharesNum > 0 {
		s.SharePrice = s.TotalLiquidity / s.TotalSharesNum
	} else {
		s.SharePrice = 0
	}
}

// ComputeDailyValues recomputes the 24h deltas per pool from differences of
// cumulative totals, clamped at zero to tolerate source data rewinds. This
// supersedes the per-token estimates from ApplyUSDValues. A snapshot with no
// predecessor takes its cumulative total as the bootstrap delta.
func ComputeDailyValues(snapshots []*models.PoolSnapshot) {
	groups, order := groupByPool(snapshots)
	for _, poolID := range order {
		g := groups[poolID]
		sortByTimestamp(g)

		for i, s := range g {
			if i == 0 {
				s.Volume24h = s.TotalSwapVolume
				s.Fees24h = s.TotalSwapFee
				s.Surplus24h = s.TotalSurplus
				continue
			}
			prev := g[i-1]
			s.Volume24h = clampZero(s.TotalSwapVolume - prev.TotalSwapVolume)
			s.Fees24h = clampZero(s.TotalSwapFee - prev.TotalSwapFee)
			s.Surplus24h = clampZero(s.TotalSurplus - prev.TotalSurplus)
		}
	}
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// parseDecimal reads the i-th element of a raw string-decimal array, treating
// missing slots and malformed values as zero.
func parseDecimal(values []string, i int) float64 {
	if i >= len(values) {
		return 0
	}
	d, err := decimal.NewFromString(values[i])
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func groupByPool(snapshots []*models.PoolSnapshot) (map[string][]*models.PoolSnapshot, []string) {
	groups := make(map[string][]*models.PoolSnapshot)
	var order []string
	for _, s := range snapshots {
		if _, seen := groups[s.PoolID]; !seen {
			order = append(order, s.PoolID)
		}
		groups[s.PoolID] = append(groups[s.PoolID], s)
	}
	return groups, order
}

func sortByTimestamp(snapshots []*models.PoolSnapshot) {
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Timestamp < snapshots[j].Timestamp })
}
