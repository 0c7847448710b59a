package models

import (
	"fmt"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// SecondsPerDay is the snapshot bucket width. Snapshot timestamps are always
// UTC-midnight aligned.
const SecondsPerDay int64 = 86400

// PoolSnapshot is a day-bucketed time-series record of a pool's cumulative and
// derived financial metrics. Exactly one snapshot exists per (poolID, timestamp)
// at day granularity; within a pool's range the timestamps form a contiguous
// daily sequence (gaps are filled by carry-forward cloning).
//
// TotalSwapVolume/TotalSwapFee/TotalSurplus are monotonically non-decreasing
// cumulative counters. Volume24h/Fees24h/Surplus24h are the non-negative deltas
// between a snapshot and its immediate predecessor, clamped at zero to tolerate
// source data rewinds.
type PoolSnapshot struct {
	ID        string      `json:"id"`
	PoolID    string      `json:"poolId"`
	Chain     chain.Chain `json:"chain"`
	Timestamp int64       `json:"timestamp"`

	// Per-token raw arrays, ordered by on-chain token index. Values are string
	// decimals in token units.
	DailyVolumes   []string `json:"dailyVolumes"`
	DailySwapFees  []string `json:"dailySwapFees"`
	DailySurpluses []string `json:"dailySurpluses"`
	Amounts        []string `json:"amounts"`

	TotalSharesNum  float64 `json:"totalSharesNum"`
	TotalSwapVolume float64 `json:"totalSwapVolume"`
	TotalSwapFee    float64 `json:"totalSwapFee"`
	TotalSurplus    float64 `json:"totalSurplus"`

	Volume24h  float64 `json:"volume24h"`
	Fees24h    float64 `json:"fees24h"`
	Surplus24h float64 `json:"surplus24h"`

	TotalLiquidity float64 `json:"totalLiquidity"`
	SharePrice     float64 `json:"sharePrice"`
}

// SnapshotID derives the deterministic snapshot id for a pool and day-aligned
// timestamp.
func SnapshotID(poolID string, timestamp int64) string {
	return fmt.Sprintf("%s-%d", poolID, timestamp)
}

// Clone returns a deep copy of the snapshot, used by carry-forward fill.
func (s *PoolSnapshot) Clone() *PoolSnapshot {
	c := *s
	c.DailyVolumes = append([]string(nil), s.DailyVolumes...)
	c.DailySwapFees = append([]string(nil), s.DailySwapFees...)
	c.DailySurpluses = append([]string(nil), s.DailySurpluses...)
	c.Amounts = append([]string(nil), s.Amounts...)
	return &c
}
