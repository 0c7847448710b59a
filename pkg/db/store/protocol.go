package store

import (
	"context"
	"fmt"

	"github.com/beetslabs/poolsync/pkg/chain"
)

// ProtocolMetrics aggregates headline figures for one chain from the latest
// snapshot per pool.
type ProtocolMetrics struct {
	Chain          chain.Chain `json:"chain"`
	TotalLiquidity float64     `json:"totalLiquidity"`
	SwapVolume24h  float64     `json:"swapVolume24h"`
	SwapFee24h     float64     `json:"swapFee24h"`
	PoolCount      int         `json:"poolCount"`
}

// GetProtocolMetrics computes chain-wide TVL and 24h volume/fees from each
// pool's most recent snapshot.
func (db *DB) GetProtocolMetrics(ctx context.Context, c chain.Chain) (*ProtocolMetrics, error) {
	exec := db.GetExecutor(ctx)

	m := &ProtocolMetrics{Chain: c}
	err := exec.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(total_liquidity), 0),
			COALESCE(SUM(volume_24h), 0),
			COALESCE(SUM(fees_24h), 0),
			COUNT(*)
		FROM (
			SELECT total_liquidity, volume_24h, fees_24h,
				ROW_NUMBER() OVER (PARTITION BY pool_id ORDER BY timestamp DESC) AS rn
			FROM pool_snapshots
			WHERE chain = $1
		) ranked
		WHERE rn = 1
	`, string(c)).Scan(&m.TotalLiquidity, &m.SwapVolume24h, &m.SwapFee24h, &m.PoolCount)
	if err != nil {
		return nil, fmt.Errorf("protocol metrics %s: %w", c, err)
	}

	return m, nil
}
