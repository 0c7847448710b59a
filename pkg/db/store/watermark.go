package store

import (
	"context"
	"fmt"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/postgres"
)

// GetWatermark returns the last synced block for a (chain, category), or 0 if
// the pair has never completed a sync.
func (db *DB) GetWatermark(ctx context.Context, c chain.Chain, category chain.Category) (uint64, error) {
	exec := db.GetExecutor(ctx)

	var blockNumber uint64
	err := exec.QueryRow(ctx,
		`SELECT block_number FROM sync_watermarks WHERE category = $1 AND chain = $2`,
		string(category), string(c),
	).Scan(&blockNumber)
	if postgres.IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark %s/%s: %w", category, c, err)
	}

	return blockNumber, nil
}

// SetWatermark advances the watermark for a (chain, category). The update is
// monotonic: a block number lower than the persisted one is never written, so
// concurrent or replayed passes cannot regress the fetch window.
func (db *DB) SetWatermark(ctx context.Context, c chain.Chain, category chain.Category, blockNumber uint64) error {
	exec := db.GetExecutor(ctx)

	_, err := exec.Exec(ctx, `
		INSERT INTO sync_watermarks (category, chain, block_number)
		VALUES ($1, $2, $3)
		ON CONFLICT (category, chain) DO UPDATE SET
			block_number = GREATEST(sync_watermarks.block_number, EXCLUDED.block_number)
	`, string(category), string(c), blockNumber)
	if err != nil {
		return fmt.Errorf("set watermark %s/%s: %w", category, c, err)
	}

	return nil
}
