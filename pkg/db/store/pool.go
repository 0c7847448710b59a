package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

// PoolIDsForChain returns all pool ids known for a chain.
func (db *DB) PoolIDsForChain(ctx context.Context, c chain.Chain) ([]string, error) {
	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `SELECT id FROM pools WHERE chain = $1`, string(c))
	if err != nil {
		return nil, fmt.Errorf("pool ids for chain: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FilterExistingPoolIDs narrows a candidate id set to those present in the
// store for the chain.
func (db *DB) FilterExistingPoolIDs(ctx context.Context, c chain.Chain, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx,
		`SELECT id FROM pools WHERE chain = $1 AND id = ANY($2)`,
		string(c), candidates,
	)
	if err != nil {
		return nil, fmt.Errorf("filter existing pool ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan pool id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPools loads pool identity rows for the given ids (all pools when ids is
// empty).
func (db *DB) GetPools(ctx context.Context, c chain.Chain, ids []string) ([]*models.Pool, error) {
	exec := db.GetExecutor(ctx)

	query := `SELECT id, chain, address, type, share_token_address, name, symbol, wrapped_index FROM pools WHERE chain = $1`
	args := []any{string(c)}
	if len(ids) > 0 {
		query += ` AND id = ANY($2)`
		args = append(args, ids)
	}

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get pools: %w", err)
	}
	defer rows.Close()

	var out []*models.Pool
	for rows.Next() {
		p := &models.Pool{}
		var chainStr, typeStr string
		if err := rows.Scan(&p.ID, &chainStr, &p.Address, &typeStr, &p.ShareTokenAddress, &p.Name, &p.Symbol, &p.WrappedIndex); err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		p.Chain = chain.Chain(chainStr)
		p.Type = models.PoolType(typeStr)
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPools writes pool identity rows.
func (db *DB) UpsertPools(ctx context.Context, pools []*models.Pool) error {
	if len(pools) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(`
			INSERT INTO pools (id, chain, address, type, share_token_address, name, symbol, wrapped_index)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id, chain) DO UPDATE SET
				address = EXCLUDED.address,
				type = EXCLUDED.type,
				share_token_address = EXCLUDED.share_token_address,
				name = EXCLUDED.name,
				symbol = EXCLUDED.symbol,
				wrapped_index = EXCLUDED.wrapped_index
		`, p.ID, string(p.Chain), p.Address, string(p.Type), p.ShareTokenAddress, p.Name, p.Symbol, p.WrappedIndex)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("upsert pools: %w", err)
	}
	return nil
}

// GetPoolTokens loads token slots for the given pools, ordered by pool and
// on-chain index.
func (db *DB) GetPoolTokens(ctx context.Context, c chain.Chain, poolIDs []string) ([]*models.PoolToken, error) {
	if len(poolIDs) == 0 {
		return nil, nil
	}

	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `
		SELECT pool_id, chain, address, index, decimals, balance, price_rate, weight, wrapped_token_rate
		FROM pool_tokens
		WHERE chain = $1 AND pool_id = ANY($2)
		ORDER BY pool_id, index
	`, string(c), poolIDs)
	if err != nil {
		return nil, fmt.Errorf("get pool tokens: %w", err)
	}
	defer rows.Close()

	var out []*models.PoolToken
	for rows.Next() {
		t := &models.PoolToken{}
		var chainStr string
		if err := rows.Scan(&t.PoolID, &chainStr, &t.Address, &t.Index, &t.Decimals, &t.Balance, &t.PriceRate, &t.Weight, &t.WrappedTokenRate); err != nil {
			return nil, fmt.Errorf("scan pool token: %w", err)
		}
		t.Chain = chain.Chain(chainStr)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetPoolDynamicData loads the mutable state rows for the given pools.
func (db *DB) GetPoolDynamicData(ctx context.Context, c chain.Chain, poolIDs []string) ([]*models.PoolDynamicData, error) {
	if len(poolIDs) == 0 {
		return nil, nil
	}

	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `
		SELECT pool_id, chain, swap_fee, total_shares, total_shares_num, swap_enabled,
			protocol_yield_fee, amp, lower_target, upper_target, block_number
		FROM pool_dynamic_data
		WHERE chain = $1 AND pool_id = ANY($2)
	`, string(c), poolIDs)
	if err != nil {
		return nil, fmt.Errorf("get pool dynamic data: %w", err)
	}
	defer rows.Close()

	var out []*models.PoolDynamicData
	for rows.Next() {
		d := &models.PoolDynamicData{}
		var chainStr string
		if err := rows.Scan(&d.PoolID, &chainStr, &d.SwapFee, &d.TotalShares, &d.TotalSharesNum, &d.SwapEnabled,
			&d.ProtocolYieldFee, &d.Amp, &d.LowerTarget, &d.UpperTarget, &d.BlockNumber); err != nil {
			return nil, fmt.Errorf("scan pool dynamic data: %w", err)
		}
		d.Chain = chain.Chain(chainStr)
		out = append(out, d)
	}
	return out, rows.Err()
}

// UpsertPoolDynamicData writes dynamic data rows; callers only enqueue rows
// that change-detection flagged.
func (db *DB) UpsertPoolDynamicData(ctx context.Context, data []*models.PoolDynamicData) error {
	if len(data) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, d := range data {
		batch.Queue(`
			INSERT INTO pool_dynamic_data (
				pool_id, chain, swap_fee, total_shares, total_shares_num, swap_enabled,
				protocol_yield_fee, amp, lower_target, upper_target, block_number
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (pool_id, chain) DO UPDATE SET
				swap_fee = EXCLUDED.swap_fee,
				total_shares = EXCLUDED.total_shares,
				total_shares_num = EXCLUDED.total_shares_num,
				swap_enabled = EXCLUDED.swap_enabled,
				protocol_yield_fee = EXCLUDED.protocol_yield_fee,
				amp = EXCLUDED.amp,
				lower_target = EXCLUDED.lower_target,
				upper_target = EXCLUDED.upper_target,
				block_number = EXCLUDED.block_number
		`, d.PoolID, string(d.Chain), d.SwapFee, d.TotalShares, d.TotalSharesNum, d.SwapEnabled,
			d.ProtocolYieldFee, d.Amp, d.LowerTarget, d.UpperTarget, d.BlockNumber)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("upsert pool dynamic data: %w", err)
	}
	return nil
}

// UpdatePoolTokens writes token slot rows; callers only enqueue changed rows.
func (db *DB) UpdatePoolTokens(ctx context.Context, tokens []*models.PoolToken) error {
	if len(tokens) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, t := range tokens {
		batch.Queue(`
			INSERT INTO pool_tokens (
				pool_id, chain, address, index, decimals, balance, price_rate, weight, wrapped_token_rate
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (pool_id, chain, address) DO UPDATE SET
				index = EXCLUDED.index,
				decimals = EXCLUDED.decimals,
				balance = EXCLUDED.balance,
				price_rate = EXCLUDED.price_rate,
				weight = EXCLUDED.weight,
				wrapped_token_rate = EXCLUDED.wrapped_token_rate
		`, t.PoolID, string(t.Chain), t.Address, t.Index, t.Decimals, t.Balance, t.PriceRate, t.Weight, t.WrappedTokenRate)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("update pool tokens: %w", err)
	}
	return nil
}
