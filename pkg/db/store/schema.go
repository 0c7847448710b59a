package store

import "context"

func (db *DB) initWatermarks(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_watermarks (
			category TEXT NOT NULL,
			chain TEXT NOT NULL,
			block_number BIGINT NOT NULL,
			PRIMARY KEY (category, chain)
		)
	`)
}

func (db *DB) initPoolSnapshots(ctx context.Context) error {
	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_snapshots (
			id TEXT NOT NULL,
			chain TEXT NOT NULL,
			pool_id TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			daily_volumes TEXT[] NOT NULL DEFAULT '{}',
			daily_swap_fees TEXT[] NOT NULL DEFAULT '{}',
			daily_surpluses TEXT[] NOT NULL DEFAULT '{}',
			amounts TEXT[] NOT NULL DEFAULT '{}',
			total_shares_num DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_swap_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_swap_fee DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_surplus DOUBLE PRECISION NOT NULL DEFAULT 0,
			volume_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			fees_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			surplus_24h DOUBLE PRECISION NOT NULL DEFAULT 0,
			total_liquidity DOUBLE PRECISION NOT NULL DEFAULT 0,
			share_price DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (id, chain)
		)
	`); err != nil {
		return err
	}
	return db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pool_snapshots_pool_ts
			ON pool_snapshots (chain, pool_id, timestamp DESC)
	`)
}

func (db *DB) initPoolShareBalances(ctx context.Context) error {
	if err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_share_balances (
			id TEXT NOT NULL,
			chain TEXT NOT NULL,
			pool_id TEXT NOT NULL,
			user_address TEXT NOT NULL,
			token_address TEXT NOT NULL,
			balance TEXT NOT NULL,
			balance_num DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (id, chain)
		)
	`); err != nil {
		return err
	}
	return db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pool_share_balances_user
			ON pool_share_balances (chain, user_address)
	`)
}

func (db *DB) initUsers(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			address TEXT NOT NULL,
			chain TEXT NOT NULL,
			PRIMARY KEY (address, chain)
		)
	`)
}

func (db *DB) initPools(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pools (
			id TEXT NOT NULL,
			chain TEXT NOT NULL,
			address TEXT NOT NULL,
			type TEXT NOT NULL,
			share_token_address TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			symbol TEXT NOT NULL DEFAULT '',
			wrapped_index INT,
			PRIMARY KEY (id, chain)
		)
	`)
}

func (db *DB) initPoolTokens(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_tokens (
			pool_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			address TEXT NOT NULL,
			index INT NOT NULL,
			decimals INT NOT NULL DEFAULT 18,
			balance TEXT NOT NULL DEFAULT '0',
			price_rate TEXT NOT NULL DEFAULT '1.0',
			weight TEXT,
			wrapped_token_rate TEXT,
			PRIMARY KEY (pool_id, chain, address)
		)
	`)
}

func (db *DB) initPoolDynamicData(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pool_dynamic_data (
			pool_id TEXT NOT NULL,
			chain TEXT NOT NULL,
			swap_fee TEXT NOT NULL DEFAULT '0',
			total_shares TEXT NOT NULL DEFAULT '0',
			total_shares_num DOUBLE PRECISION NOT NULL DEFAULT 0,
			swap_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			protocol_yield_fee TEXT NOT NULL DEFAULT '0',
			amp TEXT,
			lower_target TEXT,
			upper_target TEXT,
			block_number BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (pool_id, chain)
		)
	`)
}

func (db *DB) initTokenPrices(ctx context.Context) error {
	return db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS token_prices (
			token_address TEXT NOT NULL,
			chain TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			PRIMARY KEY (token_address, chain, timestamp)
		)
	`)
}
