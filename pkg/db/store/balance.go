package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

// BalanceDeleteChunkSize caps the number of ids passed to one bulk delete, a
// store-imposed IN-clause limit.
const BalanceDeleteChunkSize = 32000

const balanceUpsertQuery = `
	INSERT INTO pool_share_balances (
		id, chain, pool_id, user_address, token_address, balance, balance_num
	) VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id, chain) DO UPDATE SET
		pool_id = EXCLUDED.pool_id,
		user_address = EXCLUDED.user_address,
		token_address = EXCLUDED.token_address,
		balance = EXCLUDED.balance,
		balance_num = EXCLUDED.balance_num
`

// UpsertPoolShareBalances writes non-zero balance rows. Callers are expected to
// have filtered zero balances into deletes already.
func (db *DB) UpsertPoolShareBalances(ctx context.Context, balances []*models.PoolShareBalance) error {
	if len(balances) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, b := range balances {
		batch.Queue(balanceUpsertQuery,
			b.ID, string(b.Chain), b.PoolID, b.UserAddress, b.TokenAddress,
			b.Balance, b.BalanceNum,
		)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("upsert pool share balances: %w", err)
	}
	return nil
}

// DeletePoolShareBalances removes balance rows by id in bounded chunks.
func (db *DB) DeletePoolShareBalances(ctx context.Context, c chain.Chain, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	for start := 0; start < len(ids); start += BalanceDeleteChunkSize {
		end := start + BalanceDeleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		_, err := exec.Exec(ctx,
			`DELETE FROM pool_share_balances WHERE chain = $1 AND id = ANY($2)`,
			string(c), ids[start:end],
		)
		if err != nil {
			return fmt.Errorf("delete pool share balances [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// EnsureUsers upserts user rows for every referenced wallet, skipping those
// that already exist.
func (db *DB) EnsureUsers(ctx context.Context, users []*models.User) error {
	if len(users) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(
			`INSERT INTO users (address, chain) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			u.Address, string(u.Chain),
		)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("ensure users: %w", err)
	}
	return nil
}

// PoolShareBalancesForUser returns all non-zero balances held by a wallet.
func (db *DB) PoolShareBalancesForUser(ctx context.Context, c chain.Chain, userAddress string) ([]*models.PoolShareBalance, error) {
	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `
		SELECT id, chain, pool_id, user_address, token_address, balance, balance_num
		FROM pool_share_balances
		WHERE chain = $1 AND user_address = $2
	`, string(c), userAddress)
	if err != nil {
		return nil, fmt.Errorf("balances for user: %w", err)
	}
	defer rows.Close()

	var out []*models.PoolShareBalance
	for rows.Next() {
		b := &models.PoolShareBalance{}
		var chainStr string
		if err := rows.Scan(&b.ID, &chainStr, &b.PoolID, &b.UserAddress, &b.TokenAddress, &b.Balance, &b.BalanceNum); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.Chain = chain.Chain(chainStr)
		out = append(out, b)
	}
	return out, rows.Err()
}
