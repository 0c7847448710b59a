package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/beetslabs/poolsync/pkg/chain"
	"github.com/beetslabs/poolsync/pkg/db/models"
)

// TokenPricesAt returns the USD price per token address for a chain at a
// day-aligned timestamp.
func (db *DB) TokenPricesAt(ctx context.Context, c chain.Chain, timestamp int64) (map[string]float64, error) {
	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `
		SELECT token_address, price FROM token_prices
		WHERE chain = $1 AND timestamp = $2
	`, string(c), timestamp)
	if err != nil {
		return nil, fmt.Errorf("token prices at %d: %w", timestamp, err)
	}
	defer rows.Close()

	return scanPriceMap(rows)
}

// CurrentTokenPrices returns the most recent known USD price per token address
// for a chain, using a windowed-rank query over the price history.
func (db *DB) CurrentTokenPrices(ctx context.Context, c chain.Chain) (map[string]float64, error) {
	exec := db.GetExecutor(ctx)
	rows, err := exec.Query(ctx, `
		SELECT token_address, price FROM (
			SELECT token_address, price,
				ROW_NUMBER() OVER (PARTITION BY token_address ORDER BY timestamp DESC) AS rn
			FROM token_prices
			WHERE chain = $1
		) ranked
		WHERE rn = 1
	`, string(c))
	if err != nil {
		return nil, fmt.Errorf("current token prices: %w", err)
	}
	defer rows.Close()

	return scanPriceMap(rows)
}

// UpsertTokenPrices writes price points.
func (db *DB) UpsertTokenPrices(ctx context.Context, prices []*models.TokenPrice) error {
	if len(prices) == 0 {
		return nil
	}

	exec := db.GetExecutor(ctx)
	batch := &pgx.Batch{}
	for _, p := range prices {
		batch.Queue(`
			INSERT INTO token_prices (token_address, chain, timestamp, price)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (token_address, chain, timestamp) DO UPDATE SET price = EXCLUDED.price
		`, p.TokenAddress, string(p.Chain), p.Timestamp, p.Price)
	}

	if err := db.executeBatch(ctx, exec, batch); err != nil {
		return fmt.Errorf("upsert token prices: %w", err)
	}
	return nil
}

func scanPriceMap(rows pgx.Rows) (map[string]float64, error) {
	prices := make(map[string]float64)
	for rows.Next() {
		var addr string
		var price float64
		if err := rows.Scan(&addr, &price); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		prices[addr] = price
	}
	return prices, rows.Err()
}
