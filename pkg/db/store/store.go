package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/beetslabs/poolsync/pkg/db/postgres"
)

// DB provides access to all persisted poolsync entities. The relational store
// is the single source of truth; every in-memory cache layered on top is a
// time-boxed read-through cache.
type DB struct {
	postgres.Client
}

// New creates the store and ensures the schema exists.
func New(ctx context.Context, logger *zap.Logger, poolConfig ...*postgres.PoolConfig) (*DB, error) {
	client, err := postgres.New(ctx, logger, poolConfig...)
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client}
	if err := db.InitializeSchema(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// InitializeSchema creates the required tables if they do not already exist.
func (db *DB) InitializeSchema(ctx context.Context) error {
	initOps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"sync_watermarks", db.initWatermarks},
		{"pool_snapshots", db.initPoolSnapshots},
		{"pool_share_balances", db.initPoolShareBalances},
		{"users", db.initUsers},
		{"pools", db.initPools},
		{"pool_tokens", db.initPoolTokens},
		{"pool_dynamic_data", db.initPoolDynamicData},
		{"token_prices", db.initTokenPrices},
	}

	for _, op := range initOps {
		if err := op.fn(ctx); err != nil {
			return fmt.Errorf("init %s: %w", op.name, err)
		}
	}

	db.Logger.Info("Schema initialization complete")
	return nil
}

// executeBatch sends a pgx batch through the provided executor and drains every
// queued command, surfacing the first error.
func (db *DB) executeBatch(ctx context.Context, exec postgres.Executor, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	results := exec.SendBatch(ctx, batch)
	defer func() {
		if closeErr := results.Close(); closeErr != nil {
			db.Logger.Warn("failed to close batch results", zap.Error(closeErr))
		}
	}()

	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch command %d: %w", i, err)
		}
	}

	return nil
}
