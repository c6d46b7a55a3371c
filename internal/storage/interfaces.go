package storage

import (
	"context"

	"solana-trade-feed/internal/domain"
)

// PoolStore provides access to pools storage.
type PoolStore interface {
	// UpsertPool inserts a pool or updates its mints and decimals. Idempotent.
	UpsertPool(ctx context.Context, p *domain.Pool) error

	// UpdatePoolMetadata attaches token metadata to a pool. Returns ErrNotFound if the pool does not exist.
	UpdatePoolMetadata(ctx context.Context, address string, meta *domain.PoolMetadata) error

	// GetPool retrieves a pool by address. Returns ErrNotFound if not exists.
	GetPool(ctx context.Context, address string) (*domain.Pool, error)
}

// TradeStore provides access to trades storage.
type TradeStore interface {
	// InsertTrade adds a trade. Returns ErrDuplicateKey if (tx_hash, pool_address) exists.
	InsertTrade(ctx context.Context, t *domain.TradeRow) error
}

// PoolMirror is the persistent warm-start copy of the pool registry.
// It is read fully at startup and written best-effort afterwards.
type PoolMirror interface {
	// TrackedPools returns every tracked pool address.
	TrackedPools(ctx context.Context) ([]string, error)

	// AddTrackedPool adds address to the tracked set. Idempotent.
	AddTrackedPool(ctx context.Context, address string) error

	// PoolDecimals returns base decimals keyed by pool address.
	PoolDecimals(ctx context.Context) (map[string]int, error)

	// SetPoolDecimals records the base decimals of a pool.
	SetPoolDecimals(ctx context.Context, address string, decimals int) error
}
