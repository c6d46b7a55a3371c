package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

func TestPoolStore_UpsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPoolStore(pool)

	p := &domain.Pool{
		Address:       "pool-1",
		BaseMint:      "mint-1",
		QuoteMint:     domain.WSOLMint,
		BaseDecimals:  6,
		QuoteDecimals: 9,
	}
	require.NoError(t, store.UpsertPool(ctx, p))
	require.NoError(t, store.UpsertPool(ctx, p), "upsert must be idempotent")

	got, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, "mint-1", got.BaseMint)
	assert.Equal(t, domain.WSOLMint, got.QuoteMint)
	assert.Equal(t, 6, got.BaseDecimals)
	assert.Equal(t, 9, got.QuoteDecimals)
	assert.Nil(t, got.Metadata)
}

func TestPoolStore_DecimalsCorrectionKeepsMetadata(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPoolStore(pool)

	require.NoError(t, store.UpsertPool(ctx, &domain.Pool{
		Address: "pool-1", BaseMint: "mint-1", QuoteMint: domain.WSOLMint, BaseDecimals: 6, QuoteDecimals: 9,
	}))
	require.NoError(t, store.UpdatePoolMetadata(ctx, "pool-1", &domain.PoolMetadata{
		Name: "Token", Symbol: "TKN", URI: "https://example.com/t.json",
	}))
	require.NoError(t, store.UpsertPool(ctx, &domain.Pool{
		Address: "pool-1", BaseMint: "mint-1", QuoteMint: domain.WSOLMint, BaseDecimals: 9, QuoteDecimals: 9,
	}))

	got, err := store.GetPool(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, 9, got.BaseDecimals)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, "TKN", got.Metadata.Symbol)
	assert.Equal(t, "https://example.com/t.json", got.Metadata.URI)
}

func TestPoolStore_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPoolStore(pool)

	_, err := store.GetPool(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.UpdatePoolMetadata(ctx, "missing", &domain.PoolMetadata{Name: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
