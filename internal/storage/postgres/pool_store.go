package postgres

import (
	"context"
	"fmt"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// UpsertPool inserts a pool or refreshes its mints and decimals. Metadata columns are left untouched.
func (s *PoolStore) UpsertPool(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (address, base_mint, quote_mint, base_decimals, quote_decimals)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			base_mint = EXCLUDED.base_mint,
			quote_mint = EXCLUDED.quote_mint,
			base_decimals = EXCLUDED.base_decimals,
			quote_decimals = EXCLUDED.quote_decimals,
			updated_at = now()
	`

	_, err := s.pool.Exec(ctx, query, p.Address, p.BaseMint, p.QuoteMint, p.BaseDecimals, p.QuoteDecimals)
	if err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	return nil
}

// UpdatePoolMetadata attaches token metadata to a pool.
func (s *PoolStore) UpdatePoolMetadata(ctx context.Context, address string, meta *domain.PoolMetadata) error {
	if meta == nil {
		return storage.ErrInvalidInput
	}

	query := `
		UPDATE pools SET name = $2, symbol = $3, uri = $4, updated_at = now()
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query, address, meta.Name, meta.Symbol, meta.URI)
	if err != nil {
		return fmt.Errorf("update pool metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetPool retrieves a pool by address. Returns ErrNotFound if not exists.
func (s *PoolStore) GetPool(ctx context.Context, address string) (*domain.Pool, error) {
	query := `
		SELECT address, base_mint, quote_mint, base_decimals, quote_decimals, name, symbol, uri
		FROM pools
		WHERE address = $1
	`

	var (
		p                 domain.Pool
		name, symbol, uri *string
	)
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&p.Address, &p.BaseMint, &p.QuoteMint, &p.BaseDecimals, &p.QuoteDecimals,
		&name, &symbol, &uri,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}

	if name != nil || symbol != nil || uri != nil {
		p.Metadata = &domain.PoolMetadata{
			Name:   deref(name),
			Symbol: deref(symbol),
			URI:    deref(uri),
		}
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
