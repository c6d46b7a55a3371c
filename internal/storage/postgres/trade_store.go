package postgres

import (
	"context"
	"fmt"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertTrade adds a trade. Returns ErrDuplicateKey if (tx_hash, pool_address) exists.
func (s *TradeStore) InsertTrade(ctx context.Context, t *domain.TradeRow) error {
	if t == nil || t.TxHash == "" || t.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO trades (tx_hash, time, pool_address, type, price, base_amount, quote_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.pool.Exec(ctx, query,
		t.TxHash, t.Time, t.PoolAddress, string(t.Type),
		t.Price, t.BaseAmount, t.QuoteAmount,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetByPool retrieves trades of a pool, ordered by time ASC.
func (s *TradeStore) GetByPool(ctx context.Context, pool string) ([]*domain.TradeRow, error) {
	query := `
		SELECT tx_hash, time, pool_address, type, price, base_amount, quote_amount
		FROM trades
		WHERE pool_address = $1
		ORDER BY time ASC, tx_hash ASC
	`

	rows, err := s.pool.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeRow
	for rows.Next() {
		var (
			t    domain.TradeRow
			side string
		)
		if err := rows.Scan(&t.TxHash, &t.Time, &t.PoolAddress, &side, &t.Price, &t.BaseAmount, &t.QuoteAmount); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Type = domain.TradeSide(side)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return result, nil
}
