package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

// TradeStore implements storage.TradeStore using ClickHouse.
type TradeStore struct {
	conn *Conn
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(conn *Conn) *TradeStore {
	return &TradeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// InsertTrade adds a trade. Returns ErrDuplicateKey if (tx_hash, pool_address) exists.
// MergeTree does not enforce uniqueness, so existence is checked first.
func (s *TradeStore) InsertTrade(ctx context.Context, t *domain.TradeRow) error {
	if t == nil || t.TxHash == "" || t.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, t.TxHash, t.PoolAddress)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trades (
			tx_hash, time, pool_address, type, price, base_amount, quote_amount
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		t.TxHash, t.Time.UTC(), t.PoolAddress, string(t.Type),
		t.Price, t.BaseAmount, t.QuoteAmount,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPool retrieves trades of a pool, ordered by time ASC.
func (s *TradeStore) GetByPool(ctx context.Context, pool string) ([]*domain.TradeRow, error) {
	query := `
		SELECT tx_hash, time, pool_address, type, price, base_amount, quote_amount
		FROM trades FINAL
		WHERE pool_address = ?
		ORDER BY time ASC, tx_hash ASC
	`

	rows, err := s.conn.Query(ctx, query, pool)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *TradeStore) exists(ctx context.Context, txHash, pool string) (bool, error) {
	query := `
		SELECT count(*) FROM trades
		WHERE tx_hash = ? AND pool_address = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, txHash, pool).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows chRows) ([]*domain.TradeRow, error) {
	var result []*domain.TradeRow

	for rows.Next() {
		var (
			t    domain.TradeRow
			ts   time.Time
			side string
		)
		if err := rows.Scan(&t.TxHash, &ts, &t.PoolAddress, &side, &t.Price, &t.BaseAmount, &t.QuoteAmount); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		t.Time = ts.UTC()
		t.Type = domain.TradeSide(side)
		result = append(result, &t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return result, nil
}
