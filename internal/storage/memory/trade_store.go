package memory

import (
	"context"
	"sort"
	"sync"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

type tradeKey struct {
	txHash string
	pool   string
}

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[tradeKey]*domain.TradeRow
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		trades: make(map[tradeKey]*domain.TradeRow),
	}
}

// InsertTrade adds a trade. Returns ErrDuplicateKey if (tx_hash, pool_address) exists.
func (s *TradeStore) InsertTrade(_ context.Context, t *domain.TradeRow) error {
	if t == nil || t.TxHash == "" || t.PoolAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := tradeKey{txHash: t.TxHash, pool: t.PoolAddress}
	if _, exists := s.trades[key]; exists {
		return storage.ErrDuplicateKey
	}

	tradeCopy := *t
	s.trades[key] = &tradeCopy
	return nil
}

// GetByPool returns trades of a pool ordered by time ASC.
func (s *TradeStore) GetByPool(_ context.Context, pool string) ([]*domain.TradeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRow
	for _, t := range s.trades {
		if t.PoolAddress == pool {
			tradeCopy := *t
			result = append(result, &tradeCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Time.Equal(result[j].Time) {
			return result[i].TxHash < result[j].TxHash
		}
		return result[i].Time.Before(result[j].Time)
	})
	return result, nil
}

// Count returns the number of stored trades.
func (s *TradeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

var _ storage.TradeStore = (*TradeStore)(nil)
