package memory

import (
	"context"
	"sync"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu    sync.RWMutex
	pools map[string]*domain.Pool // keyed by address
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		pools: make(map[string]*domain.Pool),
	}
}

// UpsertPool inserts a pool or updates its mints and decimals, keeping metadata.
func (s *PoolStore) UpsertPool(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	poolCopy := *p
	if existing, ok := s.pools[p.Address]; ok && poolCopy.Metadata == nil {
		poolCopy.Metadata = existing.Metadata
	}
	if poolCopy.Metadata != nil {
		metaCopy := *poolCopy.Metadata
		poolCopy.Metadata = &metaCopy
	}
	s.pools[p.Address] = &poolCopy
	return nil
}

// UpdatePoolMetadata attaches metadata to an existing pool.
func (s *PoolStore) UpdatePoolMetadata(_ context.Context, address string, meta *domain.PoolMetadata) error {
	if meta == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[address]
	if !ok {
		return storage.ErrNotFound
	}
	metaCopy := *meta
	p.Metadata = &metaCopy
	return nil
}

// GetPool retrieves a pool by address. Returns ErrNotFound if not exists.
func (s *PoolStore) GetPool(_ context.Context, address string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[address]
	if !ok {
		return nil, storage.ErrNotFound
	}

	poolCopy := *p
	if p.Metadata != nil {
		metaCopy := *p.Metadata
		poolCopy.Metadata = &metaCopy
	}
	return &poolCopy, nil
}

var _ storage.PoolStore = (*PoolStore)(nil)
