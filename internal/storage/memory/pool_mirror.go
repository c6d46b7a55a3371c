package memory

import (
	"context"
	"sort"
	"sync"

	"solana-trade-feed/internal/storage"
)

// PoolMirror is an in-memory implementation of storage.PoolMirror.
// State is lost on restart.
type PoolMirror struct {
	mu       sync.RWMutex
	tracked  map[string]struct{}
	decimals map[string]int
}

// NewPoolMirror creates a new in-memory pool mirror.
func NewPoolMirror() *PoolMirror {
	return &PoolMirror{
		tracked:  make(map[string]struct{}),
		decimals: make(map[string]int),
	}
}

// TrackedPools returns tracked addresses sorted for stable output.
func (m *PoolMirror) TrackedPools(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]string, 0, len(m.tracked))
	for addr := range m.tracked {
		result = append(result, addr)
	}
	sort.Strings(result)
	return result, nil
}

// AddTrackedPool adds address to the tracked set.
func (m *PoolMirror) AddTrackedPool(_ context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracked[address] = struct{}{}
	return nil
}

// PoolDecimals returns a copy of the decimals map.
func (m *PoolMirror) PoolDecimals(_ context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]int, len(m.decimals))
	for addr, d := range m.decimals {
		result[addr] = d
	}
	return result, nil
}

// SetPoolDecimals records the base decimals of a pool.
func (m *PoolMirror) SetPoolDecimals(_ context.Context, address string, decimals int) error {
	if address == "" || decimals < 0 {
		return storage.ErrInvalidInput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.decimals[address] = decimals
	return nil
}

var _ storage.PoolMirror = (*PoolMirror)(nil)
