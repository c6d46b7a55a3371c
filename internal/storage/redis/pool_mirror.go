package redis

import (
	"context"
	"fmt"
	"strconv"

	"solana-trade-feed/internal/storage"
)

// Redis keys of the pool mirror.
const (
	KeyTrackedPools = "pumpswap:tracked_pools"
	KeyPoolDecimals = "pumpswap:pool_decimals"
)

// PoolMirror implements storage.PoolMirror with a Redis set of tracked
// addresses and a hash of base decimals.
type PoolMirror struct {
	client *Client
}

// NewPoolMirror creates a new PoolMirror.
func NewPoolMirror(client *Client) *PoolMirror {
	return &PoolMirror{client: client}
}

// Compile-time interface check.
var _ storage.PoolMirror = (*PoolMirror)(nil)

// TrackedPools returns every tracked pool address.
func (m *PoolMirror) TrackedPools(ctx context.Context) ([]string, error) {
	members, err := m.client.SMembers(ctx, KeyTrackedPools).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", KeyTrackedPools, err)
	}
	return members, nil
}

// AddTrackedPool adds address to the tracked set.
func (m *PoolMirror) AddTrackedPool(ctx context.Context, address string) error {
	if address == "" {
		return storage.ErrInvalidInput
	}
	if err := m.client.SAdd(ctx, KeyTrackedPools, address).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", KeyTrackedPools, err)
	}
	return nil
}

// PoolDecimals returns base decimals keyed by pool address.
// Entries that do not parse as integers are skipped.
func (m *PoolMirror) PoolDecimals(ctx context.Context) (map[string]int, error) {
	raw, err := m.client.HGetAll(ctx, KeyPoolDecimals).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", KeyPoolDecimals, err)
	}

	result := make(map[string]int, len(raw))
	for addr, v := range raw {
		d, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		result[addr] = d
	}
	return result, nil
}

// SetPoolDecimals records the base decimals of a pool.
func (m *PoolMirror) SetPoolDecimals(ctx context.Context, address string, decimals int) error {
	if address == "" || decimals < 0 {
		return storage.ErrInvalidInput
	}
	if err := m.client.HSet(ctx, KeyPoolDecimals, address, strconv.Itoa(decimals)).Err(); err != nil {
		return fmt.Errorf("hset %s: %w", KeyPoolDecimals, err)
	}
	return nil
}
