// Package registry holds the in-memory set of tracked pools and their base
// decimals. Memory is authoritative for the process lifetime; the persistent
// mirror is a warm-start copy written best-effort.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/storage"
)

// Options configures a Registry.
type Options struct {
	Logger *slog.Logger
	// WriteTimeout bounds each background mirror write.
	WriteTimeout time.Duration
	// OnMirrorError is called after a failed mirror write.
	OnMirrorError func(op string, err error)
}

// Registry tracks pools discovered on-chain.
type Registry struct {
	mirror storage.PoolMirror
	opts   Options

	mu       sync.RWMutex
	tracked  map[string]struct{}
	decimals map[string]int

	writes sync.WaitGroup
}

// New creates an empty registry backed by mirror.
func New(mirror storage.PoolMirror, opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	return &Registry{
		mirror:   mirror,
		opts:     opts,
		tracked:  make(map[string]struct{}),
		decimals: make(map[string]int),
	}
}

// Load replaces in-memory state with the full contents of the mirror.
// It must complete before the stream subscription opens.
func (r *Registry) Load(ctx context.Context) error {
	pools, err := r.mirror.TrackedPools(ctx)
	if err != nil {
		return fmt.Errorf("load tracked pools: %w", err)
	}
	decimals, err := r.mirror.PoolDecimals(ctx)
	if err != nil {
		return fmt.Errorf("load pool decimals: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracked = make(map[string]struct{}, len(pools))
	for _, addr := range pools {
		r.tracked[addr] = struct{}{}
	}
	r.decimals = make(map[string]int, len(decimals))
	for addr, d := range decimals {
		r.decimals[addr] = d
	}

	r.opts.Logger.Info("pool registry loaded",
		slog.Int("tracked", len(r.tracked)),
		slog.Int("decimals", len(r.decimals)))
	return nil
}

// IsTracked reports whether address is a tracked pool.
func (r *Registry) IsTracked(address string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tracked[address]
	return ok
}

// DecimalsOf returns base and quote decimals of a pool. Base defaults to 6
// when unknown; quote is always the native token's 9.
func (r *Registry) DecimalsOf(address string) (base, quote int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	base, ok := r.decimals[address]
	if !ok {
		base = domain.DefaultBaseDecimals
	}
	return base, domain.DefaultQuoteDecimals
}

// Len returns the number of tracked pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tracked)
}

// Register tracks address with baseDecimals. The in-memory update is
// synchronous; the mirror write runs in the background and is never retried.
// It returns false if the pool was already tracked, in which case nothing changes.
func (r *Registry) Register(address string, baseDecimals int) bool {
	r.mu.Lock()
	if _, ok := r.tracked[address]; ok {
		r.mu.Unlock()
		return false
	}
	r.tracked[address] = struct{}{}
	r.decimals[address] = baseDecimals
	r.mu.Unlock()

	r.writeBehind("add_tracked_pool", address, func(ctx context.Context) error {
		return r.mirror.AddTrackedPool(ctx, address)
	})
	r.writeBehind("set_pool_decimals", address, func(ctx context.Context) error {
		return r.mirror.SetPoolDecimals(ctx, address, baseDecimals)
	})
	return true
}

// SetDecimals corrects the base decimals of a pool, tracked or not.
// Mirror persistence follows the same best-effort rules as Register.
func (r *Registry) SetDecimals(address string, baseDecimals int) {
	r.mu.Lock()
	if cur, ok := r.decimals[address]; ok && cur == baseDecimals {
		r.mu.Unlock()
		return
	}
	r.decimals[address] = baseDecimals
	r.mu.Unlock()

	r.writeBehind("set_pool_decimals", address, func(ctx context.Context) error {
		return r.mirror.SetPoolDecimals(ctx, address, baseDecimals)
	})
}

// Wait blocks until in-flight mirror writes finish.
func (r *Registry) Wait() {
	r.writes.Wait()
}

func (r *Registry) writeBehind(op, address string, write func(ctx context.Context) error) {
	r.writes.Add(1)
	go func() {
		defer r.writes.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		defer cancel()

		if err := write(ctx); err != nil {
			r.opts.Logger.Warn("pool mirror write failed",
				slog.String("op", op),
				slog.String("pool", address),
				slog.Any("error", err))
			if r.opts.OnMirrorError != nil {
				r.opts.OnMirrorError(op, err)
			}
		}
	}()
}
