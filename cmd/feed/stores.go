package main

import (
	"context"
	"fmt"
	"log/slog"

	"solana-trade-feed/internal/config"
	"solana-trade-feed/internal/storage"
	"solana-trade-feed/internal/storage/memory"
	"solana-trade-feed/internal/storage/migrations"
	pgstore "solana-trade-feed/internal/storage/postgres"
	redisstore "solana-trade-feed/internal/storage/redis"
	chstore "solana-trade-feed/internal/storage/clickhouse"
)

// stores bundles the storage collaborators selected by configuration.
type stores struct {
	pools  storage.PoolStore
	trades storage.TradeStore
	mirror storage.PoolMirror

	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects PostgreSQL for pools and trades, ClickHouse for trades
// when a DSN is set, and Redis for the registry mirror.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.UseMemory {
		logger.Info("using in-memory stores")
		return &stores{
			pools:  memory.NewPoolStore(),
			trades: memory.NewTradeStore(),
			mirror: memory.NewPoolMirror(),
		}, nil
	}

	st := &stores{}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	st.closers = append(st.closers, pool.Close)

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		st.Close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	st.pools = pgstore.NewPoolStore(pool)
	st.trades = pgstore.NewTradeStore(pool)

	if cfg.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		st.closers = append(st.closers, func() { _ = conn.Close() })
		st.trades = chstore.NewTradeStore(conn)
		logger.Info("trades stored in clickhouse")
	}

	client, err := redisstore.NewClient(ctx, redisstore.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	st.closers = append(st.closers, func() { _ = client.Close() })
	st.mirror = redisstore.NewPoolMirror(client)

	return st, nil
}
