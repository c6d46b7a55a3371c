package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-trade-feed/internal/broadcast"
	"solana-trade-feed/internal/config"
	"solana-trade-feed/internal/fanout"
	"solana-trade-feed/internal/ingestion"
	"solana-trade-feed/internal/logging"
	"solana-trade-feed/internal/metadata"
	"solana-trade-feed/internal/observability"
	"solana-trade-feed/internal/registry"
	"solana-trade-feed/internal/solana"
	"solana-trade-feed/internal/telemetry"
)

const serviceName = "solana-trade-feed"

func main() {
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	useMemory := flag.Bool("use-memory", false, "Use in-memory stores instead of PostgreSQL/ClickHouse/Redis")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *useMemory {
		cfg.UseMemory = true
	}

	logger := logging.Init(logging.Config{Level: cfg.LogLevel})

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", slog.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Error("received second signal, forcing immediate shutdown", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("feed stopped", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OtelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	}()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := broadcast.NewHub(nil, logger)
	defer hub.Close()

	var out broadcast.Broadcaster = hub
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := broadcast.NewKafkaPublisher(broadcast.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		defer kp.Close()
		out = broadcast.Multi{hub, kp}
		logger.Info("kafka sink enabled", slog.Any("brokers", cfg.KafkaBrokers), slog.String("topic", cfg.KafkaTopic))
	}

	reg := registry.New(st.mirror, registry.Options{
		Logger: logger,
		OnMirrorError: func(op string, _ error) {
			observability.RecordMirrorError(op)
		},
	})
	// the registry must be warm before the subscription opens
	if err := reg.Load(ctx); err != nil {
		return err
	}
	defer reg.Wait()
	observability.SetTrackedPools(reg.Len())

	engine := fanout.New(out, fanout.Options{
		Logger:        logger,
		FlushInterval: cfg.FlushInterval,
		MaxPerKey:     cfg.MaxTradesPerFlush,
		OnFlush:       func(_ string, n int) { observability.RecordFlush(n) },
		OnDrop:        func(_ string, n int) { observability.RecordDropped(n) },
	})
	engine.Start()
	defer engine.Stop()
	observability.DefaultMetrics.ObserveBufferedTrades(engine.Pending)

	rpcConfig := solana.DefaultRPCConfig()
	rpcConfig.Timeout = cfg.RPCTimeout
	rpcConfig.MaxRetries = cfg.RPCMaxRetries
	rpcConfig.RetryDelay = cfg.RPCRetryDelay
	rpc := solana.NewHTTPClient(cfg.RPCURL, &rpcConfig, logger)
	queue := metadata.NewQueue(metadata.NewRPCFetcher(rpc), st.pools, metadata.Options{
		Logger:    logger,
		Workers:   cfg.MetadataWorkers,
		QueueSize: cfg.MetadataQueueSize,
		OnResult:  observability.RecordMetadataJob,
	})
	queue.Start(ctx)
	defer queue.Stop()
	observability.DefaultMetrics.ObserveMetadataBacklog(queue.Pending)

	processor := ingestion.NewProcessor(ingestion.ProcessorOptions{
		Registry:          reg,
		Pools:             st.pools,
		Trades:            st.trades,
		Fanout:            engine,
		Metadata:          queue,
		Notifier:          out,
		TrackCreatedPools: cfg.TrackCreatedPools,
		Logger:            logger,
	})

	dialer := solana.NewWSStreamDialer(cfg.StreamEndpoint, cfg.StreamToken, nil)
	manager := ingestion.NewStreamManager(dialer, processor, ingestion.StreamOptions{
		Logger:               logger,
		Filter:               processor.Filter(),
		PingInterval:         cfg.PingInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		OnStateChange: func(from, to ingestion.State) {
			logger.Info("stream state changed", slog.String("from", from.String()), slog.String("to", to.String()))
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		state := manager.State()
		if state != ingestion.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "stream=%s pools=%d clients=%d\n", state, reg.Len(), hub.ClientCount())
	})
	mux.Handle("/ws", hub)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})
	g.Go(func() error {
		return manager.Run(gctx)
	})

	return g.Wait()
}
