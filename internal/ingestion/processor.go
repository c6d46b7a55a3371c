// Package ingestion turns the upstream transaction stream into pool
// registrations, persisted trades and fan-out batches.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"solana-trade-feed/internal/broadcast"
	"solana-trade-feed/internal/decoder"
	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/observability"
	"solana-trade-feed/internal/solana"
	"solana-trade-feed/internal/storage"
)

// PoolRegistry is the set of tracked pools and their decimals.
type PoolRegistry interface {
	IsTracked(address string) bool
	DecimalsOf(address string) (base, quote int)
	Register(address string, baseDecimals int) bool
	SetDecimals(address string, baseDecimals int)
	Len() int
}

// TradeSink buffers normalized trades for batched delivery.
type TradeSink interface {
	Enqueue(key string, trade domain.NormalizedTrade)
}

// MetadataQueue schedules token metadata enrichment for a pool.
type MetadataQueue interface {
	Enqueue(pool, mint string) bool
}

// ProcessorOptions contains the collaborators of a Processor.
type ProcessorOptions struct {
	// Migrations decodes bonding-curve migrations. It is consulted first and
	// a match suppresses the AMM decoder for the same record.
	Migrations decoder.Decoder
	// AMM decodes pool creation and trades.
	AMM decoder.Decoder

	Registry PoolRegistry
	Pools    storage.PoolStore
	Trades   storage.TradeStore
	Fanout   TradeSink
	Metadata MetadataQueue         // optional
	Notifier broadcast.Broadcaster // optional, receives pool:new

	// TrackCreatedPools registers pools on CreatePool with their true decimals.
	TrackCreatedPools bool

	Tracer trace.Tracer
	Logger *slog.Logger
}

// Processor applies decoded events to the registry, storage and fan-out.
type Processor struct {
	migrations decoder.Decoder
	amm        decoder.Decoder

	registry PoolRegistry
	pools    storage.PoolStore
	trades   storage.TradeStore
	fanout   TradeSink
	metadata MetadataQueue
	notifier broadcast.Broadcaster

	trackCreatedPools bool

	tracer trace.Tracer
	logger *slog.Logger
}

// NewProcessor creates a processor. Decoders default to the pump.fun and
// PumpSwap decoders.
func NewProcessor(opts ProcessorOptions) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Migrations == nil {
		opts.Migrations = decoder.NewPumpFunDecoder(decoder.Options{Logger: logger})
	}
	if opts.AMM == nil {
		opts.AMM = decoder.NewPumpSwapDecoder(decoder.Options{Logger: logger})
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("solana-trade-feed/ingestion")
	}

	return &Processor{
		migrations:        opts.Migrations,
		amm:               opts.AMM,
		registry:          opts.Registry,
		pools:             opts.Pools,
		trades:            opts.Trades,
		fanout:            opts.Fanout,
		metadata:          opts.Metadata,
		notifier:          opts.Notifier,
		trackCreatedPools: opts.TrackCreatedPools,
		tracer:            tracer,
		logger:            logger,
	}
}

// Filter returns the subscription filter covering both decoded programs.
func (p *Processor) Filter() solana.TransactionFilter {
	return solana.TransactionFilter{
		AccountInclude: []string{p.migrations.ProgramID(), p.amm.ProgramID()},
		Vote:           false,
		Failed:         false,
		Commitment:     solana.CommitmentProcessed,
	}
}

// HandleTransaction decodes env and applies the resulting event, if any.
// Errors are logged per record and never returned.
func (p *Processor) HandleTransaction(ctx context.Context, env *solana.TransactionEnvelope) {
	ev := p.migrations.Decode(env)
	if ev == nil {
		ev = p.amm.Decode(env)
	}
	if ev == nil {
		return
	}

	if err := p.HandleEvent(ctx, ev); err != nil {
		p.logger.Error("process event",
			slog.String("kind", string(ev.Kind)),
			slog.String("signature", ev.Signature),
			slog.Uint64("slot", ev.Slot),
			slog.Any("error", err))
	}
}

// HandleEvent applies one decoded event.
func (p *Processor) HandleEvent(ctx context.Context, ev *domain.Event) error {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "ingestion.handle_event",
		trace.WithAttributes(
			attribute.String("event.kind", string(ev.Kind)),
			attribute.String("tx.signature", ev.Signature),
			attribute.Int64("tx.slot", int64(ev.Slot)),
		))
	defer span.End()

	var err error
	switch ev.Kind {
	case domain.EventKindMigrate:
		err = p.handleMigrate(ctx, ev)
	case domain.EventKindCreatePool:
		err = p.handleCreatePool(ctx, ev)
	case domain.EventKindBuy, domain.EventKindSell:
		err = p.handleTrade(ctx, ev)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	observability.RecordEvent(string(ev.Kind), time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) handleMigrate(ctx context.Context, ev *domain.Event) error {
	m := ev.Migrate
	if p.registry.Register(m.Pool, domain.DefaultBaseDecimals) {
		observability.SetTrackedPools(p.registry.Len())
	}

	base, quote := p.registry.DecimalsOf(m.Pool)
	pool := &domain.Pool{
		Address:       m.Pool,
		BaseMint:      m.Mint,
		QuoteMint:     domain.WSOLMint,
		BaseDecimals:  base,
		QuoteDecimals: quote,
	}
	if err := p.upsertPool(ctx, ev, pool); err != nil {
		return err
	}

	if p.metadata != nil {
		p.metadata.Enqueue(m.Pool, m.Mint)
	}
	if p.notifier != nil {
		p.notifier.EmitGlobal(broadcast.EventPoolNew, domain.NewPoolNotice{
			Address:     m.Pool,
			Mint:        m.Mint,
			SolAmount:   strconv.FormatUint(m.SolAmount, 10),
			TokenAmount: strconv.FormatUint(m.TokenAmount, 10),
			Timestamp:   ev.Timestamp,
		})
	}

	p.logger.Info("pool migrated",
		slog.String("pool", m.Pool),
		slog.String("mint", m.Mint),
		slog.String("signature", ev.Signature),
		slog.Uint64("slot", ev.Slot))
	return nil
}

// handleCreatePool is a no-op unless TrackCreatedPools is set.
func (p *Processor) handleCreatePool(ctx context.Context, ev *domain.Event) error {
	if !p.trackCreatedPools {
		return nil
	}

	c := ev.CreatePool
	if p.registry.Register(c.Pool, c.BaseDecimals) {
		observability.SetTrackedPools(p.registry.Len())
	} else {
		p.registry.SetDecimals(c.Pool, c.BaseDecimals)
	}

	pool := &domain.Pool{
		Address:       c.Pool,
		BaseMint:      c.BaseMint,
		QuoteMint:     c.QuoteMint,
		BaseDecimals:  c.BaseDecimals,
		QuoteDecimals: c.QuoteDecimals,
	}
	if err := p.upsertPool(ctx, ev, pool); err != nil {
		return err
	}
	if p.metadata != nil {
		p.metadata.Enqueue(c.Pool, c.BaseMint)
	}

	p.logger.Info("pool created",
		slog.String("pool", c.Pool),
		slog.String("base_mint", c.BaseMint),
		slog.Int("base_decimals", c.BaseDecimals),
		slog.String("signature", ev.Signature))
	return nil
}

// handleTrade persists and fans out a trade on a tracked pool. Trades on
// untracked pools are ignored. A duplicate trade was already fanned out
// when it was first stored.
func (p *Processor) handleTrade(ctx context.Context, ev *domain.Event) error {
	t := ev.Trade
	if !p.registry.IsTracked(t.Pool) {
		return nil
	}

	baseDecimals, quoteDecimals := p.registry.DecimalsOf(t.Pool)
	trade := Normalize(ev, baseDecimals, quoteDecimals)

	row := &domain.TradeRow{
		TxHash:      trade.TxHash,
		Time:        time.UnixMilli(trade.Time).UTC(),
		PoolAddress: t.Pool,
		Type:        trade.Type,
		Price:       trade.Price,
		BaseAmount:  trade.BaseAmount,
		QuoteAmount: trade.QuoteAmount,
	}

	start := time.Now()
	err := p.trades.InsertTrade(ctx, row)
	observability.RecordDBQuery("insert_trade", time.Since(start).Seconds(), ignoreDuplicate(err))
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		observability.RecordTradePersisted(true)
		p.logger.Debug("trade already stored",
			slog.String("signature", ev.Signature),
			slog.String("pool", t.Pool))
		return nil
	case err != nil:
		observability.RecordEventError(string(ev.Kind), "insert_trade")
		return fmt.Errorf("insert trade: %w", err)
	}
	observability.RecordTradePersisted(false)

	p.fanout.Enqueue(t.Pool, trade)
	return nil
}

func (p *Processor) upsertPool(ctx context.Context, ev *domain.Event, pool *domain.Pool) error {
	start := time.Now()
	err := p.pools.UpsertPool(ctx, pool)
	observability.RecordDBQuery("upsert_pool", time.Since(start).Seconds(), err)
	if err != nil {
		observability.RecordEventError(string(ev.Kind), "upsert_pool")
		return fmt.Errorf("upsert pool %s: %w", pool.Address, err)
	}
	return nil
}

func ignoreDuplicate(err error) error {
	if errors.Is(err, storage.ErrDuplicateKey) {
		return nil
	}
	return err
}

// Normalize converts a raw trade into its display form. Amounts are scaled
// by the pool's decimals and price is quote per base, zero when the base
// amount is zero.
func Normalize(ev *domain.Event, baseDecimals, quoteDecimals int) domain.NormalizedTrade {
	t := ev.Trade

	base := decimal.NewFromUint64(t.TokenAmount).Shift(-int32(baseDecimals))
	quote := decimal.NewFromUint64(t.SolAmount).Shift(-int32(quoteDecimals))

	var price float64
	if base.IsPositive() {
		price = quote.DivRound(base, 18).InexactFloat64()
	}

	return domain.NormalizedTrade{
		TxHash:      ev.Signature,
		Type:        t.Side,
		Price:       price,
		BaseAmount:  base.InexactFloat64(),
		QuoteAmount: quote.InexactFloat64(),
		Time:        ev.Timestamp,
		Maker:       t.User,
	}
}
