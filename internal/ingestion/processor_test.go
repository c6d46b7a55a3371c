package ingestion

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-trade-feed/internal/broadcast"
	"solana-trade-feed/internal/domain"
	"solana-trade-feed/internal/registry"
	"solana-trade-feed/internal/solana"
	"solana-trade-feed/internal/storage"
	"solana-trade-feed/internal/storage/memory"
)

const (
	testPool = "PooL1111111111111111111111111111111111111111"
	testMint = "MinT1111111111111111111111111111111111111111"
)

// stubDecoder returns a fixed event for every envelope.
type stubDecoder struct {
	program string
	event   *domain.Event
	calls   int
}

func (d *stubDecoder) ProgramID() string { return d.program }

func (d *stubDecoder) Decode(*solana.TransactionEnvelope) *domain.Event {
	d.calls++
	return d.event
}

type sinkRecord struct {
	key   string
	trade domain.NormalizedTrade
}

type recordingSink struct {
	mu      sync.Mutex
	records []sinkRecord
}

func (s *recordingSink) Enqueue(key string, trade domain.NormalizedTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, sinkRecord{key, trade})
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type recordingQueue struct {
	jobs [][2]string
}

func (q *recordingQueue) Enqueue(pool, mint string) bool {
	q.jobs = append(q.jobs, [2]string{pool, mint})
	return true
}

type emission struct {
	room, event string
	payload     any
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []emission
}

func (n *recordingNotifier) EmitToRoom(room, event string, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, emission{room, event, payload})
}

func (n *recordingNotifier) EmitGlobal(event string, payload any) {
	n.EmitToRoom(broadcast.GlobalRoom, event, payload)
}

// gatedMirror blocks writes until release is closed.
type gatedMirror struct {
	*memory.PoolMirror
	release chan struct{}
}

func (m *gatedMirror) AddTrackedPool(ctx context.Context, address string) error {
	<-m.release
	return m.PoolMirror.AddTrackedPool(ctx, address)
}

func (m *gatedMirror) SetPoolDecimals(ctx context.Context, address string, decimals int) error {
	<-m.release
	return m.PoolMirror.SetPoolDecimals(ctx, address, decimals)
}

type failingTradeStore struct{ err error }

func (s failingTradeStore) InsertTrade(context.Context, *domain.TradeRow) error { return s.err }

type harness struct {
	registry *registry.Registry
	pools    *memory.PoolStore
	trades   *memory.TradeStore
	sink     *recordingSink
	queue    *recordingQueue
	notifier *recordingNotifier
}

func newHarness(t *testing.T, mirror storage.PoolMirror) *harness {
	t.Helper()
	if mirror == nil {
		mirror = memory.NewPoolMirror()
	}
	return &harness{
		registry: registry.New(mirror, registry.Options{}),
		pools:    memory.NewPoolStore(),
		trades:   memory.NewTradeStore(),
		sink:     &recordingSink{},
		queue:    &recordingQueue{},
		notifier: &recordingNotifier{},
	}
}

func (h *harness) processor(migrations, amm *stubDecoder, trackCreated bool) *Processor {
	return NewProcessor(ProcessorOptions{
		Migrations:        migrations,
		AMM:               amm,
		Registry:          h.registry,
		Pools:             h.pools,
		Trades:            h.trades,
		Fanout:            h.sink,
		Metadata:          h.queue,
		Notifier:          h.notifier,
		TrackCreatedPools: trackCreated,
	})
}

func migrateEvent() *domain.Event {
	return &domain.Event{
		Kind:      domain.EventKindMigrate,
		Signature: "sigMigrate",
		Slot:      10,
		Timestamp: 1700000000000,
		Migrate: &domain.MigrateEvent{
			Mint:        testMint,
			Pool:        testPool,
			SolAmount:   84_000_000_000,
			TokenAmount: 206_900_000_000_000,
		},
	}
}

func buyEvent(sig string, tokenAmount, solAmount uint64) *domain.Event {
	return &domain.Event{
		Kind:      domain.EventKindBuy,
		Signature: sig,
		Slot:      11,
		Timestamp: 1700000001000,
		Trade: &domain.TradeEvent{
			Side:        domain.TradeSideBuy,
			Pool:        testPool,
			User:        "buyer",
			BaseMint:    testMint,
			QuoteMint:   domain.WSOLMint,
			TokenAmount: tokenAmount,
			SolAmount:   solAmount,
		},
	}
}

func TestProcessor_MigrateRegistersAndAnnounces(t *testing.T) {
	h := newHarness(t, nil)
	amm := &stubDecoder{program: "amm", event: buyEvent("other", 1, 1)}
	p := h.processor(&stubDecoder{program: "mig", event: migrateEvent()}, amm, false)

	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

	assert.True(t, h.registry.IsTracked(testPool))
	assert.Equal(t, 0, amm.calls, "AMM decoder must not run after a migration")

	pool, err := h.pools.GetPool(context.Background(), testPool)
	require.NoError(t, err)
	assert.Equal(t, testMint, pool.BaseMint)
	assert.Equal(t, domain.WSOLMint, pool.QuoteMint)
	assert.Equal(t, 6, pool.BaseDecimals)
	assert.Equal(t, 9, pool.QuoteDecimals)

	assert.Equal(t, [][2]string{{testPool, testMint}}, h.queue.jobs)

	require.Len(t, h.notifier.calls, 1)
	call := h.notifier.calls[0]
	assert.Equal(t, broadcast.GlobalRoom, call.room)
	assert.Equal(t, broadcast.EventPoolNew, call.event)
	assert.Equal(t, domain.NewPoolNotice{
		Address:     testPool,
		Mint:        testMint,
		SolAmount:   "84000000000",
		TokenAmount: "206900000000000",
		Timestamp:   1700000000000,
	}, call.payload)

	h.registry.Wait()
}

func TestProcessor_TrackedBeforeMirrorWrite(t *testing.T) {
	mirror := &gatedMirror{PoolMirror: memory.NewPoolMirror(), release: make(chan struct{})}
	h := newHarness(t, mirror)
	p := h.processor(&stubDecoder{program: "mig", event: migrateEvent()}, &stubDecoder{program: "amm"}, false)

	done := make(chan struct{})
	go func() {
		p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("migration blocked on the mirror write")
	}
	assert.True(t, h.registry.IsTracked(testPool))

	tracked, err := mirror.PoolMirror.TrackedPools(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tracked)

	close(mirror.release)
	h.registry.Wait()
	tracked, err = mirror.PoolMirror.TrackedPools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{testPool}, tracked)
}

func TestProcessor_UntrackedTradeIgnored(t *testing.T) {
	h := newHarness(t, nil)
	p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: buyEvent("s1", 1000, 500)}, false)

	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

	assert.Equal(t, 0, h.trades.Count())
	assert.Equal(t, 0, h.sink.len())
}

func TestProcessor_TrackedTradePersistsAndFansOut(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Register(testPool, 6)
	h.registry.Wait()

	// 2,000,000 raw base at 6 decimals = 2.0; 500,000,000 lamports = 0.5 SOL
	p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: buyEvent("s1", 2_000_000, 500_000_000)}, false)
	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

	rows, err := h.trades.GetByPool(context.Background(), testPool)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0].TxHash)
	assert.Equal(t, domain.TradeSideBuy, rows[0].Type)
	assert.InDelta(t, 2.0, rows[0].BaseAmount, 1e-12)
	assert.InDelta(t, 0.5, rows[0].QuoteAmount, 1e-12)
	assert.InDelta(t, 0.25, rows[0].Price, 1e-12)
	assert.Equal(t, int64(1700000001000), rows[0].Time.UnixMilli())

	require.Equal(t, 1, h.sink.len())
	rec := h.sink.records[0]
	assert.Equal(t, testPool, rec.key)
	assert.Equal(t, "buyer", rec.trade.Maker)
	assert.InDelta(t, 0.25, rec.trade.Price, 1e-12)
}

func TestProcessor_DuplicateTradeNotFannedOutTwice(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Register(testPool, 6)
	h.registry.Wait()

	p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: buyEvent("dup", 10, 10)}, false)
	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})
	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

	assert.Equal(t, 1, h.trades.Count())
	assert.Equal(t, 1, h.sink.len())
}

func TestProcessor_PersistFailureSkipsFanout(t *testing.T) {
	h := newHarness(t, nil)
	h.registry.Register(testPool, 6)
	h.registry.Wait()

	p := NewProcessor(ProcessorOptions{
		Migrations: &stubDecoder{program: "mig"},
		AMM:        &stubDecoder{program: "amm"},
		Registry:   h.registry,
		Pools:      h.pools,
		Trades:     failingTradeStore{err: errors.New("db down")},
		Fanout:     h.sink,
	})

	err := p.HandleEvent(context.Background(), buyEvent("s1", 1, 1))
	require.Error(t, err)
	assert.Equal(t, 0, h.sink.len())

	// HandleTransaction logs and swallows the same failure
	p.amm = &stubDecoder{program: "amm", event: buyEvent("s2", 1, 1)}
	p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})
	assert.Equal(t, 0, h.sink.len())
}

func TestProcessor_CreatePoolGatedByFlag(t *testing.T) {
	create := &domain.Event{
		Kind:      domain.EventKindCreatePool,
		Signature: "sigCreate",
		CreatePool: &domain.CreatePoolEvent{
			Pool:          testPool,
			Creator:       "creator",
			BaseMint:      testMint,
			QuoteMint:     domain.WSOLMint,
			BaseDecimals:  9,
			QuoteDecimals: 9,
		},
	}

	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, nil)
		p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: create}, false)
		p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

		assert.False(t, h.registry.IsTracked(testPool))
		_, err := h.pools.GetPool(context.Background(), testPool)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("enabled", func(t *testing.T) {
		h := newHarness(t, nil)
		p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: create}, true)
		p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

		assert.True(t, h.registry.IsTracked(testPool))
		base, _ := h.registry.DecimalsOf(testPool)
		assert.Equal(t, 9, base)

		pool, err := h.pools.GetPool(context.Background(), testPool)
		require.NoError(t, err)
		assert.Equal(t, 9, pool.BaseDecimals)
		h.registry.Wait()
	})

	t.Run("enabled corrects tracked pool", func(t *testing.T) {
		h := newHarness(t, nil)
		h.registry.Register(testPool, 6)
		p := h.processor(&stubDecoder{program: "mig"}, &stubDecoder{program: "amm", event: create}, true)
		p.HandleTransaction(context.Background(), &solana.TransactionEnvelope{})

		base, _ := h.registry.DecimalsOf(testPool)
		assert.Equal(t, 9, base)
		h.registry.Wait()
	})
}

func TestProcessor_Filter(t *testing.T) {
	p := NewProcessor(ProcessorOptions{})
	f := p.Filter()
	assert.Len(t, f.AccountInclude, 2)
	assert.False(t, f.Vote)
	assert.False(t, f.Failed)
	assert.Equal(t, solana.CommitmentProcessed, f.Commitment)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		token, sol   uint64
		baseDecimals int
		wantBase     float64
		wantQuote    float64
		wantPrice    float64
	}{
		{"six decimals", 1_500_000, 3_000_000_000, 6, 1.5, 3, 2},
		{"nine decimals", 1_000_000_000, 1_000_000, 9, 1, 0.001, 0.001},
		{"zero base", 0, 1_000_000_000, 6, 0, 1, 0},
		{"large amounts", math.MaxUint64, math.MaxUint64, 9, 18446744073.709551615, 18446744073.709551615, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(buyEvent("s", tt.token, tt.sol), tt.baseDecimals, 9)
			assert.InDelta(t, tt.wantBase, got.BaseAmount, 1e-9)
			assert.InDelta(t, tt.wantQuote, got.QuoteAmount, 1e-9)
			assert.InDelta(t, tt.wantPrice, got.Price, 1e-12)
			assert.Equal(t, domain.TradeSideBuy, got.Type)
			assert.Equal(t, "s", got.TxHash)
		})
	}
}
