// Package fanout coalesces normalized trades per pool and emits them to
// subscribers in batches on a fixed tick.
package fanout

import (
	"log/slog"
	"sync"
	"time"

	"solana-trade-feed/internal/broadcast"
	"solana-trade-feed/internal/domain"
)

// DefaultFlushInterval is the coalescing window.
const DefaultFlushInterval = 200 * time.Millisecond

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	// FlushInterval is the tick period. Defaults to DefaultFlushInterval.
	FlushInterval time.Duration
	// MaxPerKey caps buffered trades per key between ticks; the oldest are
	// dropped first. Zero means unbounded.
	MaxPerKey int
	// OnFlush is called after each emitted batch.
	OnFlush func(key string, n int)
	// OnDrop is called when trades are dropped by MaxPerKey.
	OnDrop func(key string, n int)
}

// Engine buffers trades per key and flushes them every tick.
// Order within a batch equals enqueue order.
type Engine struct {
	out  broadcast.Broadcaster
	opts Options

	mu      sync.Mutex
	buffers map[string][]domain.NormalizedTrade

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates an engine emitting to out.
func New(out broadcast.Broadcaster, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	return &Engine{
		out:     out,
		opts:    opts,
		buffers: make(map[string][]domain.NormalizedTrade),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue appends trade to the buffer of key.
func (e *Engine) Enqueue(key string, trade domain.NormalizedTrade) {
	e.mu.Lock()
	buf := append(e.buffers[key], trade)
	dropped := 0
	if e.opts.MaxPerKey > 0 && len(buf) > e.opts.MaxPerKey {
		dropped = len(buf) - e.opts.MaxPerKey
		buf = append(buf[:0], buf[dropped:]...)
	}
	e.buffers[key] = buf
	e.mu.Unlock()

	if dropped > 0 && e.opts.OnDrop != nil {
		e.opts.OnDrop(key, dropped)
	}
}

// Pending returns the number of buffered trades across all keys.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, buf := range e.buffers {
		n += len(buf)
	}
	return n
}

// Start begins the flush ticker. It is a no-op after the first call.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		go e.run()
	})
}

// Stop halts the ticker and waits for an in-progress flush. Buffered trades
// that were not yet flushed are discarded.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stop)
	})
	// An engine that never started has no run loop to close done.
	e.startOnce.Do(func() { close(e.done) })
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

type batch struct {
	key    string
	trades []domain.NormalizedTrade
}

// flush swaps out every non-empty buffer and emits it. Keys are retained
// with a reset buffer so steady pools do not churn the map.
func (e *Engine) flush() {
	e.mu.Lock()
	batches := make([]batch, 0, len(e.buffers))
	for key, buf := range e.buffers {
		if len(buf) == 0 {
			continue
		}
		batches = append(batches, batch{key: key, trades: buf})
		e.buffers[key] = make([]domain.NormalizedTrade, 0, cap(buf))
	}
	e.mu.Unlock()

	for _, b := range batches {
		e.out.EmitToRoom(broadcast.RoomFor(b.key), broadcast.EventTradeBatch, b.trades)
		if e.opts.OnFlush != nil {
			e.opts.OnFlush(b.key, len(b.trades))
		}
	}
}
