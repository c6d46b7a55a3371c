package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"solana-trade-feed/internal/observability"
	"solana-trade-feed/internal/solana"
)

// State is the connection state of a StreamManager.
type State int

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrReconnectExhausted is returned by Run when the retry ceiling was reached.
var ErrReconnectExhausted = errors.New("stream reconnect attempts exhausted")

// Stream defaults.
const (
	DefaultPingInterval         = 5 * time.Second
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 3
	DefaultRecordBuffer         = 4096
)

// RecordHandler processes one transaction record.
type RecordHandler interface {
	HandleTransaction(ctx context.Context, env *solana.TransactionEnvelope)
}

// StreamOptions configures a StreamManager.
type StreamOptions struct {
	Logger *slog.Logger
	Filter solana.TransactionFilter

	PingInterval         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	// RecordBuffer is the number of received records that may wait for the
	// worker before the reader blocks.
	RecordBuffer int

	// OnStateChange is called on every transition with the manager lock
	// held. It must not call back into the manager.
	OnStateChange func(from, to State)
}

// StreamManager owns the upstream subscription: it connects, keeps the
// stream alive with pings, reconnects with a fixed delay up to a ceiling of
// consecutive failed attempts, and hands records to a single worker in
// arrival order.
type StreamManager struct {
	dialer  solana.StreamDialer
	handler RecordHandler
	opts    StreamOptions
	log     *slog.Logger

	records chan *solana.TransactionEnvelope

	mu         sync.Mutex
	ctx        context.Context
	state      State
	retries    int
	gen        uint64
	stream     solana.TransactionStream
	pingStop   chan struct{}
	retryTimer *time.Timer
	closed     bool

	exhausted     chan struct{}
	exhaustedOnce sync.Once
}

// NewStreamManager creates a manager dialing with dialer and delivering
// records to handler.
func NewStreamManager(dialer solana.StreamDialer, handler RecordHandler, opts StreamOptions) *StreamManager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.RecordBuffer <= 0 {
		opts.RecordBuffer = DefaultRecordBuffer
	}
	return &StreamManager{
		dialer:    dialer,
		handler:   handler,
		opts:      opts,
		log:       opts.Logger.With(slog.String("component", "stream")),
		records:   make(chan *solana.TransactionEnvelope, opts.RecordBuffer),
		state:     StateDisconnected,
		exhausted: make(chan struct{}),
	}
}

// State returns the current connection state.
func (m *StreamManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run connects and processes records until ctx is cancelled or the
// reconnect ceiling is reached. Cancellation returns nil.
func (m *StreamManager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.ctx != nil {
		m.mu.Unlock()
		return errors.New("stream manager already running")
	}
	m.ctx = ctx
	m.mu.Unlock()

	workCtx, cancelWork := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		m.work(workCtx)
	}()

	m.connect()

	var err error
	select {
	case <-ctx.Done():
		m.log.Info("stream manager stopping")
	case <-m.exhausted:
		err = ErrReconnectExhausted
	}

	m.shutdown()
	cancelWork()
	<-workerDone
	return err
}

// connect opens and subscribes a new stream. It is a no-op while a
// connection is being established or is up.
func (m *StreamManager) connect() {
	m.mu.Lock()
	if m.closed || m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	ctx := m.ctx
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	stream, err := m.dialer.Dial(ctx)
	if err == nil {
		if err = stream.Subscribe(ctx, m.opts.Filter); err != nil {
			stream.Close()
		}
	}
	if err != nil {
		m.log.Warn("stream connect failed", slog.Any("error", err))
		m.handleDisconnect(gen)
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		stream.Close()
		return
	}
	m.stream = stream
	m.retries = 0
	stop := make(chan struct{})
	m.pingStop = stop
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info("stream subscribed", slog.Any("accounts", m.opts.Filter.AccountInclude))

	go m.pingLoop(stream, stop)
	go m.readLoop(gen, stream)
}

// handleDisconnect tears down the stream of generation gen and schedules a
// reconnect. Stale generations and repeated calls are ignored.
func (m *StreamManager) handleDisconnect(gen uint64) {
	m.mu.Lock()
	if m.closed || gen != m.gen || m.state == StateReconnecting || m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.setStateLocked(StateReconnecting)
	m.stopPingLocked()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	m.reconnect()
}

func (m *StreamManager) reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.retries >= m.opts.MaxReconnectAttempts {
		m.log.Error("stream reconnect attempts exhausted, manual restart required",
			slog.Int("attempts", m.retries))
		m.setStateLocked(StateDisconnected)
		m.exhaustedOnce.Do(func() { close(m.exhausted) })
		return
	}

	m.retries++
	attempt := m.retries
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.retryTimer = time.AfterFunc(m.opts.ReconnectDelay, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.connect()
	})

	observability.RecordReconnect()
	m.log.Info("stream reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", m.opts.MaxReconnectAttempts),
		slog.Duration("delay", m.opts.ReconnectDelay))
}

func (m *StreamManager) pingLoop(stream solana.TransactionStream, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// a failed ping is not fatal; Recv reports the broken stream
			if err := stream.Ping(); err != nil {
				m.log.Debug("stream ping failed", slog.Any("error", err))
			}
		}
	}
}

func (m *StreamManager) readLoop(gen uint64, stream solana.TransactionStream) {
	for {
		env, err := stream.Recv()
		if err != nil {
			if m.isCurrent(gen) {
				m.log.Warn("stream ended", slog.Any("error", err))
			}
			m.handleDisconnect(gen)
			return
		}

		observability.RecordReceived(time.Now().Unix())
		select {
		case m.records <- env:
		case <-m.ctx.Done():
			return
		}
	}
}

// work handles records one at a time in arrival order.
func (m *StreamManager) work(ctx context.Context) {
	// in-flight handling outlives cancellation so writes complete
	handleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-m.records:
			m.handle(handleCtx, env)
		}
	}
}

func (m *StreamManager) handle(ctx context.Context, env *solana.TransactionEnvelope) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("record handler panicked",
				slog.Any("panic", r),
				slog.String("signature", env.SignatureString()),
				slog.Uint64("slot", env.Slot))
		}
	}()
	m.handler.HandleTransaction(ctx, env)
}

func (m *StreamManager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.gen
}

// shutdown stops timers and closes the stream. No further reconnects happen.
func (m *StreamManager) shutdown() {
	m.mu.Lock()
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	m.stopPingLocked()
	stream := m.stream
	m.stream = nil
	if m.state != StateDisconnected {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

func (m *StreamManager) stopPingLocked() {
	if m.pingStop != nil {
		close(m.pingStop)
		m.pingStop = nil
	}
}

func (m *StreamManager) setStateLocked(to State) {
	from := m.state
	m.state = to
	observability.SetConnectionState(int(to))
	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(from, to)
	}
}
