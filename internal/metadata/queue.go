// Package metadata enriches newly discovered pools with on-chain token
// metadata using a bounded pool of background workers.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"solana-trade-feed/internal/storage"
)

// Job outcome labels reported through Options.OnResult.
const (
	StatusStored   = "stored"
	StatusNotFound = "not_found"
	StatusFailed   = "failed"
	StatusDropped  = "dropped"
)

// Options configures a Queue.
type Options struct {
	Logger *slog.Logger
	// Workers is the number of concurrent fetches. Defaults to 4.
	Workers int
	// QueueSize bounds pending jobs; Enqueue drops when full. Defaults to 1024.
	QueueSize int
	// FetchTimeout bounds fetch plus store for one job. Defaults to 15s.
	FetchTimeout time.Duration
	// OnResult is called once per job with its outcome.
	OnResult func(status string)
}

// Job identifies a pool and the mint whose metadata it should carry.
type Job struct {
	Pool string
	Mint string
}

// Queue runs metadata jobs on a fixed set of workers.
type Queue struct {
	fetcher Fetcher
	store   storage.PoolStore
	opts    Options

	jobs chan Job

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewQueue creates a queue that fetches with fetcher and writes to store.
func NewQueue(fetcher Fetcher, store storage.PoolStore, opts Options) *Queue {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	return &Queue{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		jobs:    make(chan Job, opts.QueueSize),
		stop:    make(chan struct{}),
	}
}

// Enqueue schedules a fetch for pool. It never blocks and reports false
// when the job was dropped because the queue is full.
func (q *Queue) Enqueue(pool, mint string) bool {
	select {
	case q.jobs <- Job{Pool: pool, Mint: mint}:
		return true
	default:
		q.opts.Logger.Warn("metadata queue full, dropping job",
			slog.String("pool", pool), slog.String("mint", mint))
		q.report(StatusDropped)
		return false
	}
}

// Pending returns the number of queued jobs.
func (q *Queue) Pending() int {
	return len(q.jobs)
}

// Start launches the workers. Workers exit when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.worker(ctx)
		}
	})
}

// Stop signals the workers and waits for in-flight jobs. Queued jobs are discarded.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stop:
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, q.opts.FetchTimeout)
	defer cancel()

	log := q.opts.Logger.With(slog.String("pool", job.Pool), slog.String("mint", job.Mint))

	meta, err := q.fetcher.Fetch(ctx, job.Mint)
	if err != nil {
		log.Warn("fetch token metadata", slog.Any("error", err))
		q.report(StatusFailed)
		return
	}
	if meta == nil {
		log.Debug("no metadata account for mint")
		q.report(StatusNotFound)
		return
	}

	if err := q.store.UpdatePoolMetadata(ctx, job.Pool, meta); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("metadata for unknown pool")
		} else {
			log.Error("store token metadata", slog.Any("error", err))
		}
		q.report(StatusFailed)
		return
	}

	log.Info("token metadata stored", slog.String("name", meta.Name), slog.String("symbol", meta.Symbol))
	q.report(StatusStored)
}

func (q *Queue) report(status string) {
	if q.opts.OnResult != nil {
		q.opts.OnResult(status)
	}
}
