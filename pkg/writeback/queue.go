// Package writeback runs side effects (durable writes, ban sync) off the
// registry's critical section. Submitting never blocks; each job is retried
// with exponential backoff and dropped with an error log once attempts run out.
package writeback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueFull is returned by Submit when the buffer is saturated.
var ErrQueueFull = errors.New("writeback: queue full")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("writeback: queue closed")

// Job is one side effect. It must be safe to run more than once.
type Job func(ctx context.Context) error

// Options tunes a Queue.
type Options struct {
	Buffer       int           // pending jobs before Submit fails (default 1024)
	MaxAttempts  int           // tries per job (default 5)
	InitialDelay time.Duration // first retry delay (default 200ms)
	MaxDelay     time.Duration // retry delay cap (default 30s)
	JobTimeout   time.Duration // per-attempt timeout (default 10s)
	Logger       *slog.Logger  // default slog.Default()
}

type task struct {
	name string
	job  Job
}

// Stats are lifetime counters for a queue.
type Stats struct {
	Submitted int64
	Completed int64
	Retried   int64
	Failed    int64
	Dropped   int64
}

// Queue executes jobs sequentially, in submission order, on one goroutine.
type Queue struct {
	opts   Options
	tasks  chan task
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool

	submitted atomic.Int64
	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// New creates a Queue and starts its worker.
func New(opts Options) *Queue {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = 200 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		tasks:  make(chan task, opts.Buffer),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Submit enqueues a job without blocking.
func (q *Queue) Submit(name string, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- task{name: name, job: job}:
		q.submitted.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		q.opts.Logger.Error("writeback queue full, dropping job", "job", name)
		return ErrQueueFull
	}
}

// Close stops accepting jobs, drains what is queued and waits for the worker.
// If ctx ends first, in-flight retries are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.tasks)
		q.mu.Unlock()
	})
	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

// Flush blocks until every job submitted before the call has finished.
func (q *Queue) Flush(ctx context.Context) error {
	marker := make(chan struct{})
	if err := q.Submit("flush", func(context.Context) error {
		close(marker)
		return nil
	}); err != nil {
		return err
	}
	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Completed: q.completed.Load(),
		Retried:   q.retried.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for t := range q.tasks {
		q.execute(t)
	}
}

func (q *Queue) execute(t task) {
	b := &Backoff{Duration: q.opts.InitialDelay, MaxDuration: q.opts.MaxDelay}
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(q.ctx, q.opts.JobTimeout)
		err := t.job(ctx)
		cancel()
		if err == nil {
			q.completed.Add(1)
			return
		}
		if attempt >= q.opts.MaxAttempts {
			q.failed.Add(1)
			q.opts.Logger.Error("writeback job failed", "job", t.name, "attempts", attempt, "err", err)
			return
		}
		q.retried.Add(1)
		q.opts.Logger.Warn("writeback job retrying", "job", t.name, "attempt", attempt, "err", err)
		if !b.Sleep(q.ctx) {
			q.failed.Add(1)
			q.opts.Logger.Error("writeback job abandoned", "job", t.name, "err", err)
			return
		}
	}
}
