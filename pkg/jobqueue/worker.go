package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dataview/dataview/pkg/dataerr"
	"github.com/dataview/dataview/pkg/logging"
)

// Action executes one job's work. An error that dataerr.IsTransient does
// not classify as transient routes straight to the dead letter queue
// instead of the retry path.
type Action func(ctx context.Context, job Job) error

// WorkerMetrics counts what the worker pool observed, read-only
// snapshots exposed for the metrics registry.
type WorkerMetrics struct {
	Succeeded    atomic.Int64
	Retried      atomic.Int64
	DeadLettered atomic.Int64
}

// Pool is a bounded number of worker goroutines pulling batches from a
// Queue, executing actions with a per-job timeout, and
// acknowledging/failing accordingly.
type Pool struct {
	queue    Queue
	action   Action
	workers  int
	batch    int
	visibility time.Duration
	jobTimeout time.Duration
	pollInterval time.Duration
	log      logging.Logger

	metrics WorkerMetrics
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Workers           int
	BatchSize         int
	VisibilityTimeout time.Duration
	JobTimeout        time.Duration
	PollInterval      time.Duration
	Logger            logging.Logger
}

// NewPool constructs a worker pool over queue, running action for each
// dequeued job.
func NewPool(queue Queue, action Action, opts PoolOptions) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 30 * time.Second
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	return &Pool{
		queue: queue, action: action,
		workers: opts.Workers, batch: opts.BatchSize,
		visibility: opts.VisibilityTimeout, jobTimeout: opts.JobTimeout,
		pollInterval: opts.PollInterval, log: log,
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled,
// at which point every worker finishes its in-flight job and returns.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := p.queue.Dequeue(ctx, p.batch, p.visibility)
			if err != nil {
				p.log.Warn("worker %d dequeue failed: %v", id, err)
				continue
			}
			for _, job := range jobs {
				p.execute(ctx, job)
			}
		}
	}
}

func (p *Pool) execute(ctx context.Context, job Job) {
	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	err := p.runWithRecover(jobCtx, job)
	if err == nil {
		if ackErr := p.queue.Acknowledge(ctx, job.ID); ackErr != nil {
			p.log.Error("acknowledge failed for job %s: %v", job.ID, ackErr)
			return
		}
		p.metrics.Succeeded.Add(1)
		return
	}

	permanent := !dataerr.IsTransient(err)
	if permanent || job.Attempt+1 >= job.MaxAttempts {
		p.metrics.DeadLettered.Add(1)
	} else {
		p.metrics.Retried.Add(1)
	}
	if permanent {
		// Cap the ceiling at this attempt so Fail dead-letters the job now.
		job.MaxAttempts = job.Attempt + 1
	}
	if failErr := p.queue.Fail(ctx, job, err); failErr != nil {
		p.log.Error("fail bookkeeping failed for job %s: %v", job.ID, failErr)
	}
}

func (p *Pool) runWithRecover(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &dataerr.InternalError{
				Error: dataerr.Error{Op: "jobqueue.Pool.execute", Kind: dataerr.KindInternal, Err: fmt.Errorf("%v", r)},
			}
		}
	}()
	return p.action(ctx, job)
}

// Metrics returns a snapshot of the pool's success/retry/dead-letter
// counters.
func (p *Pool) Metrics() (succeeded, retried, deadLettered int64) {
	return p.metrics.Succeeded.Load(), p.metrics.Retried.Load(), p.metrics.DeadLettered.Load()
}
