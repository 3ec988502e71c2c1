package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andrej220/httpfuzz/pkg/lg"
)

const (
	TotalMaxWorkers = 10
	maxAttempts     = 3
)

type JobFunc[T any] func(context.Context, T) error

type Job[T any] struct {
	Payload     T
	Fn          JobFunc[T]
	Ctx         context.Context
	CleanupFunc func()
}

// Pool runs submitted jobs on at most maxWorkers goroutines. Failed jobs are retried
// up to maxAttempts times with a linear pause.
type Pool[T any] struct {
	jobs          chan Job[T]
	activeWorkers atomic.Int32
	failed        atomic.Int64
	wg            sync.WaitGroup
	quit          chan struct{}
	stopOnce      sync.Once
	retryPause    time.Duration
	logger        lg.Logger
}

type Option func(*options)

type options struct {
	retryPause time.Duration
}

// WithRetryPause sets the base pause between attempts of a failing job.
func WithRetryPause(d time.Duration) Option {
	return func(o *options) { o.retryPause = d }
}

func NewPool[T any](maxWorkers int, logger lg.Logger, opts ...Option) *Pool[T] {
	o := options{retryPause: time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if maxWorkers <= 0 {
		maxWorkers = TotalMaxWorkers
	}
	if logger == nil {
		logger = lg.Discard
	}
	p := &Pool[T]{
		jobs:       make(chan Job[T], maxWorkers),
		quit:       make(chan struct{}),
		retryPause: o.retryPause,
		logger:     logger,
	}
	p.wg.Add(maxWorkers)
	for i := 0; i < maxWorkers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues job, blocking while every worker is busy. It returns false once the
// pool is stopping or job.Ctx is done.
func (p *Pool[T]) Submit(job Job[T]) bool {
	if job.Ctx == nil {
		job.Ctx = context.Background()
	}
	select {
	case <-p.quit:
		p.logger.Warn("worker pool is shutting down, job rejected", lg.Any("job", job.Payload))
		return false
	default:
	}
	select {
	case p.jobs <- job:
		return true
	case <-job.Ctx.Done():
		return false
	case <-p.quit:
		p.logger.Warn("worker pool is shutting down, job rejected", lg.Any("job", job.Payload))
		return false
	}
}

// Stop lets the queued jobs finish and waits for the workers. It must not run
// concurrently with Submit.
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		close(p.jobs)
	})
	p.wg.Wait()
}

func (p *Pool[T]) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool[T]) run(job Job[T]) {
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)
	if job.CleanupFunc != nil {
		defer job.CleanupFunc()
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = job.Fn(job.Ctx, job.Payload); err == nil {
			return
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-job.Ctx.Done():
			err = job.Ctx.Err()
			attempt = maxAttempts
		case <-time.After(time.Duration(attempt) * p.retryPause):
		}
	}
	p.failed.Add(1)
	p.logger.Error("job failed", lg.Any("job", job.Payload),
		lg.Err(fmt.Errorf("failed after %d attempts: %w", maxAttempts, err)))
}

func (p *Pool[T]) ActiveWorkers() int32 { return p.activeWorkers.Load() }

// Failed counts jobs that exhausted their attempts.
func (p *Pool[T]) Failed() int64 { return p.failed.Load() }
