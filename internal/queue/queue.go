// Package queue provides an in-process worker pool with bounded retry and
// per-key duplicate suppression. Retries follow each job's policy and are
// attempted only for errors carrying the transient marker; everything else
// fails the job immediately.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskflow/telegram-bridge/internal/apperr"
)

// RetryPolicy bounds how a job is retried. Backoff holds per-retry delays;
// when attempts outnumber entries the last entry repeats. Timeout, when
// positive, caps each individual attempt.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
	Timeout     time.Duration
}

// Job is one unit of background work.
type Job struct {
	ID     string
	Key    string
	Run    func(ctx context.Context) error
	Policy RetryPolicy
}

// Queue executes jobs on a fixed pool of workers. Jobs sharing a dedup key
// are collapsed: while one is enqueued or running, later duplicates are
// dropped.
type Queue struct {
	jobs   chan Job
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]struct{}

	workers int
	wg      sync.WaitGroup

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New creates a queue with the given worker count and buffer capacity.
func New(workers, capacity int, logger *zap.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		jobs:    make(chan Job, capacity),
		logger:  logger,
		pending: make(map[string]struct{}),
		workers: workers,
		sleep:   time.Sleep,
	}
}

// Start launches the worker pool. Workers exit when the context is
// cancelled or the queue is stopped.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	q.logger.Info("Queue workers started", zap.Int("workers", q.workers))
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (q *Queue) Stop() {
	close(q.jobs)
	q.wg.Wait()
	q.logger.Info("Queue workers stopped")
}

// Enqueue submits a job. Returns false when the job was dropped, either as
// a duplicate or because the queue is full.
func (q *Queue) Enqueue(job Job) bool {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Policy.MaxAttempts <= 0 {
		job.Policy.MaxAttempts = 1
	}

	if job.Key != "" {
		q.mu.Lock()
		if _, dup := q.pending[job.Key]; dup {
			q.mu.Unlock()
			q.logger.Debug("Duplicate job dropped",
				zap.String("job_id", job.ID),
				zap.String("key", job.Key))
			return false
		}
		q.pending[job.Key] = struct{}{}
		q.mu.Unlock()
	}

	select {
	case q.jobs <- job:
		return true
	default:
		q.release(job.Key)
		q.logger.Error("Queue full, job dropped",
			zap.String("job_id", job.ID),
			zap.String("key", job.Key))
		return false
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(ctx, job)
			q.release(job.Key)
		}
	}
}

func (q *Queue) run(ctx context.Context, job Job) {
	var lastErr error

	for attempt := 0; attempt < job.Policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			q.sleep(backoffFor(job.Policy, attempt-1))
			select {
			case <-ctx.Done():
				return
			default:
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if job.Policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, job.Policy.Timeout)
		}
		err := job.Run(attemptCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if attempt > 0 {
				q.logger.Info("Job succeeded after retry",
					zap.String("job_id", job.ID),
					zap.Int("attempt", attempt+1))
			}
			return
		}

		lastErr = err
		if !apperr.IsTransient(err) {
			q.logger.Error("Job failed",
				zap.String("job_id", job.ID),
				zap.String("key", job.Key),
				zap.Bool("permanent", true),
				zap.Error(err))
			return
		}

		q.logger.Warn("Job attempt failed",
			zap.String("job_id", job.ID),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", job.Policy.MaxAttempts),
			zap.Error(err))
	}

	q.logger.Error("Job failed",
		zap.String("job_id", job.ID),
		zap.String("key", job.Key),
		zap.Bool("permanent", true),
		zap.Error(lastErr))
}

func (q *Queue) release(key string) {
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}

func backoffFor(policy RetryPolicy, retry int) time.Duration {
	if len(policy.Backoff) == 0 {
		return time.Second
	}
	if retry >= len(policy.Backoff) {
		retry = len(policy.Backoff) - 1
	}
	return policy.Backoff[retry]
}
