// Package jobqueue provides background work execution with an in-process
// bounded worker pool and an optional durable layer backed by the jobs
// table. Callers without a queue run work synchronously.
package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/store"
)

// Outcome is what a successful unit of work reports back. Durable jobs
// store all three fields; the config hash drives re-translation detection.
type Outcome struct {
	OutputPath string
	Stats      string
	ConfigHash string
}

// Work is one unit of background work. A nil Outcome is treated as empty.
type Work func(ctx context.Context) (*Outcome, error)

// Queue accepts background work. Enqueue returns a job id; best-effort
// backends may return ids that cannot be queried later.
type Queue interface {
	Enqueue(ctx context.Context, filePath string, work Work) (string, error)
	Stop()
}

// Run executes work through the queue, or synchronously when queue is nil.
func Run(ctx context.Context, queue Queue, filePath string, work Work) (string, error) {
	if queue != nil {
		return queue.Enqueue(ctx, filePath, work)
	}
	id := uuid.NewString()
	if _, err := work(ctx); err != nil {
		return id, err
	}
	return id, nil
}

type task struct {
	id       string
	filePath string
	work     Work
}

// MemoryQueue is a bounded in-process FIFO worker pool. Jobs are lost on
// restart.
type MemoryQueue struct {
	tasks  chan task
	wg     sync.WaitGroup
	logger zerolog.Logger

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
}

// NewMemoryQueue starts workers draining a FIFO of the given capacity.
func NewMemoryQueue(workers, capacity int, logger zerolog.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 2
	}
	if capacity <= 0 {
		capacity = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &MemoryQueue{
		tasks:  make(chan task, capacity),
		logger: logger.With().Str("component", "jobqueue").Logger(),
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for t := range q.tasks {
		if _, err := t.work(ctx); err != nil {
			q.logger.Warn().Err(err).Str("job", t.id).Str("file", t.filePath).Msg("Job failed")
		}
	}
}

// Enqueue adds work to the FIFO. Returns an error when the queue is full or
// stopped.
func (q *MemoryQueue) Enqueue(_ context.Context, filePath string, work Work) (string, error) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return "", fmt.Errorf("queue stopped")
	}
	q.mu.Unlock()

	t := task{id: uuid.NewString(), filePath: filePath, work: work}
	select {
	case q.tasks <- t:
		return t.id, nil
	default:
		return "", fmt.Errorf("queue full")
	}
}

// Stop drains queued work, cancels running work, and waits for workers.
func (q *MemoryQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	close(q.tasks)
	q.cancel()
	q.wg.Wait()
}

// DurableQueue wraps an inner queue with job rows that survive restarts and
// answer status queries.
type DurableQueue struct {
	inner  Queue
	store  *store.Store
	logger zerolog.Logger
}

// NewDurableQueue layers job persistence over an inner queue.
func NewDurableQueue(inner Queue, st *store.Store, logger zerolog.Logger) *DurableQueue {
	return &DurableQueue{
		inner:  inner,
		store:  st,
		logger: logger.With().Str("component", "jobqueue").Logger(),
	}
}

// Enqueue records a queued job row, then submits the work. The job row
// tracks queued -> running -> completed/failed.
func (q *DurableQueue) Enqueue(ctx context.Context, filePath string, work Work) (string, error) {
	id := uuid.NewString()
	if _, err := q.store.CreateJob(ctx, id, filePath); err != nil {
		return "", err
	}

	wrapped := func(workCtx context.Context) (*Outcome, error) {
		if err := q.store.MarkJobRunning(workCtx, id); err != nil {
			q.logger.Warn().Err(err).Str("job", id).Msg("Failed to mark job running")
		}
		out, err := work(workCtx)
		if err != nil {
			if ferr := q.store.FailJob(workCtx, id, err.Error()); ferr != nil {
				q.logger.Warn().Err(ferr).Str("job", id).Msg("Failed to record job failure")
			}
			return out, err
		}
		if out == nil {
			out = &Outcome{}
		}
		if cerr := q.store.CompleteJob(workCtx, id, out.OutputPath, out.Stats, out.ConfigHash); cerr != nil {
			q.logger.Warn().Err(cerr).Str("job", id).Msg("Failed to record job completion")
		}
		return out, nil
	}

	if _, err := q.inner.Enqueue(ctx, filePath, wrapped); err != nil {
		if ferr := q.store.FailJob(ctx, id, err.Error()); ferr != nil {
			q.logger.Warn().Err(ferr).Str("job", id).Msg("Failed to record enqueue failure")
		}
		return "", err
	}
	return id, nil
}

// Status returns the stored job row.
func (q *DurableQueue) Status(ctx context.Context, id string) (*store.Job, error) {
	return q.store.GetJob(ctx, id)
}

// Stop stops the inner queue.
func (q *DurableQueue) Stop() {
	q.inner.Stop()
}
