// Package async runs pipeline documents through a bounded worker pool.
package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/finreports/stmtsplit/internal/pipeline"
)

// Job is one source PDF waiting for a worker.
type Job struct {
	SourcePath  string
	SubmittedAt time.Time
	TraceID     string
}

// Runner processes one document to a terminal state.
type Runner interface {
	Process(ctx context.Context, sourcePath string) (*pipeline.Result, error)
}

// Queue accepts jobs and drains them on shutdown.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// DocumentQueue fans jobs out to workers and collects terminal results so a
// batch run can be summarized after Shutdown.
type DocumentQueue struct {
	runner  Runner
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	results []*pipeline.Result
	failed  []string // source paths where the pipeline itself errored
}

type Option func(*DocumentQueue)

func WithWorkers(n int) Option {
	return func(q *DocumentQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *DocumentQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *DocumentQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewDocumentQueue(runner Runner, logger *slog.Logger, opts ...Option) *DocumentQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &DocumentQueue{
		runner:  runner,
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *DocumentQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)

				for job := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					res, err := q.runner.Process(ctx, job.SourcePath)
					cancel()

					q.mu.Lock()
					if err != nil {
						q.failed = append(q.failed, job.SourcePath)
					} else {
						q.results = append(q.results, res)
					}
					q.mu.Unlock()

					if err != nil {
						q.logger.Error("queue.document.error",
							"worker_id", workerID, "source", job.SourcePath, "error", err)
					} else {
						q.logger.Info("queue.document.done",
							"worker_id", workerID, "source", job.SourcePath,
							"final_stage", string(res.FinalStage))
					}
				}

				q.logger.Info("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *DocumentQueue) Enqueue(_ context.Context, job Job) error {
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue.enqueue.rejected", "source", job.SourcePath)
		return nil
	}
	select {
	case q.ch <- job:
		q.logger.Info("queue.enqueued", "source", job.SourcePath)
	default:
		q.logger.Warn("queue.full.backpressure", "source", job.SourcePath)
		q.ch <- job
	}
	return nil
}

// Shutdown closes intake and waits for in-flight documents until ctx expires.
func (q *DocumentQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}

// Results returns terminal results collected so far. Call after Shutdown for
// the complete batch.
func (q *DocumentQueue) Results() []*pipeline.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*pipeline.Result, len(q.results))
	copy(out, q.results)
	return out
}

// FailedSources returns paths whose run errored outside the pipeline's own
// quarantine handling.
func (q *DocumentQueue) FailedSources() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.failed))
	copy(out, q.failed)
	return out
}
