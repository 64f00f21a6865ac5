package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// HandlerFunc runs one job. The context carries the job timeout.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Worker consumes jobs from a Queue and dispatches them to registered
// handlers, at most MaxWorkers at a time.
type Worker struct {
	queue      *Queue
	handlers   map[string]HandlerFunc
	maxWorkers int
	jobTimeout time.Duration
}

// NewWorker builds a worker over the given queue.
func NewWorker(q *Queue, maxWorkers int, jobTimeout time.Duration) *Worker {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	if jobTimeout <= 0 {
		jobTimeout = time.Hour
	}
	return &Worker{
		queue:      q,
		handlers:   make(map[string]HandlerFunc),
		maxWorkers: maxWorkers,
		jobTimeout: jobTimeout,
	}
}

// Register binds a job function name to its handler.
func (w *Worker) Register(function string, h HandlerFunc) {
	w.handlers[function] = h
}

// Run blocks consuming jobs until ctx is cancelled. Delivery is
// at-least-once: a dequeued job stays on the in-progress list until
// its finish is recorded, and startup recovery re-enqueues whatever a
// crashed worker left there. A replayed run appends duplicate results,
// which the append-only store tolerates.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker starting", "max_workers", w.maxWorkers, "job_timeout", w.jobTimeout)

	if n, err := w.queue.RecoverOrphans(ctx); err != nil {
		slog.Warn("in-progress recovery failed", "error", err)
	} else if n > 0 {
		slog.Info("orphaned jobs re-enqueued", "count", n)
	}

	slots := make(chan struct{}, w.maxWorkers)
	for {
		select {
		case <-ctx.Done():
			// Drain the slots so running jobs finish.
			for i := 0; i < w.maxWorkers; i++ {
				slots <- struct{}{}
			}
			slog.Info("worker stopped")
			return ctx.Err()
		case slots <- struct{}{}:
		}

		job, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			<-slots
			continue
		}

		go func(job *Job) {
			defer func() { <-slots }()
			w.runJob(ctx, job)
		}(job)
	}
}

// RunOne dequeues and runs at most one job. Used by tests and one-shot
// tooling.
func (w *Worker) RunOne(ctx context.Context, wait time.Duration) (bool, error) {
	job, err := w.queue.Dequeue(ctx, wait)
	if err != nil || job == nil {
		return false, err
	}
	w.runJob(ctx, job)
	return true, nil
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	log := slog.With("job_id", job.ID, "function", job.Function)

	if w.queue.aborted(ctx, job.ID) {
		log.Info("job aborted before start")
		w.queue.markFinished(ctx, job, JobFailed, map[string]string{"error": "aborted"})
		w.queue.metrics.RecordDone(job.Function, "aborted", 0)
		return
	}

	handler, ok := w.handlers[job.Function]
	if !ok {
		log.Error("no handler registered")
		w.queue.markFinished(ctx, job, JobFailed,
			map[string]string{"error": fmt.Sprintf("unknown function: %s", job.Function)})
		w.queue.metrics.RecordDone(job.Function, "failed", 0)
		return
	}

	w.queue.markStarted(ctx, job.ID)
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	result, err := handler(jobCtx, job.Args)
	elapsed := time.Since(start)
	if err != nil {
		log.Error("job failed", "error", err, "elapsed", elapsed)
		w.queue.markFinished(ctx, job, JobFailed, map[string]string{"error": err.Error()})
		w.queue.metrics.RecordDone(job.Function, "failed", elapsed.Seconds())
		return
	}

	log.Info("job complete", "elapsed", elapsed)
	w.queue.markFinished(ctx, job, JobComplete, result)
	w.queue.metrics.RecordDone(job.Function, "complete", elapsed.Seconds())
}
