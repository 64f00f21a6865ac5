// Package queue is a durable FIFO job queue over Redis. Jobs carry a
// function name plus a JSON argument object and keep their result for
// a configurable TTL after finishing. Delivery is at least once: a
// dequeued job sits on an in-progress backup list until the worker
// acknowledges it, and jobs a dead worker left behind are re-enqueued
// on the next worker start.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job function names understood by the worker.
const (
	FuncIndividualVerification = "individual_verification"
	FuncBusinessVerification   = "business_verification"
	FuncSingleAgent            = "single_agent"
)

// JobState is the queue-level view of a job, independent of any
// verification row.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobInProgress JobState = "in_progress"
	JobComplete   JobState = "complete"
	JobFailed     JobState = "failed"
	JobNotFound   JobState = "not_found"
)

// Job is the payload pushed onto the queue list.
type Job struct {
	ID       string                 `json:"id"`
	Function string                 `json:"function"`
	Args     map[string]interface{} `json:"args"`

	// raw is the wire payload as it sits on the in-progress list,
	// kept so the acknowledge can LREM the exact entry.
	raw string
}

// JobInfo is what the status endpoint reports for one job.
type JobInfo struct {
	JobID       string      `json:"job_id"`
	Status      JobState    `json:"status"`
	Result      interface{} `json:"result,omitempty"`
	EnqueueTime *time.Time  `json:"enqueue_time,omitempty"`
	StartTime   *time.Time  `json:"start_time,omitempty"`
	FinishTime  *time.Time  `json:"finish_time,omitempty"`
}

// Info is queue-level health reported by the info endpoint.
type Info struct {
	QueueName   string `json:"queue_name"`
	QueuedJobs  int64  `json:"queued_jobs"`
	RedisStatus string `json:"redis_status"`
}

// Options configures a queue client.
type Options struct {
	Addr     string
	Password string
	DB       int

	QueueName  string
	KeepResult time.Duration
}

// Queue is the producer/consumer client over Redis.
type Queue struct {
	rdb        *redis.Client
	name       string
	keepResult time.Duration
	metrics    *Metrics
}

// New connects to Redis and verifies connectivity.
func New(opts Options, metrics *Metrics) (*Queue, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  -1, // blocking pops manage their own deadlines
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", opts.Addr, err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "queue", opts.QueueName)
	return newWithClient(rdb, opts, metrics), nil
}

// NewWithClient wraps an existing go-redis client. Used by tests.
func NewWithClient(rdb *redis.Client, opts Options, metrics *Metrics) *Queue {
	return newWithClient(rdb, opts, metrics)
}

func newWithClient(rdb *redis.Client, opts Options, metrics *Metrics) *Queue {
	name := opts.QueueName
	if name == "" {
		name = "arq:queue"
	}
	keep := opts.KeepResult
	if keep <= 0 {
		keep = 24 * time.Hour
	}
	if metrics == nil {
		metrics = NopMetrics()
	}
	return &Queue{rdb: rdb, name: name, keepResult: keep, metrics: metrics}
}

func (q *Queue) Close() error { return q.rdb.Close() }

// Ping reports broker connectivity for health checks.
func (q *Queue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

func (q *Queue) jobKey(id string) string { return "arq:job:" + id }
func (q *Queue) abortKey() string        { return "arq:abort" }
func (q *Queue) inProgressKey() string   { return q.name + ":in-progress" }

// Enqueue pushes a job and records its queued state. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, function string, args map[string]interface{}) (string, error) {
	job := Job{ID: uuid.NewString(), Function: function, Args: args}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	now := time.Now().UTC()
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]interface{}{
		"function":     function,
		"status":       string(JobQueued),
		"enqueue_time": now.Format(time.RFC3339Nano),
	})
	pipe.LPush(ctx, q.name, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", function, err)
	}

	q.metrics.RecordEnqueued(function)
	slog.Info("job enqueued", "job_id", job.ID, "function", function)
	return job.ID, nil
}

// Dequeue blocks up to timeout for the next job. Returns (nil, nil)
// when the wait times out with an empty queue. The payload moves to
// the in-progress list atomically, so a worker crash before
// markFinished leaves it recoverable rather than lost.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	raw, err := q.rdb.BLMove(ctx, q.name, q.inProgressKey(), "RIGHT", "LEFT", timeout).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("blmove %s: %w", q.name, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.rdb.LRem(ctx, q.inProgressKey(), 1, raw)
		return nil, fmt.Errorf("decode job payload: %w", err)
	}
	job.raw = raw
	return &job, nil
}

// RecoverOrphans re-enqueues jobs left on the in-progress list by a
// worker that died before acknowledging them. Returns the number
// moved back. A job already running on a live worker may be replayed;
// the append-only result store tolerates the duplicate run.
func (q *Queue) RecoverOrphans(ctx context.Context) (int, error) {
	n := 0
	for {
		raw, err := q.rdb.LMove(ctx, q.inProgressKey(), q.name, "RIGHT", "RIGHT").Result()
		if err == redis.Nil {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover in-progress jobs: %w", err)
		}
		n++

		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err == nil {
			q.rdb.HSet(ctx, q.jobKey(job.ID), "status", string(JobQueued))
			slog.Warn("orphaned job re-enqueued", "job_id", job.ID, "function", job.Function)
		}
	}
}

// markStarted records pickup time and in_progress state.
func (q *Queue) markStarted(ctx context.Context, jobID string) {
	err := q.rdb.HSet(ctx, q.jobKey(jobID), map[string]interface{}{
		"status":     string(JobInProgress),
		"start_time": time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		slog.Warn("failed to mark job started", "job_id", jobID, "error", err)
	}
}

// markFinished records the terminal job state and result, expires the
// job key after the keep-result TTL, and acknowledges the job by
// dropping its in-progress backup entry.
func (q *Queue) markFinished(ctx context.Context, job *Job, state JobState, result interface{}) {
	fields := map[string]interface{}{
		"status":      string(state),
		"finish_time": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if result != nil {
		if raw, err := json.Marshal(result); err == nil {
			fields["result"] = string(raw)
		}
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), fields)
	pipe.Expire(ctx, q.jobKey(job.ID), q.keepResult)
	if job.raw != "" {
		pipe.LRem(ctx, q.inProgressKey(), 1, job.raw)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("failed to mark job finished", "job_id", job.ID, "error", err)
	}
}

// JobStatus reports a job's queue-level state. Unknown or expired job
// ids return status not_found.
func (q *Queue) JobStatus(ctx context.Context, jobID string) (*JobInfo, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("job status %s: %w", jobID, err)
	}
	if len(fields) == 0 {
		return &JobInfo{JobID: jobID, Status: JobNotFound}, nil
	}

	info := &JobInfo{JobID: jobID, Status: JobState(fields["status"])}
	info.EnqueueTime = parseJobTime(fields["enqueue_time"])
	info.StartTime = parseJobTime(fields["start_time"])
	info.FinishTime = parseJobTime(fields["finish_time"])
	if raw := fields["result"]; raw != "" {
		var result interface{}
		if err := json.Unmarshal([]byte(raw), &result); err == nil {
			info.Result = result
		} else {
			info.Result = raw
		}
	}
	return info, nil
}

// Abort requests best-effort cancellation of a queued or running job.
// A running workflow may still complete its current agent.
func (q *Queue) Abort(ctx context.Context, jobID string) error {
	if err := q.rdb.SAdd(ctx, q.abortKey(), jobID).Err(); err != nil {
		return fmt.Errorf("abort %s: %w", jobID, err)
	}
	return nil
}

func (q *Queue) aborted(ctx context.Context, jobID string) bool {
	ok, err := q.rdb.SIsMember(ctx, q.abortKey(), jobID).Result()
	return err == nil && ok
}

// QueueInfo reports queue length and broker health.
func (q *Queue) QueueInfo(ctx context.Context) (*Info, error) {
	length, err := q.rdb.LLen(ctx, q.name).Result()
	status := "connected"
	if err != nil {
		status = "error"
		length = -1
	}
	q.metrics.SetQueueDepth(float64(length))
	return &Info{QueueName: q.name, QueuedJobs: length, RedisStatus: status}, nil
}

func parseJobTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}
